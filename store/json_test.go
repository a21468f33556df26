package store

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/frankyzip/AurisPianoTuner-measure/analyzer"
	"github.com/frankyzip/AurisPianoTuner-measure/tuning"
)

func sampleSet(t *testing.T) *MeasurementSet {
	t.Helper()
	set := NewMeasurementSet(tuning.Metadata{
		Type:           tuning.PianoParlorGrand,
		LengthCM:       185,
		ScaleBreakMidi: 44,
	})
	set.Put(analyzer.NoteMeasurement{
		MidiIndex:             48,
		NoteName:              "C3",
		TargetFrequency:       130.8127826502993,
		Fundamental:           130.8345,
		Inharmonicity:         3.05e-4,
		MeasuredPartialNumber: 2,
		Quality:               analyzer.QualityGreen,
		Partials: []analyzer.PartialResult{
			{Number: 1, FrequencyHz: 130.85, AmplitudeDB: -12.4},
			{Number: 2, FrequencyHz: 261.86, AmplitudeDB: -15.2},
			{Number: 3, FrequencyHz: 393.12, AmplitudeDB: -18.9},
		},
		MeasuredAt: time.Date(2026, 8, 1, 10, 15, 0, 0, time.UTC),
	})
	set.Put(analyzer.NoteMeasurement{
		MidiIndex:             69,
		NoteName:              "A4",
		TargetFrequency:       440,
		Fundamental:           440.01,
		Inharmonicity:         1.5e-4,
		MeasuredPartialNumber: 1,
		Quality:               analyzer.QualityOrange,
		Partials: []analyzer.PartialResult{
			{Number: 1, FrequencyHz: 440.01, AmplitudeDB: -1.2},
		},
		MeasuredAt: time.Date(2026, 8, 1, 10, 16, 30, 123456789, time.UTC),
	})
	return set
}

func relClose(a, b float64) bool {
	if a == b {
		return true
	}
	den := math.Max(math.Abs(a), math.Abs(b))
	return math.Abs(a-b)/den < 1e-6
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "measurements.json")
	want := sampleSet(t)

	if err := Save(path, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got.Piano != want.Piano {
		t.Fatalf("piano metadata: %+v != %+v", got.Piano, want.Piano)
	}
	if len(got.Notes) != len(want.Notes) {
		t.Fatalf("note count %d != %d", len(got.Notes), len(want.Notes))
	}
	for midi, w := range want.Notes {
		g, ok := got.Notes[midi]
		if !ok {
			t.Fatalf("missing note %d", midi)
		}
		if g.MidiIndex != w.MidiIndex || g.NoteName != w.NoteName ||
			g.MeasuredPartialNumber != w.MeasuredPartialNumber || g.Quality != w.Quality {
			t.Fatalf("note %d metadata mismatch: %+v != %+v", midi, g, w)
		}
		if !relClose(g.TargetFrequency, w.TargetFrequency) ||
			!relClose(g.Fundamental, w.Fundamental) ||
			!relClose(g.Inharmonicity, w.Inharmonicity) {
			t.Fatalf("note %d float mismatch: %+v != %+v", midi, g, w)
		}
		if !g.MeasuredAt.Equal(w.MeasuredAt) {
			t.Fatalf("note %d timestamp %v != %v", midi, g.MeasuredAt, w.MeasuredAt)
		}
		if len(g.Partials) != len(w.Partials) {
			t.Fatalf("note %d partial count mismatch", midi)
		}
		for i := range g.Partials {
			if g.Partials[i].Number != w.Partials[i].Number ||
				!relClose(g.Partials[i].FrequencyHz, w.Partials[i].FrequencyHz) ||
				!relClose(g.Partials[i].AmplitudeDB, w.Partials[i].AmplitudeDB) {
				t.Fatalf("note %d partial %d mismatch", midi, i)
			}
		}
	}
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "measurements.json")
	if err := Save(path, sampleSet(t)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	doc["schema_version"] = "2.0"
	b, err = json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := Load(path); !errors.Is(err, ErrSchemaVersion) {
		t.Fatalf("expected ErrSchemaVersion, got %v", err)
	}
}

func TestLoadAcceptsStudioAlias(t *testing.T) {
	path := filepath.Join(t.TempDir(), "measurements.json")
	doc := `{
  "schema_version": "1.1",
  "piano": {"type": "Studio", "length_cm": 110, "scale_break_midi": 50},
  "measurements": {}
}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	set, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if set.Piano.Type != tuning.PianoConsole {
		t.Fatalf("Studio alias: %v", set.Piano.Type)
	}
}

func TestLoadRejectsCorruptDocuments(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"bad-json":     `{`,
		"bad-key":      `{"schema_version":"1.1","piano":{"type":"Console","length_cm":110,"scale_break_midi":50},"measurements":{"x":{"midi_index":1,"quality":"red","measured_at":"2026-08-01T00:00:00Z"}}}`,
		"key-mismatch": `{"schema_version":"1.1","piano":{"type":"Console","length_cm":110,"scale_break_midi":50},"measurements":{"60":{"midi_index":61,"quality":"red","measured_at":"2026-08-01T00:00:00Z"}}}`,
		"bad-quality":  `{"schema_version":"1.1","piano":{"type":"Console","length_cm":110,"scale_break_midi":50},"measurements":{"60":{"midi_index":60,"quality":"purple","measured_at":"2026-08-01T00:00:00Z"}}}`,
		"bad-time":     `{"schema_version":"1.1","piano":{"type":"Console","length_cm":110,"scale_break_midi":50},"measurements":{"60":{"midi_index":60,"quality":"red","measured_at":"yesterday"}}}`,
		"bad-partials": `{"schema_version":"1.1","piano":{"type":"Console","length_cm":110,"scale_break_midi":50},"measurements":{"60":{"midi_index":60,"quality":"red","measured_at":"2026-08-01T00:00:00Z","detected_partials":[{"n":2,"frequency":100,"amplitude":-10},{"n":1,"frequency":50,"amplitude":-10}]}}}`,
	}
	for name, doc := range cases {
		path := filepath.Join(dir, name+".json")
		if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		if _, err := Load(path); err == nil {
			t.Fatalf("%s: corrupt document accepted", name)
		}
	}
}
