// Package store persists a set of per-note measurements with the piano
// metadata as a versioned JSON document.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/frankyzip/AurisPianoTuner-measure/analyzer"
	"github.com/frankyzip/AurisPianoTuner-measure/tuning"
)

// SchemaVersion is the on-disk document version.
const SchemaVersion = "1.1"

// ErrSchemaVersion is returned when a document carries an unknown version.
var ErrSchemaVersion = errors.New("store: unsupported schema version")

// MeasurementSet is a session's worth of measurements keyed by MIDI index.
type MeasurementSet struct {
	Piano tuning.Metadata
	Notes map[int]analyzer.NoteMeasurement
}

// NewMeasurementSet creates an empty set for the given piano.
func NewMeasurementSet(piano tuning.Metadata) *MeasurementSet {
	return &MeasurementSet{
		Piano: piano,
		Notes: make(map[int]analyzer.NoteMeasurement),
	}
}

// Put stores or replaces the measurement for its MIDI index.
func (s *MeasurementSet) Put(m analyzer.NoteMeasurement) {
	if s.Notes == nil {
		s.Notes = make(map[int]analyzer.NoteMeasurement)
	}
	s.Notes[m.MidiIndex] = m
}

// File is the JSON schema of a measurement document.
//
// Piano type names are the canonical categories; "Studio" is additionally
// accepted on load as an alias of "Console" (the source material collapses
// studio uprights onto the console category).
type File struct {
	SchemaVersion string                `json:"schema_version"`
	Piano         PianoInfo             `json:"piano"`
	Measurements  map[string]NoteRecord `json:"measurements"`
}

type PianoInfo struct {
	Type           string  `json:"type"`
	LengthCM       float64 `json:"length_cm"`
	ScaleBreakMidi int     `json:"scale_break_midi"`
}

type NoteRecord struct {
	MidiIndex             int             `json:"midi_index"`
	NoteName              string          `json:"note_name"`
	TargetFrequency       float64         `json:"target_frequency"`
	CalculatedFundamental float64         `json:"calculated_fundamental"`
	Inharmonicity         float64         `json:"inharmonicity_coefficient"`
	MeasuredPartialNumber int             `json:"measured_partial_number"`
	Quality               string          `json:"quality"`
	DetectedPartials      []PartialRecord `json:"detected_partials"`
	MeasuredAt            string          `json:"measured_at"`
}

type PartialRecord struct {
	N         int     `json:"n"`
	Frequency float64 `json:"frequency"`
	Amplitude float64 `json:"amplitude"`
}

// Save writes the set to path, creating parent directories as needed.
func Save(path string, set *MeasurementSet) error {
	if set == nil {
		return fmt.Errorf("store: nil measurement set")
	}

	f := File{
		SchemaVersion: SchemaVersion,
		Piano: PianoInfo{
			Type:           set.Piano.Type.String(),
			LengthCM:       set.Piano.LengthCM,
			ScaleBreakMidi: set.Piano.ScaleBreakMidi,
		},
		Measurements: make(map[string]NoteRecord, len(set.Notes)),
	}
	for midi, m := range set.Notes {
		f.Measurements[strconv.Itoa(midi)] = encodeNote(m)
	}

	b, err := json.MarshalIndent(&f, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, b, 0o644)
}

// Load reads a measurement document from path.
func Load(path string) (*MeasurementSet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f File
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	if f.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: %q", ErrSchemaVersion, f.SchemaVersion)
	}

	pianoType, err := tuning.ParsePianoType(f.Piano.Type)
	if err != nil {
		return nil, err
	}
	set := NewMeasurementSet(tuning.Metadata{
		Type:           pianoType,
		LengthCM:       f.Piano.LengthCM,
		ScaleBreakMidi: f.Piano.ScaleBreakMidi,
	})

	keys := make([]string, 0, len(f.Measurements))
	for k := range f.Measurements {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		midi, err := strconv.Atoi(k)
		if err != nil || midi < 0 || midi > 127 {
			return nil, fmt.Errorf("store: invalid measurement key %q (expected MIDI 0..127)", k)
		}
		m, err := decodeNote(f.Measurements[k])
		if err != nil {
			return nil, fmt.Errorf("store: measurement %q: %w", k, err)
		}
		if m.MidiIndex != midi {
			return nil, fmt.Errorf("store: measurement key %q does not match midi_index %d", k, m.MidiIndex)
		}
		set.Notes[midi] = m
	}
	return set, nil
}

func encodeNote(m analyzer.NoteMeasurement) NoteRecord {
	rec := NoteRecord{
		MidiIndex:             m.MidiIndex,
		NoteName:              m.NoteName,
		TargetFrequency:       m.TargetFrequency,
		CalculatedFundamental: m.Fundamental,
		Inharmonicity:         m.Inharmonicity,
		MeasuredPartialNumber: m.MeasuredPartialNumber,
		Quality:               m.Quality.String(),
		DetectedPartials:      make([]PartialRecord, 0, len(m.Partials)),
		MeasuredAt:            m.MeasuredAt.UTC().Format(time.RFC3339Nano),
	}
	for _, p := range m.Partials {
		rec.DetectedPartials = append(rec.DetectedPartials, PartialRecord{
			N:         p.Number,
			Frequency: p.FrequencyHz,
			Amplitude: p.AmplitudeDB,
		})
	}
	return rec
}

func decodeNote(rec NoteRecord) (analyzer.NoteMeasurement, error) {
	quality, err := parseQuality(rec.Quality)
	if err != nil {
		return analyzer.NoteMeasurement{}, err
	}
	at, err := time.Parse(time.RFC3339Nano, rec.MeasuredAt)
	if err != nil {
		return analyzer.NoteMeasurement{}, fmt.Errorf("invalid measured_at %q: %w", rec.MeasuredAt, err)
	}

	m := analyzer.NoteMeasurement{
		MidiIndex:             rec.MidiIndex,
		NoteName:              rec.NoteName,
		TargetFrequency:       rec.TargetFrequency,
		Fundamental:           rec.CalculatedFundamental,
		Inharmonicity:         rec.Inharmonicity,
		MeasuredPartialNumber: rec.MeasuredPartialNumber,
		Quality:               quality,
		Partials:              make([]analyzer.PartialResult, 0, len(rec.DetectedPartials)),
		MeasuredAt:            at,
	}
	prev := 0
	for _, p := range rec.DetectedPartials {
		if p.N <= prev {
			return analyzer.NoteMeasurement{}, fmt.Errorf("partials not strictly increasing at n=%d", p.N)
		}
		prev = p.N
		m.Partials = append(m.Partials, analyzer.PartialResult{
			Number:      p.N,
			FrequencyHz: p.Frequency,
			AmplitudeDB: p.Amplitude,
		})
	}
	return m, nil
}

func parseQuality(s string) (analyzer.Quality, error) {
	switch s {
	case "green":
		return analyzer.QualityGreen, nil
	case "orange":
		return analyzer.QualityOrange, nil
	case "red":
		return analyzer.QualityRed, nil
	default:
		return 0, fmt.Errorf("unknown quality %q", s)
	}
}
