package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/frankyzip/AurisPianoTuner-measure/analyzer"
	"github.com/frankyzip/AurisPianoTuner-measure/capture"
	"github.com/frankyzip/AurisPianoTuner-measure/store"
	"github.com/frankyzip/AurisPianoTuner-measure/tuning"
)

// pianoFile is the YAML piano description read via --piano.
type pianoFile struct {
	Type           string  `yaml:"type"`
	LengthCM       float64 `yaml:"length_cm"`
	ScaleBreakMidi int     `yaml:"scale_break_midi"`
}

func main() {
	input := flag.String("input", "", "WAV recording of a single struck note (required)")
	pianoPath := flag.String("piano", "", "Piano description YAML (type, length_cm, scale_break_midi)")
	midi := flag.Int("midi", 0, "Target MIDI note 21..108 (required)")
	output := flag.String("output", "", "Measurement document JSON to create or update")
	blockSize := flag.Int("block-size", 2048, "Delivery block size in samples")
	verbose := flag.Bool("verbose", false, "Print every frame measurement")
	flag.Parse()

	if *input == "" {
		die("--input is required")
	}
	if *midi < tuning.MidiLow || *midi > tuning.MidiHigh {
		die("--midi %d out of piano range %d..%d", *midi, tuning.MidiLow, tuning.MidiHigh)
	}

	a, err := analyzer.New()
	if err != nil {
		die("analyzer setup: %v", err)
	}

	var meta tuning.Metadata
	haveMeta := false
	if *pianoPath != "" {
		meta, err = loadPiano(*pianoPath)
		if err != nil {
			die("piano description: %v", err)
		}
		if err := a.SetPianoMetadata(meta); err != nil {
			die("piano description: %v", err)
		}
		haveMeta = true
	}

	if err := a.SetTargetNote(*midi, tuning.MidiToFrequency(*midi)); err != nil {
		die("target note: %v", err)
	}

	var best *analyzer.NoteMeasurement
	frames := 0
	a.OnMeasurementUpdated = func(m analyzer.NoteMeasurement) {
		frames++
		best = &m
		if *verbose {
			fmt.Printf("frame %d: f0=%.3f Hz B=%.2e partials=%d quality=%s\n",
				frames, m.Fundamental, m.Inharmonicity, len(m.Partials), m.Quality)
		}
	}
	a.OnAutoStopped = func(m analyzer.NoteMeasurement) {
		best = &m
		fmt.Printf("auto-stopped after %d frames\n", frames)
	}

	src, err := capture.OpenFile(*input)
	if err != nil {
		die("open recording: %v", err)
	}
	if err := src.Run(*blockSize, a.ProcessAudioBuffer); err != nil {
		die("replay: %v", err)
	}

	if best == nil {
		die("no measurement captured: no attack detected or too few partials")
	}

	m := *best
	fmt.Printf("\n%s (MIDI %d)\n", m.NoteName, m.MidiIndex)
	fmt.Printf("  fundamental:    %.3f Hz (%+.1f cents)\n",
		m.Fundamental, tuning.FrequencyToCents(m.Fundamental, m.TargetFrequency))
	fmt.Printf("  inharmonicity:  %.3e (anchor partial %d)\n", m.Inharmonicity, m.MeasuredPartialNumber)
	fmt.Printf("  quality:        %s, %d partials\n", m.Quality, len(m.Partials))
	for _, p := range m.Partials {
		fmt.Printf("    n=%-2d %9.3f Hz  %6.1f dB\n", p.Number, p.FrequencyHz, p.AmplitudeDB)
	}

	if *output == "" {
		return
	}
	set, err := store.Load(*output)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			die("load measurement document: %v", err)
		}
		if !haveMeta {
			meta = tuning.Metadata{Type: tuning.PianoUnknown, LengthCM: 150, ScaleBreakMidi: 44}
		}
		set = store.NewMeasurementSet(meta)
	}
	set.Put(m)
	if err := store.Save(*output, set); err != nil {
		die("save measurement document: %v", err)
	}
	fmt.Printf("\nWrote %s (%d notes)\n", *output, len(set.Notes))
}

func loadPiano(path string) (tuning.Metadata, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return tuning.Metadata{}, err
	}
	var f pianoFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return tuning.Metadata{}, err
	}
	pianoType, err := tuning.ParsePianoType(f.Type)
	if err != nil {
		return tuning.Metadata{}, err
	}
	meta := tuning.Metadata{
		Type:           pianoType,
		LengthCM:       f.LengthCM,
		ScaleBreakMidi: f.ScaleBreakMidi,
	}
	return meta, meta.Validate()
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
