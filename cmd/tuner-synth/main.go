package main

import (
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/frankyzip/AurisPianoTuner-measure/internal/fitcommon"
	"github.com/frankyzip/AurisPianoTuner-measure/notesynth"
	"github.com/frankyzip/AurisPianoTuner-measure/tuning"
)

func main() {
	cfg := notesynth.DefaultConfig()

	output := flag.String("output", "out/note_96k.wav", "Output WAV path")
	midi := flag.Int("midi", 48, "MIDI note (sets the fundamental; 0 uses --f0 as-is)")
	f0 := flag.Float64("f0", 0, "Explicit fundamental in Hz (overrides --midi)")
	b := flag.Float64("b", -1, "Inharmonicity coefficient (negative uses the register typical)")
	flag.IntVar(&cfg.SampleRate, "sample-rate", cfg.SampleRate, "Output sample rate")
	flag.Float64Var(&cfg.DurationS, "duration", cfg.DurationS, "Note length in seconds")
	flag.Float64Var(&cfg.SilenceS, "silence", cfg.SilenceS, "Leading silence in seconds")
	flag.IntVar(&cfg.Partials, "partials", cfg.Partials, "Number of partials")
	flag.Float64Var(&cfg.FalloffDB, "falloff", cfg.FalloffDB, "Level drop per partial in dB")
	flag.Float64Var(&cfg.DecayS, "decay", cfg.DecayS, "Amplitude decay time in seconds")
	flag.Float64Var(&cfg.NoiseLevel, "noise", cfg.NoiseLevel, "Gaussian noise RMS")
	flag.Float64Var(&cfg.Amplitude, "amplitude", cfg.Amplitude, "First-partial amplitude")
	flag.Float64Var(&cfg.NormalizePeak, "normalize", cfg.NormalizePeak, "Peak normalization target (0 = off)")
	flag.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed")
	flag.Parse()

	switch {
	case *f0 > 0:
		cfg.F0 = *f0
	case *midi >= tuning.MidiLow && *midi <= tuning.MidiHigh:
		cfg.F0 = tuning.MidiToFrequency(*midi)
	default:
		die("invalid --midi %d (piano range %d..%d, or pass --f0)", *midi, tuning.MidiLow, tuning.MidiHigh)
	}
	if *b >= 0 {
		cfg.Inharmonicity = *b
	} else if *midi >= tuning.MidiLow && *midi <= tuning.MidiHigh {
		cfg.Inharmonicity = tuning.TypicalInharmonicity(*midi)
	}

	samples, err := notesynth.Generate(cfg)
	if err != nil {
		die("tuner-synth error: %v", err)
	}
	if err := fitcommon.WriteMonoWAV(*output, samples, cfg.SampleRate); err != nil {
		die("wav write error: %v", err)
	}

	peak, rms := stats(samples)
	fmt.Printf("Wrote %s\n", *output)
	fmt.Printf("F0: %.3f Hz, B: %.2e, Partials: %d, SampleRate: %d Hz\n",
		cfg.F0, cfg.Inharmonicity, cfg.Partials, cfg.SampleRate)
	fmt.Printf("Samples: %d, Peak: %.6f, RMS: %.6f\n", len(samples), peak, rms)
}

func stats(samples []float32) (peak float64, rms float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range samples {
		f := float64(v)
		if a := math.Abs(f); a > peak {
			peak = a
		}
		sum += f * f
	}
	return peak, math.Sqrt(sum / float64(len(samples)))
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
