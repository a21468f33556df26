// Package notesynth renders synthetic piano-like test notes: a stack of
// inharmonic partials with per-partial level falloff, an exponential decay
// envelope, and optional leading silence and background noise. It exists so
// the measurement pipeline can be exercised against signals with exactly
// known fundamental and inharmonicity.
package notesynth

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/algo-approx"
)

// Config controls synthetic note generation.
type Config struct {
	SampleRate int
	DurationS  float64
	SilenceS   float64 // leading silence before the onset
	Seed       int64

	F0            float64 // fundamental of the inharmonic series, Hz
	Inharmonicity float64 // stiff-string coefficient B
	Partials      int
	FalloffDB     float64 // level drop per successive partial
	// PartialGainsDB, when non-empty, gives each partial an explicit level
	// relative to Amplitude and overrides Partials/FalloffDB. Entry k is the
	// gain of partial k+1 in dB.
	PartialGainsDB []float64
	DecayS        float64 // amplitude e-folding time of the note
	NoiseLevel    float64 // gaussian noise RMS added over the whole buffer

	Amplitude     float64 // peak amplitude of the first partial
	NormalizePeak float64 // overall peak target; 0 = no normalization
}

// DefaultConfig returns a mid-keyboard test note.
func DefaultConfig() Config {
	return Config{
		SampleRate:    96000,
		DurationS:     2.0,
		SilenceS:      0.2,
		Seed:          1,
		F0:            220.0,
		Inharmonicity: 2e-4,
		Partials:      10,
		FalloffDB:     3.0,
		DecayS:        1.5,
		NoiseLevel:    0.0,
		Amplitude:     0.5,
		NormalizePeak: 0.0,
	}
}

func (c *Config) Validate() error {
	if c.SampleRate < 8000 {
		return fmt.Errorf("sample rate too low: %d", c.SampleRate)
	}
	if c.DurationS <= 0 {
		return fmt.Errorf("duration must be > 0")
	}
	if c.SilenceS < 0 {
		return fmt.Errorf("silence must be >= 0")
	}
	if c.F0 <= 0 {
		return fmt.Errorf("fundamental must be > 0")
	}
	if c.Inharmonicity < 0 {
		return fmt.Errorf("inharmonicity must be >= 0")
	}
	if c.Partials < 1 {
		return fmt.Errorf("partials must be >= 1")
	}
	if c.FalloffDB < 0 {
		return fmt.Errorf("falloff must be >= 0")
	}
	if c.DecayS <= 0 {
		return fmt.Errorf("decay must be > 0")
	}
	if c.NoiseLevel < 0 {
		return fmt.Errorf("noise level must be >= 0")
	}
	if c.Amplitude <= 0 {
		return fmt.Errorf("amplitude must be > 0")
	}
	if c.NormalizePeak < 0 {
		return fmt.Errorf("normalize peak must be >= 0")
	}
	return nil
}

// Generate synthesizes the note. The result is deterministic for a given
// config, including its noise component.
func Generate(cfg Config) ([]float32, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	silence := int(math.Round(cfg.SilenceS * float64(cfg.SampleRate)))
	tone := int(math.Round(cfg.DurationS * float64(cfg.SampleRate)))
	if tone < 1 {
		tone = 1
	}
	buf := make([]float64, silence+tone)
	note := buf[silence:]

	rng := rand.New(rand.NewSource(cfg.Seed))
	nyquist := 0.5 * float64(cfg.SampleRate)
	decay := math.Exp(-1.0 / (cfg.DecayS * float64(cfg.SampleRate)))

	partials := cfg.Partials
	if len(cfg.PartialGainsDB) > 0 {
		partials = len(cfg.PartialGainsDB)
	}
	for n := 1; n <= partials; n++ {
		nf := float64(n)
		f := nf * cfg.F0 * math.Sqrt(1.0+cfg.Inharmonicity*nf*nf)
		if f >= 0.95*nyquist {
			break
		}
		db := -cfg.FalloffDB * float64(n-1)
		if len(cfg.PartialGainsDB) > 0 {
			db = cfg.PartialGainsDB[n-1]
		}
		amp := cfg.Amplitude * float64(dbGain(db))
		phase := rng.Float64() * 2.0 * math.Pi
		if n == 1 {
			// A stable fundamental phase keeps the onset shape repeatable.
			phase = 0
		}
		addPartialRec(note, amp, f, phase, decay, cfg.SampleRate)
	}

	if cfg.NoiseLevel > 0 {
		for i := range buf {
			buf[i] += cfg.NoiseLevel * rng.NormFloat64()
		}
	}

	scale := 1.0
	if cfg.NormalizePeak > 0 {
		peak := maxAbs(buf)
		if peak < 1e-12 {
			peak = 1e-12
		}
		scale = cfg.NormalizePeak / peak
	}
	out := make([]float32, len(buf))
	for i := range buf {
		out[i] = float32(buf[i] * scale)
	}
	return out, nil
}

// dbGain converts decibels to a linear float32 gain on the synthesis path.
func dbGain(db float64) float32 {
	const ln10over20 = 0.11512925464970229
	return approx.FastExp(float32(db) * ln10over20)
}

// addPartialRec mixes a decaying sinusoid into out using the two-term cosine
// recurrence, avoiding per-sample trigonometry.
func addPartialRec(out []float64, amp, freq, phase, decay float64, sampleRate int) {
	if len(out) == 0 {
		return
	}
	w := 2.0 * math.Pi * freq / float64(sampleRate)
	cw := math.Cos(w)
	x0 := math.Sin(phase)
	x1 := math.Sin(phase + w)
	env := 1.0

	out[0] += amp * env * x0
	env *= decay
	if len(out) == 1 {
		return
	}
	out[1] += amp * env * x1
	env *= decay
	for i := 2; i < len(out); i++ {
		x2 := 2.0*cw*x1 - x0
		x0 = x1
		x1 = x2
		out[i] += amp * env * x2
		env *= decay
	}
}

func maxAbs(x []float64) float64 {
	m := 0.0
	for _, v := range x {
		a := math.Abs(v)
		if a > m {
			m = a
		}
	}
	return m
}
