package analyzer

import (
	"sort"

	"github.com/frankyzip/AurisPianoTuner-measure/tuning"
)

// Regression acceptance bands. With x = n^2 and y = (f_n/(n*f0))^2 - 1 the
// stiff-string model predicts y = B*x, so y is dimensionless and small.
const (
	regressionMinAmpDB = -50.0
	outlierLow         = -0.05
	transitionLow      = -0.1
	transitionHigh     = 0.8
)

type deviation struct {
	n int
	x float64
	y float64
}

// estimateInharmonicity fits the inharmonicity coefficient to the detected
// partials by weighted least squares over the per-partial deviations from
// the harmonic grid. Near the scale break the fit is restricted and
// loosened; degenerate data falls back to the register prior.
func (a *Analyzer) estimateInharmonicity(partials []PartialResult, f0 float64, region tuning.BreakRegion) float64 {
	midi := a.target.midi
	prior := tuning.InharmonicityPrior(midi)
	if f0 <= 0 {
		return prior.Typical
	}

	if region == tuning.BreakTransition {
		return a.estimateTransition(partials, f0, prior)
	}

	yMax := 0.5
	if midi >= 72 {
		yMax = 0.3
	}

	devs := make([]deviation, 0, len(partials))
	for _, p := range partials {
		if p.AmplitudeDB <= regressionMinAmpDB || p.Number < 2 || p.Number > 12 {
			continue
		}
		devs = append(devs, newDeviation(p, f0))
	}
	if len(devs) < 3 {
		return prior.Typical
	}

	kept := devs[:0]
	for _, d := range devs {
		if d.y < outlierLow || d.y > yMax {
			continue
		}
		kept = append(kept, d)
	}
	if len(kept) < 2 {
		return prior.Typical
	}

	b, ok := weightedSlope(kept)
	if !ok {
		return prior.Typical
	}
	if b < 0 {
		b = slopeAnalyse(kept, prior)
	}
	return prior.Clamp(b)
}

// estimateTransition handles notes at the wound/plain break, where low and
// high partials obey different stiffness regimes: only partials 2..5 are
// trusted and the outlier band is loosened.
func (a *Analyzer) estimateTransition(partials []PartialResult, f0 float64, prior tuning.Prior) float64 {
	devs := make([]deviation, 0, 4)
	for _, p := range partials {
		if p.AmplitudeDB <= regressionMinAmpDB || p.Number < 2 || p.Number > 5 {
			continue
		}
		d := newDeviation(p, f0)
		if d.y < transitionLow || d.y > transitionHigh {
			continue
		}
		devs = append(devs, d)
	}
	if len(devs) < 3 {
		return prior.Clamp(a.transitionFallback())
	}

	b, ok := weightedSlope(devs)
	if !ok || b < 0 {
		b = slopeAnalyse(devs, prior)
	}
	return prior.Clamp(b)
}

// transitionFallback is the conservative coefficient when the transition
// zone offers too few usable partials: wound strings run hotter than plain
// ones, and without metadata a middle value is used.
func (a *Analyzer) transitionFallback() float64 {
	if !a.haveMeta || a.meta.ScaleBreakMidi <= 0 {
		return 3e-4
	}
	if a.target.midi < a.meta.ScaleBreakMidi {
		return 6e-4
	}
	return 2e-4
}

func newDeviation(p PartialResult, f0 float64) deviation {
	nf := float64(p.Number)
	r := p.FrequencyHz / (nf * f0)
	return deviation{
		n: p.Number,
		x: nf * nf,
		y: r*r - 1.0,
	}
}

// weightedSlope is the zero-intercept-free weighted least squares slope with
// weights 1/n^2: low partials measure more reliably.
func weightedSlope(devs []deviation) (float64, bool) {
	var sw, swx, swy, swxy, swxx float64
	for _, d := range devs {
		w := 1.0 / d.x
		sw += w
		swx += w * d.x
		swy += w * d.y
		swxy += w * d.x * d.y
		swxx += w * d.x * d.x
	}
	den := sw*swxx - swx*swx
	if den < 1e-12 && den > -1e-12 {
		return 0, false
	}
	return (sw*swxy - swx*swy) / den, true
}

// slopeAnalyse recovers an estimate when the regression slope comes out
// negative. Mostly non-positive deviations mean the data is noise; otherwise
// the median positive deviation gives a single-point slope.
func slopeAnalyse(devs []deviation, prior tuning.Prior) float64 {
	sorted := append([]deviation(nil), devs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].n < sorted[j].n })

	nonPositive := 0
	positive := sorted[:0]
	for _, d := range sorted {
		if d.y <= 0 {
			nonPositive++
			continue
		}
		positive = append(positive, d)
	}
	if nonPositive*2 >= len(sorted) || len(positive) == 0 {
		return prior.Typical
	}

	sort.Slice(positive, func(i, j int) bool { return positive[i].y < positive[j].y })
	med := positive[len(positive)/2]
	return prior.Clamp(med.y / med.x)
}
