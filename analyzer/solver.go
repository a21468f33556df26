package analyzer

import (
	"math"

	"github.com/frankyzip/AurisPianoTuner-measure/tuning"
)

const (
	solverMaxIterations = 5
	solverToleranceHz   = 0.01

	seedMinAmpDB   = -40.0
	anchorMinAmpDB = -60.0
)

// seedFundamental estimates a first fundamental from the detected partials:
// a 1/n weighted average of f_n/n over the strong low partials. With nothing
// usable the theoretical target is returned.
func seedFundamental(partials []PartialResult, fallback float64) float64 {
	var sumW, sumWF float64
	count := 0
	for _, p := range partials {
		if p.AmplitudeDB <= seedMinAmpDB || p.Number < 1 || p.Number > 8 {
			continue
		}
		w := 1.0 / float64(p.Number)
		sumW += w
		sumWF += w * p.FrequencyHz / float64(p.Number)
		count++
	}
	if count == 0 || sumW == 0 {
		return fallback
	}
	return sumWF / sumW
}

// chooseAnchor picks the partial used to back-solve the fundamental: the
// register's preferred partial when present and strong enough, otherwise the
// strongest detected partial within the register's usable range.
func (a *Analyzer) chooseAnchor(partials []PartialResult) (PartialResult, bool) {
	midi := a.target.midi
	preferred := tuning.AnchorPartial(midi)
	for _, p := range partials {
		if p.Number == preferred && p.AmplitudeDB >= anchorMinAmpDB {
			return p, true
		}
	}

	maxN := tuning.MaxPartials(midi)
	bestIdx := -1
	for i, p := range partials {
		if p.Number > maxN {
			continue
		}
		if bestIdx < 0 || p.AmplitudeDB > partials[bestIdx].AmplitudeDB {
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return PartialResult{}, false
	}
	return partials[bestIdx], true
}

// solveFundamental runs the fixed-point iteration over (f0, B): re-estimate
// B at the current fundamental, back-solve the fundamental from the anchor
// partial, and repeat until the fundamental moves less than 0.01 Hz.
func (a *Analyzer) solveFundamental(partials []PartialResult, region tuning.BreakRegion) (f0, b float64, anchor int) {
	f0 = seedFundamental(partials, a.target.frequency)
	b = a.estimateInharmonicity(partials, f0, region)

	for i := 0; i < solverMaxIterations; i++ {
		b = a.estimateInharmonicity(partials, f0, region)
		p, ok := a.chooseAnchor(partials)
		if !ok {
			continue
		}
		anchor = p.Number
		nf := float64(p.Number)
		next := p.FrequencyHz / (nf * math.Sqrt(1.0+b*nf*nf))
		delta := math.Abs(next - f0)
		f0 = next
		if delta < solverToleranceHz {
			break
		}
	}
	return f0, b, anchor
}
