package analyzer

import (
	"math"

	"github.com/frankyzip/AurisPianoTuner-measure/dsp"
	"github.com/frankyzip/AurisPianoTuner-measure/spectral"
	"github.com/frankyzip/AurisPianoTuner-measure/tuning"
)

// measureFrame runs the full per-frame measurement on the averaged
// magnitudes: two detection passes, the inharmonicity regression, the
// fundamental back-solve, quality classification, and emission.
func (a *Analyzer) measureFrame(avg []float64) {
	// Pass 1: naive harmonic grid around the target frequency.
	a.pass1 = a.detectPartials(a.pass1[:0], avg, a.target.frequency, 0, false)
	if len(a.pass1) == 0 {
		return
	}

	region := a.breakRegion()
	f0Seed := seedFundamental(a.pass1, a.target.frequency)
	bSeed := a.estimateInharmonicity(a.pass1, f0Seed, region)

	// Pass 2: re-detect on the inharmonic grid; with B known the search
	// windows tighten.
	a.pass2 = a.detectPartials(a.pass2[:0], avg, f0Seed, bSeed, true)
	if len(a.pass2) == 0 {
		return
	}

	f0, b, anchor := a.solveFundamental(a.pass2, region)
	quality := a.classifyQuality(a.pass2, region)

	// Accept filter: a fundamental outside the +/-50 cent window around the
	// target is a mis-strike or a neighbouring string; the frame is dropped
	// and no counters advance.
	if f0 < a.target.minFreq || f0 > a.target.maxFreq {
		return
	}

	a.pushB(b)

	m := NoteMeasurement{
		MidiIndex:             a.target.midi,
		NoteName:              tuning.MidiToNoteName(a.target.midi),
		TargetFrequency:       a.target.frequency,
		Fundamental:           f0,
		Inharmonicity:         b,
		MeasuredPartialNumber: anchor,
		Quality:               quality,
		Partials:              append([]PartialResult(nil), a.pass2...),
		MeasuredAt:            a.now(),
	}
	a.pushMeasurement(m)

	best, _ := a.bestMeasurement()
	if a.OnMeasurementUpdated != nil {
		a.OnMeasurementUpdated(cloneMeasurement(best))
	}

	a.advanceStreaks(m)
	if a.greenStreak >= lockStreak || a.pureToneStreak >= lockStreak {
		a.state = StateLocked
		if a.OnAutoStopped != nil {
			a.OnAutoStopped(cloneMeasurement(best))
		}
	}
}

// detectPartials scans the averaged spectrum for partials 1..maxN on the
// grid defined by (f0, b); b = 0 yields the plain harmonic grid of pass 1.
func (a *Analyzer) detectPartials(dst []PartialResult, avg []float64, f0, b float64, secondPass bool) []PartialResult {
	midi := a.target.midi
	maxN := tuning.MaxPartials(midi)
	nearBreak := a.breakRegion() != tuning.BreakNone
	smoothed := a.smoothedB()
	prom := a.promOffset[a.target.window]

	for n := 1; n <= maxN; n++ {
		fSearch := tuning.PartialFrequency(n, f0, b)
		if fSearch > maxSearchHz {
			break
		}

		halfHz := a.searchHalfWidthHz(fSearch, n, smoothed, nearBreak, secondPass)
		centerBin := int(math.Round(fSearch / BinHz))
		halfBins := int(math.Round(halfHz / BinHz))
		if halfBins < 3 {
			halfBins = 3
		}

		floor := spectral.NoiseFloor(avg, centerBin, halfBins, BinHz, a.noise)
		threshold := baseThreshold(fSearch, n)
		if t := 3 * floor; t > threshold {
			threshold = t
		}
		if nearBreak {
			threshold *= 1.2
		}

		peak, ok := spectral.FindPeak(avg, centerBin, halfBins, prom, threshold, BinHz)
		if !ok {
			continue
		}

		// Distance gates: the refined frequency must stay near the grid
		// position both in Hz and in cents.
		if math.Abs(peak.FrequencyHz-fSearch) > 1.5*halfHz {
			continue
		}
		centsDev := math.Abs(tuning.FrequencyToCents(peak.FrequencyHz, fSearch))
		limit := 50.0
		if n > 4 {
			limit = 80.0
			if nearBreak {
				limit = 120.0
			}
		}
		if centsDev > limit {
			continue
		}

		dst = append(dst, PartialResult{
			Number:      n,
			FrequencyHz: peak.FrequencyHz,
			AmplitudeDB: dsp.LinToDB(peak.Magnitude),
		})
	}
	return dst
}

// searchHalfWidthHz computes the adaptive half-width of the partial search
// window. The base register width grows near the scale break, with partial
// number (cumulative inharmonicity uncertainty), and with the smoothed B;
// pass 2 tightens it since B is then known.
func (a *Analyzer) searchHalfWidthHz(fSearch float64, n int, smoothedB float64, nearBreak, secondPass bool) float64 {
	cents := tuning.SearchBaseCents(a.target.midi)
	if nearBreak {
		cents *= 1.4
	}
	cents *= 1.0 + 0.10*float64(n-1)

	scale := math.Sqrt(smoothedB / 2e-4)
	if scale < 0.7 {
		scale = 0.7
	}
	if scale > 2.0 {
		scale = 2.0
	}
	cents *= scale

	if secondPass {
		cents *= 0.7
	}
	if cents > 100 {
		cents = 100
	}

	halfHz := fSearch * (math.Exp2(cents/1200.0) - 1.0)
	switch {
	case fSearch < 50:
		halfHz = math.Max(halfHz, 2)
	case fSearch < 100:
		halfHz = math.Max(halfHz, 3)
	case fSearch < 200:
		halfHz = math.Max(halfHz, 4)
	}
	return halfHz
}

// baseThreshold is the minimum linear magnitude for a credible partial as a
// function of frequency and partial number. Low frequencies and high
// partials carry less energy, so they are admitted at lower levels.
func baseThreshold(f float64, n int) float64 {
	lowPartial := n <= 4
	switch {
	case f < 200:
		if lowPartial {
			return 4e-5
		}
		return 2.5e-5
	case f < 1000:
		if lowPartial {
			return 6e-5
		}
		return 4e-5
	case f < 4000:
		if lowPartial {
			return 8e-5
		}
		return 5e-5
	default:
		return 1e-4
	}
}
