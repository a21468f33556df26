package analyzer

import "github.com/frankyzip/AurisPianoTuner-measure/tuning"

// Quality grades a frame measurement by how much of the partial series was
// recovered.
type Quality int

const (
	QualityRed Quality = iota + 1
	QualityOrange
	QualityGreen
)

func (q Quality) String() string {
	switch q {
	case QualityGreen:
		return "green"
	case QualityOrange:
		return "orange"
	default:
		return "red"
	}
}

// Score returns the ranking weight used by measurement selection.
func (q Quality) Score() int {
	return int(q)
}

// classifyQuality grades by detected partial count. The transition zone
// demands more partials since its regression is restricted. A lone strong
// fundamental close to the search grid is upgraded to Orange: a clean
// sinusoid has no higher partials to find, and that is the best achievable
// grade for it.
func (a *Analyzer) classifyQuality(partials []PartialResult, region tuning.BreakRegion) Quality {
	count := len(partials)
	if region == tuning.BreakTransition {
		switch {
		case count > 7:
			return QualityGreen
		case count > 4:
			return QualityOrange
		default:
			return QualityRed
		}
	}
	switch {
	case count > 5:
		return QualityGreen
	case count > 2:
		return QualityOrange
	default:
		if count == 1 && partials[0].Number == 1 && partials[0].AmplitudeDB >= -20 {
			return QualityOrange
		}
		return QualityRed
	}
}

// advanceStreaks updates the auto-stop counters for a freshly accepted frame
// measurement. Three consecutive Green frames lock; so does a stable lone
// fundamental, which can never improve past Orange.
func (a *Analyzer) advanceStreaks(m NoteMeasurement) {
	if m.Quality == QualityGreen {
		a.greenStreak++
	} else {
		a.greenStreak = 0
	}
	if m.Quality >= QualityOrange && len(m.Partials) == 1 && m.Partials[0].Number == 1 {
		a.pureToneStreak++
	} else {
		a.pureToneStreak = 0
	}
}

// pushMeasurement adds a frame measurement to the rolling buffer, evicting
// the oldest entry when full.
func (a *Analyzer) pushMeasurement(m NoteMeasurement) {
	a.ring[a.ringNext] = m
	a.ringNext = (a.ringNext + 1) % ringCapacity
	if a.ringCount < ringCapacity {
		a.ringCount++
	}
}

// bestMeasurement ranks the rolling buffer by quality, then detected partial
// count, then amplitude of the lowest detected partial.
func (a *Analyzer) bestMeasurement() (NoteMeasurement, bool) {
	if a.ringCount == 0 {
		return NoteMeasurement{}, false
	}
	best := 0
	for i := 1; i < a.ringCount; i++ {
		if betterMeasurement(a.ring[i], a.ring[best]) {
			best = i
		}
	}
	return a.ring[best], true
}

func betterMeasurement(m, than NoteMeasurement) bool {
	if m.Quality.Score() != than.Quality.Score() {
		return m.Quality.Score() > than.Quality.Score()
	}
	if len(m.Partials) != len(than.Partials) {
		return len(m.Partials) > len(than.Partials)
	}
	return firstPartialAmp(m) > firstPartialAmp(than)
}

func firstPartialAmp(m NoteMeasurement) float64 {
	if len(m.Partials) == 0 {
		return -240
	}
	return m.Partials[0].AmplitudeDB
}

func cloneMeasurement(m NoteMeasurement) NoteMeasurement {
	m.Partials = append([]PartialResult(nil), m.Partials...)
	return m
}
