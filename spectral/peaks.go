package spectral

import "math"

const (
	// A peak must stand at least 15% above the larger of its two reference
	// neighbours, promOffset bins away on either side.
	prominenceRatio = 1.15

	interpMagFloor   = 1e-6
	interpDenomFloor = 1e-10
)

// Peak is a detected spectral maximum with sub-bin frequency refinement.
type Peak struct {
	Bin         int
	FrequencyHz float64
	Magnitude   float64
}

// FindPeak searches mags within +/- halfBins of centerBin for a local
// maximum above threshold, applying a prominence check and log-domain
// parabolic interpolation for sub-bin frequency. promOffset is the distance
// in bins of the prominence reference neighbours; with a zero-padded
// transform it must be the mainlobe half-width in output bins, otherwise
// bins inside the mainlobe would defeat the check. Bins 0 and len-1 are
// never candidates so the interpolator always has both neighbours.
func FindPeak(mags []float64, centerBin, halfBins, promOffset int, threshold, binHz float64) (Peak, bool) {
	lo := centerBin - halfBins
	hi := centerBin + halfBins
	if lo < 1 {
		lo = 1
	}
	if hi > len(mags)-2 {
		hi = len(mags) - 2
	}
	if lo > hi {
		return Peak{}, false
	}

	best := lo
	for k := lo + 1; k <= hi; k++ {
		if mags[k] > mags[best] {
			best = k
		}
	}
	m := mags[best]
	if m < threshold {
		return Peak{}, false
	}

	if promOffset < 1 {
		promOffset = 1
	}
	neighbour := 0.0
	if k := best - promOffset; k >= 0 {
		neighbour = mags[k]
	}
	if k := best + promOffset; k < len(mags) && mags[k] > neighbour {
		neighbour = mags[k]
	}
	if m < prominenceRatio*neighbour {
		return Peak{}, false
	}

	return Peak{
		Bin:         best,
		FrequencyHz: interpolateFrequency(mags, best, binHz),
		Magnitude:   m,
	}, true
}

// interpolateFrequency refines the peak position with a parabola fitted to
// the log magnitudes of the peak bin and its neighbours. Degenerate fits
// (tiny neighbours, flat parabola, offset beyond one bin) fall back to the
// bin center.
func interpolateFrequency(mags []float64, k int, binHz float64) float64 {
	binCenter := float64(k) * binHz

	m1 := mags[k-1]
	m2 := mags[k]
	m3 := mags[k+1]
	if m1 < interpMagFloor || m3 < interpMagFloor {
		return binCenter
	}

	y1 := math.Log(math.Max(m1, interpMagFloor))
	y2 := math.Log(math.Max(m2, interpMagFloor))
	y3 := math.Log(math.Max(m3, interpMagFloor))

	den := 2.0 * (y1 - 2.0*y2 + y3)
	if math.Abs(den) < interpDenomFloor {
		return binCenter
	}
	d := (y1 - y3) / den
	if math.Abs(d) > 1.0 {
		return binCenter
	}
	return (float64(k) + d) * binHz
}
