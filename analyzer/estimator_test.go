package analyzer

import (
	"math"
	"testing"

	"github.com/frankyzip/AurisPianoTuner-measure/tuning"
)

func stackPartials(f0, b float64, count int, ampDB float64) []PartialResult {
	out := make([]PartialResult, 0, count)
	for n := 1; n <= count; n++ {
		out = append(out, PartialResult{
			Number:      n,
			FrequencyHz: tuning.PartialFrequency(n, f0, b),
			AmplitudeDB: ampDB,
		})
	}
	return out
}

func targeted(t *testing.T, midi int) *Analyzer {
	t.Helper()
	a := newTestAnalyzer(t)
	if err := a.SetTargetNote(midi, tuning.MidiToFrequency(midi)); err != nil {
		t.Fatal(err)
	}
	return a
}

func TestEstimateInharmonicityRecoversB(t *testing.T) {
	a := targeted(t, 48)
	f0 := tuning.MidiToFrequency(48)
	for _, bRef := range []float64{1.5e-4, 3e-4, 5e-4} {
		partials := stackPartials(f0, bRef, 10, -10)
		got := a.estimateInharmonicity(partials, f0, tuning.BreakNone)
		if math.Abs(got-bRef)/bRef > 0.02 {
			t.Fatalf("B %.6g, want %.6g", got, bRef)
		}
	}
}

func TestEstimateInharmonicityFallsBackToPrior(t *testing.T) {
	a := targeted(t, 48)
	f0 := tuning.MidiToFrequency(48)
	prior := tuning.InharmonicityPrior(48)

	// Too few partials.
	few := stackPartials(f0, 3e-4, 2, -10)
	if got := a.estimateInharmonicity(few, f0, tuning.BreakNone); got != prior.Typical {
		t.Fatalf("few partials: %g", got)
	}

	// All partials too quiet for the regression.
	quiet := stackPartials(f0, 3e-4, 10, -70)
	if got := a.estimateInharmonicity(quiet, f0, tuning.BreakNone); got != prior.Typical {
		t.Fatalf("quiet partials: %g", got)
	}

	// Degenerate fundamental.
	if got := a.estimateInharmonicity(few, 0, tuning.BreakNone); got != prior.Typical {
		t.Fatalf("zero fundamental: %g", got)
	}
}

func TestEstimateInharmonicityClampsToRegister(t *testing.T) {
	a := targeted(t, 48)
	f0 := tuning.MidiToFrequency(48)
	prior := tuning.InharmonicityPrior(48)

	// A very stiff synthetic series beyond the register maximum.
	partials := stackPartials(f0, 5e-3, 8, -10)
	got := a.estimateInharmonicity(partials, f0, tuning.BreakNone)
	if got != prior.Max {
		t.Fatalf("B %g not clamped to %g", got, prior.Max)
	}
}

func TestSlopeAnalyserOnNegativeSlope(t *testing.T) {
	a := targeted(t, 48)
	f0 := tuning.MidiToFrequency(48)
	prior := tuning.InharmonicityPrior(48)

	// Deviations mostly negative: noise-dominated, prior wins.
	noisy := make([]PartialResult, 0, 6)
	for n := 2; n <= 7; n++ {
		noisy = append(noisy, PartialResult{
			Number:      n,
			FrequencyHz: tuning.PartialFrequency(n, f0, 0) * (1 - 0.002*float64(n)),
			AmplitudeDB: -10,
		})
	}
	if got := a.estimateInharmonicity(noisy, f0, tuning.BreakNone); got != prior.Typical {
		t.Fatalf("noise-dominated: %g, want typical prior", got)
	}
}

func TestTransitionRestrictsToLowPartials(t *testing.T) {
	a := targeted(t, 44)
	meta := tuning.Metadata{Type: tuning.PianoConsole, LengthCM: 110, ScaleBreakMidi: 44}
	if err := a.SetPianoMetadata(meta); err != nil {
		t.Fatal(err)
	}
	f0 := tuning.MidiToFrequency(44)

	// Low partials follow B=4e-4; high partials are wildly off. Only the
	// low ones may influence the transition estimate.
	partials := stackPartials(f0, 4e-4, 5, -10)
	for n := 6; n <= 10; n++ {
		partials = append(partials, PartialResult{
			Number:      n,
			FrequencyHz: tuning.PartialFrequency(n, f0, 5e-3),
			AmplitudeDB: -10,
		})
	}
	got := a.estimateInharmonicity(partials, f0, tuning.BreakTransition)
	if math.Abs(got-4e-4)/4e-4 > 0.05 {
		t.Fatalf("transition B %.6g, want 4e-4", got)
	}
}

func TestTransitionFallbackSides(t *testing.T) {
	meta := tuning.Metadata{Type: tuning.PianoConsole, LengthCM: 110, ScaleBreakMidi: 44}

	wound := targeted(t, 43)
	if err := wound.SetPianoMetadata(meta); err != nil {
		t.Fatal(err)
	}
	f0 := tuning.MidiToFrequency(43)
	few := stackPartials(f0, 4e-4, 2, -10)
	if got := wound.estimateInharmonicity(few, f0, tuning.BreakTransition); got != 6e-4 {
		t.Fatalf("wound-side fallback %g", got)
	}

	plain := targeted(t, 45)
	if err := plain.SetPianoMetadata(meta); err != nil {
		t.Fatal(err)
	}
	f0 = tuning.MidiToFrequency(45)
	few = stackPartials(f0, 4e-4, 2, -10)
	if got := plain.estimateInharmonicity(few, f0, tuning.BreakTransition); got != 2e-4 {
		t.Fatalf("plain-side fallback %g", got)
	}
}

func TestSeedFundamental(t *testing.T) {
	f0 := 130.81
	partials := stackPartials(f0, 0, 4, -10)
	if got := seedFundamental(partials, 999); math.Abs(got-f0) > 1e-9 {
		t.Fatalf("harmonic seed %g", got)
	}

	// A single usable partial is used directly.
	one := []PartialResult{{Number: 2, FrequencyHz: 262.0, AmplitudeDB: -10}}
	if got := seedFundamental(one, 999); math.Abs(got-131.0) > 1e-9 {
		t.Fatalf("single-partial seed %g", got)
	}

	// Nothing usable: fall back to the target.
	quiet := stackPartials(f0, 0, 4, -50)
	if got := seedFundamental(quiet, 999); got != 999 {
		t.Fatalf("fallback seed %g", got)
	}
}

func TestChooseAnchor(t *testing.T) {
	a := targeted(t, 21) // preferred anchor n=6
	f0 := tuning.MidiToFrequency(21)

	partials := stackPartials(f0, 8e-4, 8, -10)
	p, ok := a.chooseAnchor(partials)
	if !ok || p.Number != 6 {
		t.Fatalf("anchor %v %v", p, ok)
	}

	// Preferred partial too weak: strongest in range wins.
	partials[5].AmplitudeDB = -70
	partials[3].AmplitudeDB = -2
	p, ok = a.chooseAnchor(partials)
	if !ok || p.Number != 4 {
		t.Fatalf("fallback anchor %v %v", p, ok)
	}

	if _, ok := a.chooseAnchor(nil); ok {
		t.Fatal("anchor from no partials")
	}
}

func TestSolveFundamentalConverges(t *testing.T) {
	a := targeted(t, 48)
	f0Ref := tuning.MidiToFrequency(48)
	bRef := 3e-4
	partials := stackPartials(f0Ref, bRef, 10, -10)

	f0, b, anchor := a.solveFundamental(partials, tuning.BreakNone)
	if anchor != 2 {
		t.Fatalf("anchor %d", anchor)
	}
	if math.Abs(f0-f0Ref) > 1e-3 {
		t.Fatalf("fundamental %.6f, want %.6f", f0, f0Ref)
	}
	if math.Abs(b-bRef)/bRef > 0.02 {
		t.Fatalf("B %.6g, want %.6g", b, bRef)
	}
}

func TestQualityClassification(t *testing.T) {
	a := targeted(t, 48)
	f0 := tuning.MidiToFrequency(48)

	cases := []struct {
		count  int
		region tuning.BreakRegion
		want   Quality
	}{
		{6, tuning.BreakNone, QualityGreen},
		{5, tuning.BreakNone, QualityOrange},
		{3, tuning.BreakNone, QualityOrange},
		{2, tuning.BreakNone, QualityRed},
		{8, tuning.BreakTransition, QualityGreen},
		{7, tuning.BreakTransition, QualityOrange},
		{5, tuning.BreakTransition, QualityOrange},
		{4, tuning.BreakTransition, QualityRed},
	}
	for _, tc := range cases {
		partials := stackPartials(f0, 3e-4, tc.count, -10)
		if got := a.classifyQuality(partials, tc.region); got != tc.want {
			t.Fatalf("quality(%d, %v) = %v, want %v", tc.count, tc.region, got, tc.want)
		}
	}

	// Lone strong fundamental upgrades to Orange; a weak one stays Red.
	strong := []PartialResult{{Number: 1, FrequencyHz: f0, AmplitudeDB: -5}}
	if got := a.classifyQuality(strong, tuning.BreakNone); got != QualityOrange {
		t.Fatalf("lone strong fundamental: %v", got)
	}
	weak := []PartialResult{{Number: 1, FrequencyHz: f0, AmplitudeDB: -35}}
	if got := a.classifyQuality(weak, tuning.BreakNone); got != QualityRed {
		t.Fatalf("lone weak fundamental: %v", got)
	}
	loneHigh := []PartialResult{{Number: 3, FrequencyHz: 3 * f0, AmplitudeDB: -5}}
	if got := a.classifyQuality(loneHigh, tuning.BreakNone); got != QualityRed {
		t.Fatalf("lone high partial: %v", got)
	}
}

func TestBestMeasurementRanking(t *testing.T) {
	a := targeted(t, 48)
	f0 := tuning.MidiToFrequency(48)

	mk := func(q Quality, count int, amp float64) NoteMeasurement {
		return NoteMeasurement{
			MidiIndex: 48,
			Quality:   q,
			Partials:  stackPartials(f0, 3e-4, count, amp),
		}
	}

	a.pushMeasurement(mk(QualityOrange, 4, -10))
	a.pushMeasurement(mk(QualityGreen, 6, -12))
	a.pushMeasurement(mk(QualityGreen, 8, -15))
	a.pushMeasurement(mk(QualityGreen, 8, -9))
	a.pushMeasurement(mk(QualityRed, 10, -1))

	best, ok := a.bestMeasurement()
	if !ok {
		t.Fatal("no best measurement")
	}
	if best.Quality != QualityGreen || len(best.Partials) != 8 ||
		best.Partials[0].AmplitudeDB != -9 {
		t.Fatalf("ranking picked %v/%d/%g", best.Quality, len(best.Partials), best.Partials[0].AmplitudeDB)
	}
}

func TestMeasurementRingEviction(t *testing.T) {
	a := targeted(t, 48)
	for i := 0; i < ringCapacity+5; i++ {
		a.pushMeasurement(NoteMeasurement{MidiIndex: 48, Quality: QualityRed})
	}
	if a.ringCount != ringCapacity {
		t.Fatalf("ring count %d", a.ringCount)
	}
}

func TestBHistorySmoothing(t *testing.T) {
	a := targeted(t, 69)
	want := tuning.TypicalInharmonicity(69)
	if got := a.smoothedB(); math.Abs(got-want) > 1e-15 {
		t.Fatalf("initial smoothed B %g", got)
	}

	for _, b := range []float64{1e-4, 2e-4, 3e-4, 4e-4} {
		a.pushB(b)
	}
	// History is [prior, 1e-4, 2e-4, 3e-4, 4e-4].
	want = (want + 1e-4 + 2e-4 + 3e-4 + 4e-4) / 5
	if got := a.smoothedB(); math.Abs(got-want) > 1e-15 {
		t.Fatalf("smoothed B %g, want %g", got, want)
	}

	// A sixth value evicts the oldest.
	a.pushB(5e-4)
	want = (1e-4 + 2e-4 + 3e-4 + 4e-4 + 5e-4) / 5
	if got := a.smoothedB(); math.Abs(got-want) > 1e-15 {
		t.Fatalf("smoothed B after eviction %g, want %g", got, want)
	}
}
