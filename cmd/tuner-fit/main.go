package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strings"

	"github.com/cwbudde/mayfly"

	"github.com/frankyzip/AurisPianoTuner-measure/analyzer"
	"github.com/frankyzip/AurisPianoTuner-measure/internal/fitcommon"
	"github.com/frankyzip/AurisPianoTuner-measure/store"
	"github.com/frankyzip/AurisPianoTuner-measure/tuning"
)

// tuner-fit polishes the (f0, B) pair of a stored measurement by minimizing
// the weighted cents residual over its detected partials. The analyzer's
// closed-form solve is already close; the metaheuristic pass squeezes out
// the last fraction of a cent and cross-checks the regression.

type knobDef struct {
	name string
	lo   float64
	hi   float64
}

func main() {
	docPath := flag.String("measurements", "", "Measurement document JSON (required)")
	midi := flag.Int("midi", 0, "MIDI note to refine (required)")
	write := flag.Bool("write", false, "Write the refined values back to the document")
	seed := flag.Int64("seed", 1, "Random seed")
	maxEvals := flag.Int("max-evals", 4000, "Objective evaluation budget")
	variant := flag.String("mayfly-variant", "desma", "Mayfly variant: ma|desma|olce|eobbma|gsasma|mpma|aoblmoa")
	pop := flag.Int("mayfly-pop", 10, "Male and female population size")
	flag.Parse()

	if *docPath == "" {
		die("--measurements is required")
	}
	set, err := store.Load(*docPath)
	if err != nil {
		die("load document: %v", err)
	}
	m, ok := set.Notes[*midi]
	if !ok {
		die("no measurement for MIDI %d in %s", *midi, *docPath)
	}
	if len(m.Partials) < 2 {
		die("MIDI %d has %d partials; refinement needs at least 2", *midi, len(m.Partials))
	}

	prior := tuning.InharmonicityPrior(*midi)
	span := math.Exp2(30.0 / 1200.0)
	defs := []knobDef{
		{name: "f0", lo: m.Fundamental / span, hi: m.Fundamental * span},
		{name: "b", lo: prior.Min, hi: prior.Max},
	}

	before := residualCents(m.Partials, m.Fundamental, m.Inharmonicity)
	fmt.Printf("MIDI %d (%s): f0=%.4f Hz B=%.3e residual=%.3f cents\n",
		*midi, m.NoteName, m.Fundamental, m.Inharmonicity, before)

	cfg, err := newMayflyConfig(strings.ToLower(*variant), *pop, len(defs), fitcommon.MaxInt(1, *maxEvals/(2*(*pop))))
	if err != nil {
		die("invalid mayfly variant: %v", err)
	}
	cfg.Rand = rand.New(rand.NewSource(*seed))

	best := []float64{m.Fundamental, prior.Clamp(m.Inharmonicity)}
	bestCost := before
	cfg.ObjectiveFunc = func(pos []float64) float64 {
		f0 := fromNormalized(pos[0], defs[0])
		b := fromNormalized(pos[1], defs[1])
		cost := residualCents(m.Partials, f0, b)
		if cost < bestCost {
			bestCost = cost
			best[0] = f0
			best[1] = b
		}
		return cost
	}

	if _, err := runMayfly(cfg); err != nil {
		die("mayfly failed: %v", err)
	}

	fmt.Printf("refined: f0=%.4f Hz B=%.3e residual=%.3f cents\n", best[0], best[1], bestCost)
	fmt.Printf("improvement: %.3f -> %.3f cents\n", before, bestCost)

	if !*write || bestCost >= before {
		return
	}
	m.Fundamental = best[0]
	m.Inharmonicity = best[1]
	set.Put(m)
	if err := store.Save(*docPath, set); err != nil {
		die("save document: %v", err)
	}
	fmt.Printf("updated %s\n", *docPath)
}

// residualCents is the 1/n weighted RMS deviation of the measured partials
// from the stiff-string series of (f0, b), in cents.
func residualCents(partials []analyzer.PartialResult, f0, b float64) float64 {
	var sumW, sum float64
	for _, p := range partials {
		model := tuning.PartialFrequency(p.Number, f0, b)
		c := tuning.FrequencyToCents(p.FrequencyHz, model)
		w := 1.0 / float64(p.Number)
		sumW += w
		sum += w * c * c
	}
	if sumW == 0 {
		return math.Inf(1)
	}
	return math.Sqrt(sum / sumW)
}

func fromNormalized(pos float64, def knobDef) float64 {
	return def.lo + fitcommon.Clamp(pos, 0, 1)*(def.hi-def.lo)
}

func newMayflyConfig(variant string, pop int, dims int, iters int) (*mayfly.Config, error) {
	var cfg *mayfly.Config
	switch variant {
	case "ma":
		cfg = mayfly.NewDefaultConfig()
	case "desma":
		cfg = mayfly.NewDESMAConfig()
	case "olce":
		cfg = mayfly.NewOLCEConfig()
	case "eobbma":
		cfg = mayfly.NewEOBBMAConfig()
	case "gsasma":
		cfg = mayfly.NewGSASMAConfig()
	case "mpma":
		cfg = mayfly.NewMPMAConfig()
	case "aoblmoa":
		cfg = mayfly.NewAOBLMOAConfig()
	default:
		return nil, fmt.Errorf("unsupported variant %q", variant)
	}
	cfg.ProblemSize = dims
	cfg.LowerBound = 0.0
	cfg.UpperBound = 1.0
	cfg.MaxIterations = iters
	cfg.NPop = pop
	cfg.NPopF = pop
	// Mayfly's implementation assumes NC/2 parent pairs are available from
	// both male and female populations.
	cfg.NC = 2 * pop
	// Keep at least one mutation to avoid stalling on small populations.
	cfg.NM = fitcommon.MaxInt(1, int(math.Round(0.05*float64(pop))))
	return cfg, nil
}

func runMayfly(cfg *mayfly.Config) (_ *mayfly.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mayfly panic: %v", r)
		}
	}()
	return mayfly.Optimize(cfg)
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
