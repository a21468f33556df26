// Package spectral implements the FFT front end of the measurement pipeline:
// the zero-padded forward transform, the local noise-floor estimate, and the
// sub-bin peak finder used for partial detection.
package spectral

import (
	"errors"
	"fmt"
	"math/cmplx"
	"sync"

	algofft "github.com/cwbudde/algo-fft"
)

var planCache sync.Map // map[int]*fftPlan

type fftPlan struct {
	mu   sync.Mutex
	fast *algofft.FastPlanReal64
	safe *algofft.PlanRealT[float64, complex128]
}

func getPlan(n int) (*fftPlan, error) {
	if v, ok := planCache.Load(n); ok {
		return v.(*fftPlan), nil
	}

	p := &fftPlan{}

	fast, err := algofft.NewFastPlanReal64(n)
	if err == nil {
		p.fast = fast
	} else if !errors.Is(err, algofft.ErrNotImplemented) {
		// Ignore fast-plan setup errors and rely on the safe plan.
	}

	safe, err := algofft.NewPlanReal64(n)
	if err != nil {
		if p.fast == nil {
			return nil, err
		}
	} else {
		p.safe = safe
	}

	actual, _ := planCache.LoadOrStore(n, p)
	return actual.(*fftPlan), nil
}

func (p *fftPlan) forward(dst []complex128, src []float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fast != nil {
		p.fast.Forward(dst, src)
		return nil
	}
	if p.safe != nil {
		return p.safe.Forward(dst, src)
	}
	return errors.New("spectral: missing FFT forward plan")
}

// Transform computes magnitude spectra of fixed length n (zero-padded input),
// reusing its spectrum scratch across calls.
type Transform struct {
	n    int
	plan *fftPlan
	spec []complex128
}

// NewTransform prepares a transform of length n (must be even).
func NewTransform(n int) (*Transform, error) {
	if n < 2 || n%2 != 0 {
		return nil, fmt.Errorf("spectral: invalid transform length %d", n)
	}
	plan, err := getPlan(n)
	if err != nil {
		return nil, err
	}
	return &Transform{
		n:    n,
		plan: plan,
		spec: make([]complex128, n/2+1),
	}, nil
}

// Magnitudes runs the forward transform over src (length n, already windowed
// and zero-padded) and writes the first n/2 bin magnitudes scaled by gain
// into dst. The transform itself is unscaled; callers pass the reciprocal
// window gain so that a full-scale sinusoid reads as magnitude 1.
func (t *Transform) Magnitudes(dst, src []float64, gain float64) error {
	if len(src) != t.n {
		return fmt.Errorf("spectral: input length %d, want %d", len(src), t.n)
	}
	if len(dst) != t.n/2 {
		return fmt.Errorf("spectral: output length %d, want %d", len(dst), t.n/2)
	}
	if err := t.plan.forward(t.spec, src); err != nil {
		return err
	}
	for k := 0; k < t.n/2; k++ {
		dst[k] = cmplx.Abs(t.spec[k]) * gain
	}
	return nil
}
