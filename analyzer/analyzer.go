// Package analyzer implements the real-time piano measurement engine: it
// consumes mono 96 kHz sample blocks for a single struck note, detects the
// harmonic partials, recovers the string fundamental under inharmonicity,
// estimates the inharmonicity coefficient, and emits per-note measurement
// records.
package analyzer

import (
	"fmt"
	"math"
	"time"

	"github.com/frankyzip/AurisPianoTuner-measure/dsp"
	"github.com/frankyzip/AurisPianoTuner-measure/spectral"
	"github.com/frankyzip/AurisPianoTuner-measure/tuning"
)

const (
	// SampleRate is the only supported capture rate. Other rates must be
	// rejected (or resampled) upstream.
	SampleRate = 96000

	// FFTLength is the constant zero-padded transform size; NumBins is the
	// usable half-spectrum length.
	FFTLength = 32768
	NumBins   = FFTLength / 2

	// BinHz is the uniform frequency resolution of the padded transform.
	BinHz = float64(SampleRate) / float64(FFTLength)

	frameDepth      = 3
	historyLen      = 5
	ringCapacity    = 10
	lockStreak      = 3
	attackDeltaDB   = 15.0
	attackFloorDB   = -45.0
	acceptCents     = 50.0
	maxSearchHz     = SampleRate/2 - 1000
	mainlobeBins  = 4 // Blackman-Harris mainlobe half-width at window length
)

// State enumerates the measurement state machine.
type State int

const (
	StateIdle State = iota
	StateArmed
	StateMeasuring
	StateLocked
)

func (s State) String() string {
	switch s {
	case StateArmed:
		return "armed"
	case StateMeasuring:
		return "measuring"
	case StateLocked:
		return "locked"
	default:
		return "idle"
	}
}

// PartialResult is one detected partial of the note under measurement.
type PartialResult struct {
	Number      int
	FrequencyHz float64
	AmplitudeDB float64
}

// NoteMeasurement is the per-note record emitted by the analyzer. Partials
// are listed with strictly increasing partial number.
type NoteMeasurement struct {
	MidiIndex             int
	NoteName              string
	TargetFrequency       float64
	Fundamental           float64
	Inharmonicity         float64
	MeasuredPartialNumber int
	Quality               Quality
	Partials              []PartialResult
	MeasuredAt            time.Time
}

// SpectrumSnapshot is handed to visualizers once per FFT.
type SpectrumSnapshot struct {
	Magnitudes      []float64
	BinHz           float64
	TargetFrequency float64
	TargetMidi      int
	NoteName        string
	Timestamp       time.Time
}

type targetNote struct {
	midi      int
	frequency float64
	minFreq   float64
	maxFreq   float64
	window    int
}

// Analyzer is the measurement engine. It is not safe for concurrent use: the
// control operations and ProcessAudioBuffer must be called from one logical
// thread. Event callbacks run synchronously on that thread and receive value
// copies.
type Analyzer struct {
	OnMeasurementUpdated func(NoteMeasurement)
	OnRawSpectrum        func(SpectrumSnapshot)
	OnAutoStopped        func(NoteMeasurement)

	meta     tuning.Metadata
	haveMeta bool

	state  State
	target targetNote

	windows    map[int][]float64
	gains      map[int]float64
	promOffset map[int]int

	transform *spectral.Transform
	capture   []float64
	fill      int
	windowed  []float64
	mags      []float64
	averager  *dsp.FrameAverager
	noise     []float64

	pass1 []PartialResult
	pass2 []PartialResult

	bHistory []float64
	bCount   int
	bNext    int

	prevRMSdB   float64
	havePrevRMS bool

	greenStreak    int
	pureToneStreak int

	ring      []NoteMeasurement
	ringNext  int
	ringCount int

	now func() time.Time
}

// New creates an analyzer with its capture, window, FFT, magnitude and
// partial buffers preallocated.
func New() (*Analyzer, error) {
	tr, err := spectral.NewTransform(FFTLength)
	if err != nil {
		return nil, err
	}
	a := &Analyzer{
		windows:    make(map[int][]float64, 3),
		gains:      make(map[int]float64, 3),
		promOffset: make(map[int]int, 3),
		transform:  tr,
		capture:    make([]float64, FFTLength),
		windowed:   make([]float64, FFTLength),
		mags:       make([]float64, NumBins),
		averager:   dsp.NewFrameAverager(frameDepth, NumBins),
		noise:      make([]float64, 0, 256),
		pass1:      make([]PartialResult, 0, 16),
		pass2:      make([]PartialResult, 0, 16),
		bHistory:   make([]float64, historyLen),
		ring:       make([]NoteMeasurement, ringCapacity),
		now:        time.Now,
	}
	for _, w := range []int{32768, 16384, 8192} {
		win := dsp.BlackmanHarris(w)
		a.windows[w] = win
		a.gains[w] = 2.0 / dsp.WindowSum(win)
		a.promOffset[w] = mainlobeBins * FFTLength / w
	}
	return a, nil
}

// SetPianoMetadata validates and stores the instrument description; it can
// be called at any time and does not touch the measurement state.
func (a *Analyzer) SetPianoMetadata(meta tuning.Metadata) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	a.meta = meta
	a.haveMeta = true
	return nil
}

// SetTargetNote retargets the analyzer and arms it for the next attack. The
// frequency must match equal temperament (A4 = 440 Hz) within one part in
// ten thousand; a mismatch indicates a caller bug and is rejected.
func (a *Analyzer) SetTargetNote(midi int, frequency float64) error {
	if midi < tuning.MidiLow || midi > tuning.MidiHigh {
		return fmt.Errorf("target MIDI %d out of piano range [%d, %d]", midi, tuning.MidiLow, tuning.MidiHigh)
	}
	expect := tuning.MidiToFrequency(midi)
	if math.Abs(frequency-expect) > 1e-4*expect {
		return fmt.Errorf("target frequency %.4f Hz does not match equal temperament %.4f Hz for MIDI %d", frequency, expect, midi)
	}

	span := math.Exp2(acceptCents / 1200.0)
	a.target = targetNote{
		midi:      midi,
		frequency: frequency,
		minFreq:   frequency / span,
		maxFreq:   frequency * span,
		window:    windowLength(midi),
	}
	a.state = StateArmed
	a.clearCapture()
	a.clearMeasurements()
	a.resetBHistory(tuning.TypicalInharmonicity(midi))
	return nil
}

// Reset clears all buffers and returns the analyzer to Idle. Piano metadata
// is retained.
func (a *Analyzer) Reset() {
	a.state = StateIdle
	a.target = targetNote{}
	a.clearCapture()
	a.clearMeasurements()
	a.bCount = 0
	a.bNext = 0
}

// State reports the current machine state.
func (a *Analyzer) State() State {
	return a.state
}

// IsMeasurementLocked reports whether the analyzer has committed a best
// measurement and stopped analyzing.
func (a *Analyzer) IsMeasurementLocked() bool {
	return a.state == StateLocked
}

// ProcessAudioBuffer feeds a block of mono samples at 96 kHz. Block size is
// arbitrary; the analyzer buffers internally. While Locked the samples are
// accepted but ignored.
func (a *Analyzer) ProcessAudioBuffer(samples []float32) {
	if a.state == StateIdle || a.state == StateLocked || len(samples) == 0 {
		return
	}

	rms := dsp.BlockRMSdB(samples)
	if a.state == StateArmed && a.havePrevRMS &&
		rms-a.prevRMSdB > attackDeltaDB && rms > attackFloorDB {
		a.state = StateMeasuring
		a.clearMeasurements()
		// Restart the capture pipeline at the attack: frames averaged with
		// pre-attack silence would under-read every partial.
		a.clearCapture()
	}
	a.prevRMSdB = rms
	a.havePrevRMS = true

	w := a.target.window
	for off := 0; off < len(samples); {
		space := w - a.fill
		take := len(samples) - off
		if take > space {
			take = space
		}
		for i := 0; i < take; i++ {
			a.capture[a.fill+i] = float64(samples[off+i])
		}
		a.fill += take
		off += take
		if a.fill == w {
			a.analyzeFrame()
			// Retain the second half of the window: 50% overlap.
			copy(a.capture[:w/2], a.capture[w/2:w])
			a.fill = w / 2
		}
	}
}

func (a *Analyzer) analyzeFrame() {
	w := a.target.window
	win := a.windows[w]
	for i := 0; i < w; i++ {
		a.windowed[i] = a.capture[i] * win[i]
	}

	if err := a.transform.Magnitudes(a.mags, a.windowed, a.gains[w]); err != nil {
		return
	}
	a.averager.Push(a.mags)

	if a.OnRawSpectrum != nil {
		snap := SpectrumSnapshot{
			Magnitudes:      append([]float64(nil), a.mags...),
			BinHz:           BinHz,
			TargetFrequency: a.target.frequency,
			TargetMidi:      a.target.midi,
			NoteName:        tuning.MidiToNoteName(a.target.midi),
			Timestamp:       a.now(),
		}
		a.OnRawSpectrum(snap)
	}

	if a.state == StateMeasuring {
		a.measureFrame(a.averager.Average())
	}
}

func (a *Analyzer) clearCapture() {
	a.fill = 0
	for i := range a.windowed {
		a.windowed[i] = 0
	}
	a.averager.Reset()
	a.havePrevRMS = false
}

func (a *Analyzer) clearMeasurements() {
	a.ringNext = 0
	a.ringCount = 0
	a.greenStreak = 0
	a.pureToneStreak = 0
}

func (a *Analyzer) resetBHistory(b float64) {
	a.bHistory[0] = b
	a.bCount = 1
	a.bNext = 1 % historyLen
}

func (a *Analyzer) pushB(b float64) {
	a.bHistory[a.bNext] = b
	a.bNext = (a.bNext + 1) % historyLen
	if a.bCount < historyLen {
		a.bCount++
	}
}

// smoothedB is the arithmetic mean of the accepted-B history, used to scale
// the partial search window of the next frame.
func (a *Analyzer) smoothedB() float64 {
	if a.bCount == 0 {
		return tuning.TypicalInharmonicity(a.target.midi)
	}
	var sum float64
	for i := 0; i < a.bCount; i++ {
		sum += a.bHistory[i]
	}
	return sum / float64(a.bCount)
}

func (a *Analyzer) breakRegion() tuning.BreakRegion {
	if !a.haveMeta {
		return tuning.BreakNone
	}
	return tuning.ClassifyBreakRegion(a.target.midi, a.meta.ScaleBreakMidi)
}

func windowLength(midi int) int {
	switch {
	case midi <= 71:
		return 32768
	case midi <= 78:
		return 16384
	default:
		return 8192
	}
}
