// Package capture defines the audio-input contract the analyzer consumes:
// a source of mono float32 blocks at 96 kHz, with device enumeration and
// start/stop control. Real sound-card backends live with the host
// application; this package ships a WAV-file source for offline analysis and
// testing.
package capture

import "errors"

// RequiredSampleRate is the only rate the measurement engine accepts.
const RequiredSampleRate = 96000

// ErrUnsupportedRate is returned when capture is requested at a rate other
// than 96 kHz.
var ErrUnsupportedRate = errors.New("capture: only 96000 Hz capture is supported")

// BlockFunc receives consecutive blocks of mono samples in [-1, 1]. The
// slice is only valid for the duration of the call.
type BlockFunc func(samples []float32)

// Source abstracts an audio input.
type Source interface {
	// Devices lists the capture device names available from this source.
	Devices() ([]string, error)
	// Start begins delivering sample blocks to fn at the requested rate.
	// Rates other than RequiredSampleRate fail with ErrUnsupportedRate.
	Start(device string, sampleRate int, fn BlockFunc) error
	// Stop ends delivery.
	Stop() error
}
