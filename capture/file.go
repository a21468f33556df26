package capture

import (
	"fmt"

	"github.com/frankyzip/AurisPianoTuner-measure/internal/fitcommon"
)

// FileSource replays a WAV recording as if it were a live capture device.
// Input at other sample rates is resampled to 96 kHz on open, so the
// analyzer always sees its required rate.
type FileSource struct {
	path    string
	samples []float32
	stopped bool
}

// OpenFile reads and, if necessary, resamples a WAV recording.
func OpenFile(path string) (*FileSource, error) {
	mono, rate, err := fitcommon.ReadWAVMono(path)
	if err != nil {
		return nil, err
	}
	if rate <= 0 {
		return nil, fmt.Errorf("capture: invalid sample rate %d in %s", rate, path)
	}
	mono, err = fitcommon.ResampleIfNeeded(mono, rate, RequiredSampleRate)
	if err != nil {
		return nil, err
	}

	samples := make([]float32, len(mono))
	for i, v := range mono {
		samples[i] = float32(v)
	}
	return &FileSource{path: path, samples: samples}, nil
}

// Duration returns the recording length in samples at 96 kHz.
func (s *FileSource) Duration() int {
	return len(s.samples)
}

// Devices lists the single pseudo-device backed by the file.
func (s *FileSource) Devices() ([]string, error) {
	return []string{s.path}, nil
}

// Start synchronously replays the whole file in blocks of 2048 samples.
func (s *FileSource) Start(device string, sampleRate int, fn BlockFunc) error {
	if sampleRate != RequiredSampleRate {
		return ErrUnsupportedRate
	}
	return s.Run(2048, fn)
}

// Run replays the file in blocks of the given size, stopping early if Stop
// is called from the block callback.
func (s *FileSource) Run(blockSize int, fn BlockFunc) error {
	if blockSize < 1 {
		return fmt.Errorf("capture: invalid block size %d", blockSize)
	}
	s.stopped = false
	for off := 0; off < len(s.samples); off += blockSize {
		if s.stopped {
			break
		}
		end := off + blockSize
		if end > len(s.samples) {
			end = len(s.samples)
		}
		fn(s.samples[off:end])
	}
	return nil
}

// Stop aborts an in-progress Run.
func (s *FileSource) Stop() error {
	s.stopped = true
	return nil
}
