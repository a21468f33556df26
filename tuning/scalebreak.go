package tuning

import (
	"fmt"
	"strings"
)

// PianoType is the coarse instrument category used to seed expectations about
// string scale design.
type PianoType int

const (
	PianoUnknown PianoType = iota
	PianoSpinet
	PianoConsole
	PianoProfessionalUpright
	PianoBabyGrand
	PianoParlorGrand
	PianoSemiConcertGrand
	PianoConcertGrand
)

var pianoTypeNames = map[PianoType]string{
	PianoUnknown:             "Unknown",
	PianoSpinet:              "Spinet",
	PianoConsole:             "Console",
	PianoProfessionalUpright: "ProfessionalUpright",
	PianoBabyGrand:           "BabyGrand",
	PianoParlorGrand:         "ParlorGrand",
	PianoSemiConcertGrand:    "SemiConcertGrand",
	PianoConcertGrand:        "ConcertGrand",
}

func (t PianoType) String() string {
	if s, ok := pianoTypeNames[t]; ok {
		return s
	}
	return "Unknown"
}

// ParsePianoType parses a piano type name. "Studio" is accepted as an alias
// of Console: studio uprights share the console scale design closely enough
// that they are collapsed onto one category.
func ParsePianoType(s string) (PianoType, error) {
	name := strings.TrimSpace(s)
	if strings.EqualFold(name, "Studio") {
		return PianoConsole, nil
	}
	for t, n := range pianoTypeNames {
		if strings.EqualFold(name, n) {
			return t, nil
		}
	}
	return PianoUnknown, fmt.Errorf("unknown piano type %q", s)
}

// Metadata describes the instrument under measurement.
type Metadata struct {
	Type           PianoType
	LengthCM       float64
	ScaleBreakMidi int
}

// Validate checks the metadata ranges: length 80..300 cm, scale break within
// MIDI 36..54.
func (m Metadata) Validate() error {
	if m.LengthCM < 80 || m.LengthCM > 300 {
		return fmt.Errorf("piano length %.1f cm out of range [80, 300]", m.LengthCM)
	}
	if m.ScaleBreakMidi < 36 || m.ScaleBreakMidi > 54 {
		return fmt.Errorf("scale break MIDI %d out of range [36, 54]", m.ScaleBreakMidi)
	}
	return nil
}

// BreakRegion classifies a note's position relative to the wound/plain string
// transition. Inharmonicity jumps by a factor of 2-4 across the break, so
// notes near it need special treatment.
type BreakRegion int

const (
	// BreakNone: the note is not near the scale break (or no break is known).
	BreakNone BreakRegion = iota
	// BreakWound: wound bass side, below the break.
	BreakWound
	// BreakTransition: immediately at the break, mixed behavior.
	BreakTransition
	// BreakPlain: plain steel side, above the break.
	BreakPlain
)

func (r BreakRegion) String() string {
	switch r {
	case BreakWound:
		return "wound"
	case BreakTransition:
		return "transition"
	case BreakPlain:
		return "plain"
	default:
		return "none"
	}
}

// ClassifyBreakRegion places a note relative to the scale break. Only notes
// within three semitones of the break are considered affected.
func ClassifyBreakRegion(midi, scaleBreak int) BreakRegion {
	if scaleBreak <= 0 {
		return BreakNone
	}
	d := midi - scaleBreak
	if d < -3 || d > 3 {
		return BreakNone
	}
	switch {
	case d < -1:
		return BreakWound
	case d > 1:
		return BreakPlain
	default:
		return BreakTransition
	}
}
