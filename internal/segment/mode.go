package segment

import (
	"fmt"
	"image"
	"strings"
)

// Mode selects how a frame is segmented.
type Mode int

const (
	// PersonFast is probabilistic person segmentation tuned for throughput.
	PersonFast Mode = iota
	// PersonBalanced trades accuracy against cost. It is the default.
	PersonBalanced
	// PersonAccurate is the slowest and most accurate person segmentation.
	PersonAccurate
	// ForegroundInstanceMask returns hard per-instance masks with no threshold.
	ForegroundInstanceMask
)

// DefaultMode is used when no mode has been configured.
const DefaultMode = PersonBalanced

var modeNames = map[Mode]string{
	PersonFast:             "person_fast",
	PersonBalanced:         "person_balanced",
	PersonAccurate:         "person_accurate",
	ForegroundInstanceMask: "foreground_instance",
}

// Modes lists every mode from cheapest to most expensive.
func Modes() []Mode {
	return []Mode{PersonFast, PersonBalanced, PersonAccurate, ForegroundInstanceMask}
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	_, ok := modeNames[m]
	return ok
}

// Probabilistic reports whether results need a threshold to become alpha.
func (m Mode) Probabilistic() bool {
	return m == PersonFast || m == PersonBalanced || m == PersonAccurate
}

// Highest returns the most accurate mode of the same family.
func (m Mode) Highest() Mode {
	if m.Probabilistic() {
		return PersonAccurate
	}
	return m
}

// ParseMode parses a mode name as produced by String. The short forms
// "fast", "balanced", "accurate" and "instance" are also accepted.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "person_fast", "fast":
		return PersonFast, nil
	case "person_balanced", "balanced", "":
		return PersonBalanced, nil
	case "person_accurate", "accurate":
		return PersonAccurate, nil
	case "foreground_instance", "instance":
		return ForegroundInstanceMask, nil
	}
	return DefaultMode, fmt.Errorf("unknown segmentation mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid segmentation mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ModeConfig is the immutable per-call configuration derived from a Mode.
// Backends receive it with every request instead of holding mode state.
type ModeConfig struct {
	Mode Mode
	// Quality names the tier for backends that take a symbolic setting.
	Quality string
	// InputSize is the network input resolution for this tier.
	InputSize image.Point
	// Instances requests hard per-instance output.
	Instances bool
}

// Config returns the configuration for m.
func (m Mode) Config() ModeConfig {
	switch m {
	case PersonFast:
		return ModeConfig{Mode: m, Quality: "fast", InputSize: image.Pt(256, 256)}
	case PersonAccurate:
		return ModeConfig{Mode: m, Quality: "accurate", InputSize: image.Pt(1024, 1024)}
	case ForegroundInstanceMask:
		return ModeConfig{Mode: m, Quality: "accurate", InputSize: image.Pt(1024, 1024), Instances: true}
	default:
		return ModeConfig{Mode: PersonBalanced, Quality: "balanced", InputSize: image.Pt(512, 512)}
	}
}
