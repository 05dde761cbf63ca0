// internal/status/flags.go
package status

import "strings"

// Severity classifies an error flag.
type Severity int

const (
	// Operable flags are logged; motion continues.
	Operable Severity = iota
	// Fatal flags force the device into the Fatal state and refuse motion.
	Fatal
)

func (s Severity) String() string {
	if s == Fatal {
		return "fatal"
	}
	return "operable"
}

// Flag identifies one error condition.
// Declaration order is the persisted order and MUST NOT change; append only.
type Flag int

const (
	FlagHomeNotCalibrated Flag = iota
	FlagUnreliableMeasurement
	FlagLargeDeviation
	FlagHomeLost
	FlagMissedSteps
	FlagCycleAmbiguity
	FlagStuckAtEndstop
	FlagOneCycleUncertainty
	FlagStuckHomeNotSet
	FlagOutOfRange
	FlagEndstopNotFound
	FlagBusFault

	NumFlags
)

// Definition is the static description of a flag.
type Definition struct {
	Description string
	Severity    Severity
}

var definitions = [NumFlags]Definition{
	FlagHomeNotCalibrated:     {"home not calibrated", Operable},
	FlagUnreliableMeasurement: {"unreliable position measurement", Fatal},
	FlagLargeDeviation:        {"large recovered deviation", Operable},
	FlagHomeLost:              {"home lost", Fatal},
	FlagMissedSteps:           {"missed too many steps", Fatal},
	FlagCycleAmbiguity:        {"possible cycle ambiguity at endstop", Operable},
	FlagStuckAtEndstop:        {"stuck at endstop, home not set", Fatal},
	FlagOneCycleUncertainty:   {"possible one-cycle uncertainty", Operable},
	FlagStuckHomeNotSet:       {"stuck, home not set", Fatal},
	FlagOutOfRange:            {"move out of software range", Operable},
	FlagEndstopNotFound:       {"endstop not found", Fatal},
	FlagBusFault:              {"hardware bus failure", Fatal},
}

// Definition returns the static definition of f.
func (f Flag) Definition() Definition {
	if f < 0 || f >= NumFlags {
		return Definition{Description: "unknown flag", Severity: Fatal}
	}
	return definitions[f]
}

func (f Flag) String() string { return f.Definition().Description }

// Flags is the fixed-size error flag vector.
type Flags [NumFlags]bool

// Has reports whether f is set.
func (fs Flags) Has(f Flag) bool {
	return f >= 0 && f < NumFlags && fs[f]
}

// Fatal reports whether any Fatal flag is set.
func (fs Flags) Fatal() bool { return fs.any(Fatal) }

// Operable reports whether any Operable flag is set.
func (fs Flags) Operable() bool { return fs.any(Operable) }

func (fs Flags) any(sev Severity) bool {
	for f, set := range fs {
		if set && definitions[f].Severity == sev {
			return true
		}
	}
	return false
}

// Set returns the flags that are currently raised, in declaration order.
func (fs Flags) Set() []Flag {
	var out []Flag
	for f, set := range fs {
		if set {
			out = append(out, Flag(f))
		}
	}
	return out
}

// Bits packs the vector into a bitmask (bit i = flag i).
func (fs Flags) Bits() uint16 {
	var b uint16
	for f, set := range fs {
		if set {
			b |= 1 << uint(f)
		}
	}
	return b
}

func (fs Flags) String() string {
	set := fs.Set()
	if len(set) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(set))
	for _, f := range set {
		parts = append(parts, f.String())
	}
	return strings.Join(parts, ", ")
}
