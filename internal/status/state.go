// internal/status/state.go
package status

// DeviceState is derived from flags and activity. It is never stored.
type DeviceState int

const (
	StateOff DeviceState = iota
	StateOn
	StateBusy
	StateOperable
	StateFatal
)

func (s DeviceState) String() string {
	switch s {
	case StateOff:
		return "off"
	case StateOn:
		return "on"
	case StateBusy:
		return "busy"
	case StateOperable:
		return "operable"
	case StateFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Derive computes the device state.
// Fatal wins over Operable, which wins over the activity states.
func Derive(fs Flags, powered, busy bool) DeviceState {
	switch {
	case fs.Fatal():
		return StateFatal
	case fs.Operable():
		return StateOperable
	case busy:
		return StateBusy
	case powered:
		return StateOn
	default:
		return StateOff
	}
}
