// internal/status/constants.go
package status

// Actuator Status Block layout constants.
// These values define the mirror protocol and MUST NOT be configurable.

// ---- BLOCK GEOMETRY ----

// SlotsPerDevice is the fixed number of logical slots per actuator.
const SlotsPerDevice = 20

// ---- SLOT INDICES ----

// SlotHealthCode holds the derived device health.
const SlotHealthCode = 0

// SlotFlags holds the error flag bitmask (bit i = flag i).
const SlotFlags = 1

// SlotRevolutionHi and SlotRevolutionLo hold the signed revolution as int32.
const SlotRevolutionHi = 2
const SlotRevolutionLo = 3

// SlotAngle holds the angle in [0, N).
const SlotAngle = 4

// SlotSecondsInError holds the duration (in seconds) the actuator has been unhealthy.
const SlotSecondsInError = 5

// ---- RESERVED RANGE ----

// Slots 6-10 are reserved for future use.
const SlotReservedStart = 6
const SlotReservedEnd = 10

// ---- DEVICE NAME ----

// SlotDeviceNameStart is the first slot used for the actuator serial.
// The name is always placed at the END of the status block.
const SlotDeviceNameStart = 11

// SlotDeviceNameSlots is the number of slots reserved for the name.
const SlotDeviceNameSlots = 8

// SlotDeviceNameEnd is the last slot used for the name (inclusive).
const SlotDeviceNameEnd = SlotDeviceNameStart + SlotDeviceNameSlots - 1

// ---- LIMITS ----

// DeviceNameMaxChars is the maximum number of ASCII characters stored for the name.
const DeviceNameMaxChars = 16

// ---- HEALTH CODES ----

// HealthUnknown represents an unknown or boot state.
const HealthUnknown uint16 = 0

// HealthOK represents a powered, idle actuator.
const HealthOK uint16 = 1

// HealthError represents a Fatal actuator.
const HealthError uint16 = 2

// HealthStale represents a stale snapshot.
const HealthStale uint16 = 3

// HealthDisabled represents a powered-off actuator.
const HealthDisabled uint16 = 4

// HealthBusy represents an actuator executing motion or homing.
const HealthBusy uint16 = 5

// HealthWarning represents an actuator with Operable flags raised.
const HealthWarning uint16 = 6

// HealthFor maps a derived device state onto a health code.
func HealthFor(s DeviceState) uint16 {
	switch s {
	case StateOff:
		return HealthDisabled
	case StateOn:
		return HealthOK
	case StateBusy:
		return HealthBusy
	case StateOperable:
		return HealthWarning
	case StateFatal:
		return HealthError
	default:
		return HealthUnknown
	}
}
