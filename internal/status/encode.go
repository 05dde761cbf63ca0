// internal/status/encode.go
package status

// Encode converts a Snapshot into a full actuator status block.
// Layout is protocol-locked. Name slots are left zero.
// No IO. No side effects.
func Encode(s Snapshot) []uint16 {
	regs := make([]uint16, SlotsPerDevice)

	regs[SlotHealthCode] = s.Health
	regs[SlotFlags] = s.Flags
	regs[SlotRevolutionHi] = uint16(uint32(s.Revolution) >> 16)
	regs[SlotRevolutionLo] = uint16(uint32(s.Revolution))
	regs[SlotAngle] = s.Angle
	regs[SlotSecondsInError] = s.SecondsInError

	return regs
}
