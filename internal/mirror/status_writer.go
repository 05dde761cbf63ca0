// internal/mirror/status_writer.go
package mirror

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tamzrod/hexapod/internal/status"
)

// StatusWriter is the delivery-only contract for actuator status.
// It receives a snapshot and writes it verbatim.
type StatusWriter interface {
	WriteStatus(s status.Snapshot) error
}

// endpointClient is the subset of the modbus endpoint client the writer uses.
type endpointClient interface {
	WriteRegisters(unitID uint8, addr uint16, regs []uint16) error
}

// StatusPlan places one actuator's block in status memory.
type StatusPlan struct {
	UnitID     uint8
	BaseSlot   uint16
	DeviceName string
}

// deviceStatusWriter owns one actuator block.
type deviceStatusWriter struct {
	plan StatusPlan
	cli  endpointClient

	needFull bool
	last     status.Snapshot
	nameRegs []uint16
}

func newDeviceStatusWriter(plan StatusPlan, cli endpointClient) *deviceStatusWriter {
	return &deviceStatusWriter{
		plan:     plan,
		cli:      cli,
		needFull: true, // full re-assert on first successful write
		last:     status.Snapshot{Health: status.HealthUnknown},
		nameRegs: encodeDeviceNameRegs(plan.DeviceName),
	}
}

// WriteStatus delivers a snapshot into status memory.
// On any write failure, the next successful call re-asserts the full block.
func (sw *deviceStatusWriter) WriteStatus(s status.Snapshot) error {
	if sw == nil {
		return errors.New("status writer: disabled")
	}
	if sw.cli == nil {
		return errors.New("status writer: missing client")
	}

	base := sw.baseAddr()

	if sw.needFull {
		if err := sw.cli.WriteRegisters(sw.plan.UnitID, base, sw.fullBlockRegs(s)); err != nil {
			return fmt.Errorf("status writer: full block write failed: %w", err)
		}
		sw.needFull = false
		sw.last = s
		return nil
	}

	var errs []string
	write := func(name string, slot int, regs ...uint16) bool {
		if err := sw.cli.WriteRegisters(sw.plan.UnitID, base+uint16(slot), regs); err != nil {
			errs = append(errs, fmt.Sprintf("slot%d %s write failed: %v", slot, name, err))
			return false
		}
		return true
	}

	if sw.last.Health != s.Health && write("health", status.SlotHealthCode, s.Health) {
		sw.last.Health = s.Health
	}
	if sw.last.Flags != s.Flags && write("flags", status.SlotFlags, s.Flags) {
		sw.last.Flags = s.Flags
	}
	if sw.last.Revolution != s.Revolution {
		r := status.Encode(s)
		if write("revolution", status.SlotRevolutionHi, r[status.SlotRevolutionHi], r[status.SlotRevolutionLo]) {
			sw.last.Revolution = s.Revolution
		}
	}
	if sw.last.Angle != s.Angle && write("angle", status.SlotAngle, s.Angle) {
		sw.last.Angle = s.Angle
	}
	if sw.last.SecondsInError != s.SecondsInError && write("seconds", status.SlotSecondsInError, s.SecondsInError) {
		sw.last.SecondsInError = s.SecondsInError
	}

	if len(errs) > 0 {
		// Any partial failure introduces doubt; re-assert on next success.
		sw.needFull = true
		return errors.New("status writer: " + strings.Join(errs, " | "))
	}
	return nil
}

func (sw *deviceStatusWriter) baseAddr() uint16 {
	// Each actuator owns a fixed SlotsPerDevice block.
	return sw.plan.BaseSlot * status.SlotsPerDevice
}

func (sw *deviceStatusWriter) fullBlockRegs(s status.Snapshot) []uint16 {
	regs := status.Encode(s)

	// Device name always lives at the end of the block
	for i := 0; i < status.SlotDeviceNameSlots && i < len(sw.nameRegs); i++ {
		regs[status.SlotDeviceNameStart+i] = sw.nameRegs[i]
	}
	return regs
}

// encodeDeviceNameRegs packs up to 16 ASCII characters into 8 registers,
// two bytes per register, big-endian.
func encodeDeviceNameRegs(name string) []uint16 {
	out := make([]uint16, status.SlotDeviceNameSlots)

	b := []byte(name)
	if len(b) > status.DeviceNameMaxChars {
		b = b[:status.DeviceNameMaxChars]
	}

	// sanitize to printable ASCII
	for i := range b {
		if b[i] < 0x20 || b[i] > 0x7E {
			b[i] = '?'
		}
	}

	for i := 0; i < status.DeviceNameMaxChars; i += 2 {
		var hi, lo byte
		if i < len(b) {
			hi = b[i]
		}
		if i+1 < len(b) {
			lo = b[i+1]
		}
		out[i/2] = uint16(hi)<<8 | uint16(lo)
	}
	return out
}
