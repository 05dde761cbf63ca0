// internal/monitor/types.go
package monitor

import (
	"time"

	"github.com/tamzrod/hexapod/internal/position"
	"github.com/tamzrod/hexapod/internal/status"
)

// Sample is one actuator's observable state at a point in time.
type Sample struct {
	Serial   string
	State    status.DeviceState
	Position position.Position
	Flags    status.Flags
}

// Result is the snapshot produced by one sampling cycle.
type Result struct {
	At      time.Time
	Samples []Sample
}

// Snapshot converts a sample into the mirror's wire view. Seconds in
// error are owned by the mirror and left zero.
func (s Sample) Snapshot() status.Snapshot {
	return status.Snapshot{
		Health:     status.HealthFor(s.State),
		Flags:      s.Flags.Bits(),
		Revolution: int32(s.Position.Revolution),
		Angle:      uint16(s.Position.Angle),
	}
}
