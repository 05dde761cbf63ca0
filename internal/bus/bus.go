// internal/bus/bus.go
package bus

import "errors"

// Bus is the shared control bus. Channels are accessed sequentially;
// implementations serialize calls internally.
type Bus interface {
	// StepMotor issues signed micro-steps and returns once they are executed.
	StepMotor(ch uint8, steps int) error
	// ReadEncoderVoltage returns one raw sample of the rotary sensor.
	ReadEncoderVoltage(ch uint8) (float64, error)
	Enable(ch uint8) error
	Disable(ch uint8) error
	// IsOn reports the last known enable state of the channel.
	IsOn(ch uint8) bool
}

var (
	ErrDisabled       = errors.New("bus: channel disabled")
	ErrUnknownChannel = errors.New("bus: unknown channel")
)

// Channel binds one bus channel. It is the per-actuator hardware handle.
type Channel struct {
	bus Bus
	id  uint8
}

// Bind returns the handle for channel id on b.
func Bind(b Bus, id uint8) Channel {
	return Channel{bus: b, id: id}
}

func (c Channel) ID() uint8 { return c.id }

func (c Channel) Step(steps int) error { return c.bus.StepMotor(c.id, steps) }

func (c Channel) ReadVoltage() (float64, error) { return c.bus.ReadEncoderVoltage(c.id) }

func (c Channel) Enable() error { return c.bus.Enable(c.id) }

func (c Channel) Disable() error { return c.bus.Disable(c.id) }

func (c Channel) IsOn() bool { return c.bus.IsOn(c.id) }
