// internal/bus/modbus/client.go
package modbus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/tamzrod/hexapod/internal/bus"
)

// ---- register map (per channel, base = ch * ChannelStride) ----

const (
	// Holding registers
	regStepCommand uint16 = 0 // int16 signed steps; write starts the move
	regEnable      uint16 = 1 // 0/1

	// Input registers
	regVoltage uint16 = 0 // sensor voltage, counts (VoltageScale per volt)
	regMoving  uint16 = 1 // non-zero while a move executes
)

const maxStepsPerCommand = 32767

// registers is the subset of modbus.Client the bus uses.
type registers interface {
	WriteSingleRegister(address, value uint16) ([]byte, error)
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
}

type closer interface {
	Close() error
}

// Config is minimal transport + geometry config.
type Config struct {
	// Exactly one of Endpoint (TCP) or Device (RTU) is used.
	Endpoint string
	Device   string
	Baud     int

	UnitID  uint8
	Timeout time.Duration

	ChannelStride uint16
	VoltageScale  float64

	// MoveTimeout bounds how long StepMotor waits for the controller to
	// report the move finished.
	MoveTimeout  time.Duration
	PollInterval time.Duration
}

// Client implements bus.Bus against a stepper/encoder controller exposed
// as a Modbus slave. It serializes requests: one control bus, one caller.
type Client struct {
	mu      sync.Mutex
	handler closer
	client  registers
	cfg     Config
	on      map[uint8]bool
}

var _ bus.Bus = (*Client)(nil)

// New connects a Modbus TCP or RTU handler depending on cfg.
func New(cfg Config) (*Client, error) {
	switch {
	case cfg.Endpoint != "":
		h := modbus.NewTCPClientHandler(cfg.Endpoint)
		h.Timeout = cfg.Timeout
		h.SlaveId = cfg.UnitID
		if err := h.Connect(); err != nil {
			return nil, fmt.Errorf("bus modbus: connect %s: %w", cfg.Endpoint, err)
		}
		return newClient(cfg, h, modbus.NewClient(h)), nil

	case cfg.Device != "":
		h := modbus.NewRTUClientHandler(cfg.Device)
		h.BaudRate = cfg.Baud
		h.DataBits = 8
		h.Parity = "N"
		h.StopBits = 1
		h.SlaveId = cfg.UnitID
		h.Timeout = cfg.Timeout
		if err := h.Connect(); err != nil {
			return nil, fmt.Errorf("bus modbus: open %s: %w", cfg.Device, err)
		}
		return newClient(cfg, h, modbus.NewClient(h)), nil
	}

	return nil, errors.New("bus modbus: endpoint or device required")
}

func newClient(cfg Config, h closer, r registers) *Client {
	if cfg.ChannelStride == 0 {
		cfg.ChannelStride = 16
	}
	if cfg.VoltageScale == 0 {
		cfg.VoltageScale = 10000
	}
	if cfg.MoveTimeout == 0 {
		cfg.MoveTimeout = 5 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Millisecond
	}
	return &Client{
		handler: h,
		client:  r,
		cfg:     cfg,
		on:      make(map[uint8]bool),
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handler == nil {
		return nil
	}
	return c.handler.Close()
}

// ---- bus.Bus ----

// StepMotor splits large requests into int16 commands and waits for each
// to finish before issuing the next.
func (c *Client) StepMotor(ch uint8, steps int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	base := c.base(ch)
	remaining := steps

	for remaining != 0 {
		piece := remaining
		if piece > maxStepsPerCommand {
			piece = maxStepsPerCommand
		}
		if piece < -maxStepsPerCommand {
			piece = -maxStepsPerCommand
		}

		if _, err := c.client.WriteSingleRegister(base+regStepCommand, uint16(int16(piece))); err != nil {
			return fmt.Errorf("bus modbus: step ch=%d: %w", ch, err)
		}
		if err := c.waitIdle(ch, base); err != nil {
			return err
		}
		remaining -= piece
	}
	return nil
}

func (c *Client) ReadEncoderVoltage(ch uint8) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := c.client.ReadInputRegisters(c.base(ch)+regVoltage, 1)
	if err != nil {
		return 0, fmt.Errorf("bus modbus: read voltage ch=%d: %w", ch, err)
	}
	if len(raw) < 2 {
		return 0, fmt.Errorf("bus modbus: short voltage payload ch=%d", ch)
	}
	counts := uint16(raw[0])<<8 | uint16(raw[1])
	return float64(counts) / c.cfg.VoltageScale, nil
}

func (c *Client) Enable(ch uint8) error  { return c.setEnable(ch, true) }
func (c *Client) Disable(ch uint8) error { return c.setEnable(ch, false) }

func (c *Client) IsOn(ch uint8) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.on[ch]
}

// ---- internal helpers ----

func (c *Client) base(ch uint8) uint16 {
	return uint16(ch) * c.cfg.ChannelStride
}

func (c *Client) setEnable(ch uint8, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var v uint16
	if on {
		v = 1
	}
	if _, err := c.client.WriteSingleRegister(c.base(ch)+regEnable, v); err != nil {
		return fmt.Errorf("bus modbus: enable=%v ch=%d: %w", on, ch, err)
	}
	c.on[ch] = on
	return nil
}

func (c *Client) waitIdle(ch uint8, base uint16) error {
	deadline := time.Now().Add(c.cfg.MoveTimeout)
	for {
		raw, err := c.client.ReadInputRegisters(base+regMoving, 1)
		if err != nil {
			return fmt.Errorf("bus modbus: poll moving ch=%d: %w", ch, err)
		}
		if len(raw) >= 2 && raw[0] == 0 && raw[1] == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("bus modbus: move timeout ch=%d after %s", ch, c.cfg.MoveTimeout)
		}
		time.Sleep(c.cfg.PollInterval)
	}
}
