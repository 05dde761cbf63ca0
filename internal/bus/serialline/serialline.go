// internal/bus/serialline/serialline.go
package serialline

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/tamzrod/hexapod/internal/bus"
)

// Line protocol (ASCII, newline-terminated, one request in flight):
//
//	STEP <ch> <steps>   -> OK            (sent once the move is finished)
//	VOLT <ch>           -> OK <volts>
//	EN <ch> <0|1>       -> OK
//	any                 -> ERR <message>

// Config holds serial port configuration.
type Config struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration
	// MoveTimeout bounds the wait for a STEP reply.
	MoveTimeout time.Duration
}

// Client implements bus.Bus over a serial-attached stepper controller.
type Client struct {
	mu          sync.Mutex
	port        io.ReadWriteCloser
	rd          *bufio.Reader
	replyWait   time.Duration
	moveTimeout time.Duration
	on          map[uint8]bool
}

var _ bus.Bus = (*Client)(nil)

// Open opens a native serial port.
func Open(cfg Config) (*Client, error) {
	if cfg.Device == "" {
		return nil, errors.New("bus serial: device required")
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("bus serial: open %s: %w", cfg.Device, err)
	}

	return NewWithPort(port, cfg), nil
}

// NewWithPort wraps an already open port.
func NewWithPort(port io.ReadWriteCloser, cfg Config) *Client {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}
	if cfg.MoveTimeout <= 0 {
		cfg.MoveTimeout = 5 * time.Second
	}
	return &Client{
		port:        port,
		rd:          bufio.NewReader(port),
		replyWait:   10 * cfg.ReadTimeout,
		moveTimeout: cfg.MoveTimeout,
		on:          make(map[uint8]bool),
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return nil
	}
	return c.port.Close()
}

// ---- bus.Bus ----

func (c *Client) StepMotor(ch uint8, steps int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.roundTrip(fmt.Sprintf("STEP %d %d", ch, steps), c.moveTimeout); err != nil {
		return fmt.Errorf("bus serial: step ch=%d: %w", ch, err)
	}
	return nil
}

func (c *Client) ReadEncoderVoltage(ch uint8) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	payload, err := c.roundTrip(fmt.Sprintf("VOLT %d", ch), c.replyWait)
	if err != nil {
		return 0, fmt.Errorf("bus serial: volt ch=%d: %w", ch, err)
	}
	v, err := strconv.ParseFloat(payload, 64)
	if err != nil {
		return 0, fmt.Errorf("bus serial: volt ch=%d: bad payload %q", ch, payload)
	}
	return v, nil
}

func (c *Client) Enable(ch uint8) error  { return c.setEnable(ch, true) }
func (c *Client) Disable(ch uint8) error { return c.setEnable(ch, false) }

func (c *Client) IsOn(ch uint8) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.on[ch]
}

// ---- internal helpers ----

func (c *Client) setEnable(ch uint8, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := 0
	if on {
		v = 1
	}
	if _, err := c.roundTrip(fmt.Sprintf("EN %d %d", ch, v), c.replyWait); err != nil {
		return fmt.Errorf("bus serial: enable=%v ch=%d: %w", on, ch, err)
	}
	c.on[ch] = on
	return nil
}

// roundTrip writes one request line and returns the payload after "OK".
func (c *Client) roundTrip(req string, wait time.Duration) (string, error) {
	if err := writeAll(c.port, []byte(req+"\n")); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}

	line, err := c.readLine(wait)
	if err != nil {
		return "", err
	}

	switch {
	case line == "OK":
		return "", nil
	case strings.HasPrefix(line, "OK "):
		return strings.TrimSpace(line[3:]), nil
	case strings.HasPrefix(line, "ERR"):
		return "", fmt.Errorf("controller: %s", strings.TrimSpace(strings.TrimPrefix(line, "ERR")))
	default:
		return "", fmt.Errorf("unexpected reply %q", line)
	}
}

// readLine keeps reading through port read timeouts until a full line
// arrives or wait elapses.
func (c *Client) readLine(wait time.Duration) (string, error) {
	deadline := time.Now().Add(wait)
	var sb strings.Builder

	for {
		chunk, err := c.rd.ReadString('\n')
		sb.WriteString(chunk)
		if err == nil {
			return strings.TrimSpace(sb.String()), nil
		}
		if !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read: %w", err)
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("no reply within %s", wait)
		}
	}
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}
