// internal/bus/modbus/client_test.go
package modbus

import (
	"errors"
	"testing"
	"time"
)

// ---- fake register client ----

type fakeRegisters struct {
	writes     []regWrite
	voltage    uint16
	movingPoll int // number of polls reporting "moving" before idle
	failWrite  bool
}

type regWrite struct {
	addr  uint16
	value uint16
}

func (f *fakeRegisters) WriteSingleRegister(address, value uint16) ([]byte, error) {
	if f.failWrite {
		return nil, errors.New("write refused")
	}
	f.writes = append(f.writes, regWrite{addr: address, value: value})
	return []byte{byte(value >> 8), byte(value)}, nil
}

func (f *fakeRegisters) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	switch address % 16 {
	case regVoltage:
		return []byte{byte(f.voltage >> 8), byte(f.voltage)}, nil
	case regMoving:
		if f.movingPoll > 0 {
			f.movingPoll--
			return []byte{0, 1}, nil
		}
		return []byte{0, 0}, nil
	}
	return nil, errors.New("unexpected address")
}

func testClient(f *fakeRegisters) *Client {
	return newClient(Config{
		ChannelStride: 16,
		VoltageScale:  10000,
		MoveTimeout:   time.Second,
		PollInterval:  time.Microsecond,
	}, nil, f)
}

// ---- tests ----

func TestStepMotor_SignedCommandAtChannelBase(t *testing.T) {
	f := &fakeRegisters{movingPoll: 2}
	c := testClient(f)

	if err := c.StepMotor(3, -80); err != nil {
		t.Fatalf("StepMotor err=%v", err)
	}
	if len(f.writes) != 1 {
		t.Fatalf("expected 1 write, got %d", len(f.writes))
	}
	if f.writes[0].addr != 48 {
		t.Fatalf("addr got=%d want=48", f.writes[0].addr)
	}
	if int16(f.writes[0].value) != -80 {
		t.Fatalf("value got=%d want=-80", int16(f.writes[0].value))
	}
}

func TestStepMotor_SplitsLargeMoves(t *testing.T) {
	f := &fakeRegisters{}
	c := testClient(f)

	if err := c.StepMotor(0, 70000); err != nil {
		t.Fatalf("StepMotor err=%v", err)
	}
	if len(f.writes) != 3 {
		t.Fatalf("expected 3 writes, got %d", len(f.writes))
	}
	sum := 0
	for _, w := range f.writes {
		sum += int(int16(w.value))
	}
	if sum != 70000 {
		t.Fatalf("sum got=%d want=70000", sum)
	}
}

func TestReadEncoderVoltage_Scaled(t *testing.T) {
	f := &fakeRegisters{voltage: 23456}
	c := testClient(f)

	v, err := c.ReadEncoderVoltage(1)
	if err != nil {
		t.Fatalf("ReadEncoderVoltage err=%v", err)
	}
	if v != 2.3456 {
		t.Fatalf("voltage got=%v want=2.3456", v)
	}
}

func TestEnable_TracksState(t *testing.T) {
	f := &fakeRegisters{}
	c := testClient(f)

	if c.IsOn(2) {
		t.Fatalf("channel must start off")
	}
	if err := c.Enable(2); err != nil {
		t.Fatal(err)
	}
	if !c.IsOn(2) {
		t.Fatalf("channel should be on")
	}

	f.failWrite = true
	if err := c.Disable(2); err == nil {
		t.Fatalf("expected write failure")
	}
	if !c.IsOn(2) {
		t.Fatalf("failed disable must not change cached state")
	}
}
