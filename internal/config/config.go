// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LegCount is the fixed number of actuators on the platform.
const LegCount = 6

type Config struct {
	Hexapod HexapodConfig `yaml:"hexapod"`
}

type HexapodConfig struct {
	Bus       BusConfig     `yaml:"bus"`
	Store     StoreConfig   `yaml:"store"`
	StatusDir string        `yaml:"status_dir"`
	Mirror    *MirrorConfig `yaml:"mirror"` // optional, opt-in
	Monitor   MonitorConfig `yaml:"monitor"`
	Legs      []LegConfig   `yaml:"legs"`
}

// ---- BUS ----

const (
	BusModbusTCP = "modbus-tcp"
	BusModbusRTU = "modbus-rtu"
	BusSerial    = "serial"
	BusSim       = "sim"
)

type BusConfig struct {
	Kind      string `yaml:"kind"`
	Endpoint  string `yaml:"endpoint"` // modbus-tcp
	Device    string `yaml:"device"`   // modbus-rtu, serial
	Baud      int    `yaml:"baud"`
	UnitID    uint8  `yaml:"unit_id"`
	TimeoutMs int    `yaml:"timeout_ms"`

	// Register geometry (modbus kinds)
	ChannelStride uint16  `yaml:"channel_stride"`
	VoltageScale  float64 `yaml:"voltage_scale"` // register counts per volt

	Sim *SimConfig `yaml:"sim"`
}

// SimConfig describes the simulated mechanics behind the sim bus.
type SimConfig struct {
	Seed       int64   `yaml:"seed"`
	NoiseVolts float64 `yaml:"noise_volts"`
	// Travel between the two physical endstops, in absolute steps.
	ExtendStop  int64 `yaml:"extend_stop"`
	RetractStop int64 `yaml:"retract_stop"`
	StartSteps  int64 `yaml:"start_steps"`
}

// ---- STORE ----

type StoreConfig struct {
	Path         string `yaml:"path"` // sqlite file; empty = in-memory
	MirrorStatus bool   `yaml:"mirror_status"`
}

// ---- MIRROR ----

type MirrorConfig struct {
	Endpoint  string `yaml:"endpoint"`
	UnitID    uint8  `yaml:"unit_id"`
	BaseSlot  uint16 `yaml:"base_slot"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// ---- MONITOR ----

type MonitorConfig struct {
	IntervalMs int `yaml:"interval_ms"`
}

// ---- LEG ----

type LegConfig struct {
	Serial  string `yaml:"serial"`
	Channel uint8  `yaml:"channel"`

	// Inline calibration. Only honoured for the sim bus; hardware legs
	// always load calibration from the store.
	Calibration *Calibration `yaml:"calibration"`
}

// Load reads and decodes a YAML config file. Unknown keys are rejected.
// It does not validate.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return &cfg, nil
}

var ErrNoConfig = errors.New("config: nil config")
