// internal/config/normalize.go
package config

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	h := &cfg.Hexapod

	if h.Bus.TimeoutMs == 0 {
		h.Bus.TimeoutMs = 1000
	}
	if h.Bus.Baud == 0 && (h.Bus.Kind == BusModbusRTU || h.Bus.Kind == BusSerial) {
		h.Bus.Baud = 115200
	}
	if h.Bus.ChannelStride == 0 {
		h.Bus.ChannelStride = 16
	}
	if h.Bus.VoltageScale == 0 {
		h.Bus.VoltageScale = 10000
	}
	if h.Bus.Kind == BusSim && h.Bus.Sim == nil {
		h.Bus.Sim = &SimConfig{}
	}

	if h.Monitor.IntervalMs == 0 {
		h.Monitor.IntervalMs = 1000
	}

	if h.Mirror != nil && h.Mirror.TimeoutMs == 0 {
		h.Mirror.TimeoutMs = h.Bus.TimeoutMs
	}

	for i := range h.Legs {
		l := &h.Legs[i]
		if l.Calibration == nil {
			continue
		}
		// Inline calibration inherits the leg serial.
		if l.Calibration.Serial == "" {
			l.Calibration.Serial = l.Serial
		}
		l.Calibration.ApplyDefaults()
	}
}
