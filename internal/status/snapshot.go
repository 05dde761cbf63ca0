// internal/status/snapshot.go
package status

// Snapshot represents exactly what the mirror is allowed to deliver for one actuator.
// It contains no logic and no memory of the past beyond current state.
type Snapshot struct {
	Health         uint16
	Flags          uint16
	Revolution     int32
	Angle          uint16
	SecondsInError uint16
}
