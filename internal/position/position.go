// internal/position/position.go
package position

import "fmt"

// Position is a modular leadscrew position.
// Angle is always normalized into [0, N); Revolution may be negative.
type Position struct {
	Revolution int `yaml:"revolution"`
	Angle      int `yaml:"angle"`
}

// Home is the canonical reference established by homing.
var Home = Position{}

func (p Position) String() string {
	return fmt.Sprintf("(%d,%d)", p.Revolution, p.Angle)
}

// ToSteps returns the absolute step count revolution*n + angle.
func ToSteps(p Position, n int) int64 {
	return int64(p.Revolution)*int64(n) + int64(p.Angle)
}

// FromSteps splits an absolute step count using floor semantics,
// so the angle lands in [0, n) for either sign of total.
func FromSteps(total int64, n int) Position {
	rev := total / int64(n)
	ang := total % int64(n)
	if ang < 0 {
		rev--
		ang += int64(n)
	}
	return Position{Revolution: int(rev), Angle: int(ang)}
}

// Predict returns the position reached from p after delta signed steps.
// It is the only primitive used to reason about a position before it is verified.
func Predict(p Position, delta int64, n int) Position {
	return FromSteps(ToSteps(p, n)+delta, n)
}

// Wrap normalizes an arbitrary angle into [0, n).
func Wrap(angle, n int) int {
	a := angle % n
	if a < 0 {
		a += n
	}
	return a
}

// Nearest picks, among d-n, d and d+n, the signed deviation with the
// smallest magnitude.
func Nearest(d, n int) int {
	best := d
	for _, c := range [2]int{d - n, d + n} {
		if abs(c) < abs(best) {
			best = c
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
