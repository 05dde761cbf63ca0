// internal/position/position_test.go
package position

import "testing"

func TestPredict_RoundTripSteps(t *testing.T) {
	const n = 200

	starts := []Position{{0, 0}, {50, 0}, {-3, 199}, {7, 42}, {-1, 0}}
	deltas := []int64{0, 1, -1, 199, -200, 201, -10001, 123456, -90}

	for _, p := range starts {
		for _, s := range deltas {
			got := Predict(p, s, n)

			if ToSteps(got, n) != ToSteps(p, n)+s {
				t.Fatalf("steps mismatch for %v%+d: got=%d want=%d", p, s, ToSteps(got, n), ToSteps(p, n)+s)
			}
			if got.Angle < 0 || got.Angle >= n {
				t.Fatalf("angle out of range for %v%+d: got=%d", p, s, got.Angle)
			}
		}
	}
}

func TestPredict_NegativeCrossesRevolution(t *testing.T) {
	// 10000 -> 9910
	got := Predict(Position{Revolution: 50}, -90, 200)
	want := Position{Revolution: 49, Angle: 110}
	if got != want {
		t.Fatalf("got=%v want=%v", got, want)
	}

	got = Predict(Position{}, -1, 200)
	want = Position{Revolution: -1, Angle: 199}
	if got != want {
		t.Fatalf("got=%v want=%v", got, want)
	}
}

func TestWrap(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 0}, {199, 199}, {200, 0}, {-1, 199}, {-201, 199}, {401, 1},
	}
	for _, c := range cases {
		if got := Wrap(c.in, 200); got != c.want {
			t.Fatalf("Wrap(%d) got=%d want=%d", c.in, got, c.want)
		}
	}
}

func TestNearest(t *testing.T) {
	cases := []struct{ in, want int }{
		{3, 3}, {-3, -3}, {198, -2}, {-198, 2}, {100, 100},
	}
	for _, c := range cases {
		if got := Nearest(c.in, 200); got != c.want {
			t.Fatalf("Nearest(%d) got=%d want=%d", c.in, got, c.want)
		}
	}
}
