// internal/status/record.go
package status

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tamzrod/hexapod/internal/position"
)

// Record is the durable snapshot of last known position and error flags.
type Record struct {
	Time     time.Time
	Position position.Position
	Flags    Flags
}

// timeFields is the number of leading timestamp integers in a record line.
const timeFields = 6

var ErrMalformedRecord = errors.New("status: malformed record")

// EncodeLine renders r as one newline-terminated line of ASCII integers:
// year month day hour minute second, revolution, angle, then one 0/1 per flag
// in declaration order.
func EncodeLine(r Record) string {
	t := r.Time.UTC()

	var b strings.Builder
	fmt.Fprintf(&b, "%d %d %d %d %d %d %d %d",
		t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second(),
		r.Position.Revolution, r.Position.Angle,
	)
	for _, set := range r.Flags {
		if set {
			b.WriteString(" 1")
		} else {
			b.WriteString(" 0")
		}
	}
	b.WriteByte('\n')
	return b.String()
}

// DecodeLine parses a line produced by EncodeLine.
// Records written before newer flags were appended decode with those flags clear.
func DecodeLine(line string) (Record, error) {
	fields := strings.Fields(line)
	if len(fields) < timeFields+2 {
		return Record{}, fmt.Errorf("%w: %d fields", ErrMalformedRecord, len(fields))
	}
	if len(fields) > timeFields+2+int(NumFlags) {
		return Record{}, fmt.Errorf("%w: %d fields, at most %d expected", ErrMalformedRecord, len(fields), timeFields+2+int(NumFlags))
	}

	vals := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return Record{}, fmt.Errorf("%w: field %d: %v", ErrMalformedRecord, i, err)
		}
		vals[i] = v
	}

	var r Record
	r.Time = time.Date(vals[0], time.Month(vals[1]), vals[2], vals[3], vals[4], vals[5], 0, time.UTC)
	r.Position = position.Position{Revolution: vals[6], Angle: vals[7]}

	for i, v := range vals[timeFields+2:] {
		switch v {
		case 0:
		case 1:
			r.Flags[i] = true
		default:
			return Record{}, fmt.Errorf("%w: flag %d value %d", ErrMalformedRecord, i, v)
		}
	}

	return r, nil
}
