package domain

import "fmt"

// TimestampFlags records out-of-band presentation-time conditions, mirroring
// the flag bits a platform media framework attaches to a presentation time.
type TimestampFlags uint8

const (
	TimestampValid TimestampFlags = 1 << iota
	TimestampHasBeenRounded
	TimestampPositiveInfinity
	TimestampNegativeInfinity
	TimestampIndefinite
)

// Timestamp is a monotonic rational presentation time: value/timescale
// seconds since epoch. Two timestamps are equal iff every field matches;
// ordering uses cross-multiplied rational comparison, not float conversion.
type Timestamp struct {
	Value     int64
	Timescale int32
	Epoch     int64
	Flags     TimestampFlags
}

// NewTimestamp builds a valid timestamp for the given seconds value at the
// requested timescale (ticks per second).
func NewTimestamp(seconds float64, timescale int32) Timestamp {
	if timescale <= 0 {
		timescale = 1
	}
	return Timestamp{
		Value:     int64(seconds * float64(timescale)),
		Timescale: timescale,
		Flags:     TimestampValid,
	}
}

// Zero is the anchor/epoch-zero timestamp at a 1-second timescale.
func Zero() Timestamp {
	return Timestamp{Timescale: 1, Flags: TimestampValid}
}

func (t Timestamp) IsValid() bool {
	return t.Flags&TimestampValid != 0
}

// Seconds converts the rational value to a float64 for logging/metrics;
// never used for ordering decisions.
func (t Timestamp) Seconds() float64 {
	if t.Timescale == 0 {
		return 0
	}
	return float64(t.Epoch) + float64(t.Value)/float64(t.Timescale)
}

func (t Timestamp) Equal(o Timestamp) bool {
	return t.Value == o.Value && t.Timescale == o.Timescale &&
		t.Epoch == o.Epoch && t.Flags == o.Flags
}

// Compare returns -1, 0, or 1 or whether t is before, equal to, or after o,
// using cross-multiplied rational comparison (not float conversion).
func (t Timestamp) Compare(o Timestamp) int {
	if t.Epoch != o.Epoch {
		if t.Epoch < o.Epoch {
			return -1
		}
		return 1
	}
	left := t.Value * int64(o.Timescale)
	right := o.Value * int64(t.Timescale)
	switch {
	case left < right:
		return -1
	case left > right:
		return 1
	default:
		return 0
	}
}

func (t Timestamp) Before(o Timestamp) bool { return t.Compare(o) < 0 }
func (t Timestamp) After(o Timestamp) bool  { return t.Compare(o) > 0 }

// Sub returns t-o as a duration in seconds. Used for pre-roll windowing and
// pacing math where float precision is acceptable.
func (t Timestamp) Sub(o Timestamp) float64 {
	return t.Seconds() - o.Seconds()
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%.6fs", t.Seconds())
}
