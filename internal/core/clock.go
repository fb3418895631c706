package core

import (
	"math"
	"time"
)

// Clock maps tick counter values to wall clock time using a session handshake.
type Clock struct {
	frequency uint64
	anchor    time.Time
	anchorTS  uint64
}

// NewClock builds a Clock from the handshake anchor.
func NewClock(h SessionHandshake) Clock {
	return Clock{
		frequency: h.TSCFrequency,
		anchor:    h.Anchor(),
		anchorTS:  h.AnchorTimestamp,
	}
}

// Anchor returns the wall clock time sampled together with AnchorTimestamp.
func (h SessionHandshake) Anchor() time.Time {
	return time.Unix(h.AnchorSeconds, h.AnchorNanoseconds)
}

// Duration converts a tick count to a duration. A zero frequency yields 0.
func (c Clock) Duration(ticks uint64) time.Duration {
	if c.frequency == 0 {
		return 0
	}
	secs := ticks / c.frequency
	rem := ticks % c.frequency
	if secs > uint64(math.MaxInt64/int64(time.Second)) {
		return time.Duration(math.MaxInt64)
	}
	// rem < frequency, so rem*1e9 can overflow only for frequencies above ~18 GHz.
	frac := float64(rem) * float64(time.Second) / float64(c.frequency)
	return time.Duration(secs)*time.Second + time.Duration(frac)
}

// WallTime converts a tick counter value to wall clock time.
// Ticks before the anchor map to times before the anchor.
func (c Clock) WallTime(ticks uint64) time.Time {
	if ticks >= c.anchorTS {
		return c.anchor.Add(c.Duration(ticks - c.anchorTS))
	}
	return c.anchor.Add(-c.Duration(c.anchorTS - ticks))
}
