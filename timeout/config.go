package timeout

import "time"

// DefaultRetryFactor multiplies the previous deadline for the single retry.
const DefaultRetryFactor = 2.0

// Config is the timeout policy of one operation kind. The effective timeout
// of an operation is Base plus PerByte for every byte of context, clamped to
// [Min, Max]. Zero Min or Max disables that bound.
type Config struct {
	Base    time.Duration
	PerByte time.Duration
	Min     time.Duration
	Max     time.Duration

	// Interactive allows the user to be asked for one retry after a timeout.
	Interactive bool

	// RetryFactor scales the deadline of the retry (default 2).
	RetryFactor float64
	// RetryMax caps the retry deadline (default 2×Max).
	RetryMax time.Duration
}

// Effective returns the deadline for an operation carrying size bytes of
// context. It is non-decreasing in size and never exceeds Max. When Min
// exceeds Max, Max wins.
func (c Config) Effective(size int) time.Duration {
	if size < 0 {
		size = 0
	}
	perByte := c.PerByte
	if perByte < 0 {
		perByte = 0
	}
	d := c.Base + time.Duration(size)*perByte
	if c.Min > 0 && d < c.Min {
		d = c.Min
	}
	if c.Max > 0 && d > c.Max {
		d = c.Max
	}
	return d
}

// RetryTimeout returns the relaxed deadline used for the retry after prev
// elapsed: prev×RetryFactor, capped at RetryMax.
func (c Config) RetryTimeout(prev time.Duration) time.Duration {
	factor := c.RetryFactor
	if factor <= 0 {
		factor = DefaultRetryFactor
	}
	next := time.Duration(float64(prev) * factor)

	limit := c.RetryMax
	if limit <= 0 && c.Max > 0 {
		limit = 2 * c.Max
	}
	if limit > 0 && next > limit {
		next = limit
	}
	return next
}
