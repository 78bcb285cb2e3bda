package subscription

import "time"

// Backoff is a capped exponential reconnect delay.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64

	current time.Duration
}

// DefaultBackoff returns 500ms doubling up to 30s.
func DefaultBackoff() Backoff {
	return Backoff{Initial: 500 * time.Millisecond, Max: 30 * time.Second, Factor: 2}
}

// Next returns the delay to wait now and advances the sequence.
func (b *Backoff) Next() time.Duration {
	if b.Initial <= 0 {
		*b = DefaultBackoff()
	}
	if b.Factor < 1 {
		b.Factor = 1
	}
	if b.current == 0 {
		b.current = b.Initial
	}
	d := b.current
	if d > b.Max && b.Max > 0 {
		d = b.Max
	}

	next := time.Duration(float64(b.current) * b.Factor)
	if b.Max > 0 && next > b.Max {
		next = b.Max
	}
	b.current = next
	return d
}

// Reset restarts the sequence at Initial.
func (b *Backoff) Reset() {
	b.current = 0
}
