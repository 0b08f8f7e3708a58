package push

import "time"

// BackoffPolicy decides the delay before reconnect attempt n (1-based) and
// caps the total number of attempts per outage. Two shapes are in use:
// the domestic channel grows exponentially with a ceiling, the London
// channel retries on a fixed delay.
type BackoffPolicy struct {
	// Fixed, when non-zero, is used for every attempt and the exponential
	// fields are ignored.
	Fixed time.Duration

	Base       time.Duration
	Multiplier float64
	Max        time.Duration

	// MaxAttempts is the hard cap per outage. Exhausting it is terminal.
	MaxAttempts int
}

// ExponentialBackoff is the domestic channel policy: 1s, 2s, 4s ... capped
// at 30s, up to 10 attempts.
func ExponentialBackoff() BackoffPolicy {
	return BackoffPolicy{
		Base:        time.Second,
		Multiplier:  2,
		Max:         30 * time.Second,
		MaxAttempts: 10,
	}
}

// FixedBackoff is the London channel policy: 3s flat, up to 5 attempts.
func FixedBackoff() BackoffPolicy {
	return BackoffPolicy{
		Fixed:       3 * time.Second,
		MaxAttempts: 5,
	}
}

// Delay returns the wait before attempt n (1-based).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if p.Fixed > 0 {
		return p.Fixed
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d >= p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		return p.Max
	}
	return d
}
