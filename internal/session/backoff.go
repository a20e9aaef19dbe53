package session

import (
	"math/rand"
	"time"
)

// ReconnectPolicy shapes the reconnect attempts of a session after a transient loss.
type ReconnectPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     bool
	// MaxAttempts bounds the attempts between two successful opens; 0 is unbounded.
	MaxAttempts int
}

// Exhausted reports whether attempt (1-based) is past the budget.
func (p ReconnectPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt > p.MaxAttempts
}

// Delay returns the wait before attempt (1-based). The delay grows by Multiplier
// per attempt and is capped at Max. With Jitter the result is drawn from [d/2, d].
func (p ReconnectPolicy) Delay(attempt int, rng *rand.Rand) time.Duration {
	if p.Initial <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := p.Initial
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(d) * mult)
		if p.Max > 0 && next >= p.Max {
			d = p.Max
			break
		}
		if next <= d {
			break
		}
		d = next
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	if p.Jitter && rng != nil {
		half := d / 2
		d = half + time.Duration(rng.Int63n(int64(half)+1))
	}
	return d
}
