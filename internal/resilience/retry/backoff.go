package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff defines exponential backoff behavior between retry attempts.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
	MaxAttempts  int
}

// DefaultBackoff provides sensible defaults.
var DefaultBackoff = Backoff{
	InitialDelay: 1 * time.Second,
	MaxDelay:     30 * time.Second,
	Multiplier:   2.0,
	Jitter:       true,
	MaxAttempts:  3,
}

// Delay computes the delay before the retry following the given attempt
// (1-indexed): InitialDelay * Multiplier^(attempt-1), capped at MaxDelay,
// jittered by up to ±10% when enabled. Pure except for the jitter draw.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(b.InitialDelay) * math.Pow(b.Multiplier, float64(attempt-1))
	if delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}

	if b.Jitter {
		delay *= 0.9 + 0.2*rand.Float64()
		if delay > float64(b.MaxDelay) {
			delay = float64(b.MaxDelay)
		}
	}

	return time.Duration(delay)
}
