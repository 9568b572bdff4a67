package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff sizes the delay before retry attempt n: base * 2^(n-1), capped at
// max, plus a random jitter in [0, jitter].
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration

	rand func(n int64) int64
}

func (b Backoff) Delay(attempt int) time.Duration {
	return b.exponential(attempt) + b.jitter()
}

func (b Backoff) exponential(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	d := float64(b.Base) * math.Pow(2, float64(attempt-1))

	if d >= float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

func (b Backoff) jitter() time.Duration {
	if b.Jitter <= 0 {
		return 0
	}
	r := b.rand
	if r == nil {
		r = rand.Int64N
	}
	return time.Duration(r(int64(b.Jitter) + 1))
}
