package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Exponential(t *testing.T) {
	t.Parallel()

	b := Backoff{Base: time.Second, Max: 10 * time.Second}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{200, 10 * time.Second},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, b.Delay(tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestBackoff_JitterBounds(t *testing.T) {
	t.Parallel()

	b := Backoff{Base: time.Second, Max: time.Minute, Jitter: 100 * time.Millisecond}

	for i := 0; i < 100; i++ {
		d := b.Delay(1)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, time.Second+100*time.Millisecond)
	}
}

func TestBackoff_InjectedJitter(t *testing.T) {
	t.Parallel()

	b := Backoff{Base: time.Second, Max: time.Minute, Jitter: time.Second,
		rand: func(n int64) int64 { return n - 1 }}

	assert.Equal(t, 3*time.Second, b.Delay(2))
}
