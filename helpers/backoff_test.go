package helpers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	b := Backoff{Min: 10 * time.Millisecond, Max: 40 * time.Millisecond, K: 2}
	assert.Equal(t, time.Duration(0), b.DelayBefore())
	b.Failure()
	assert.InDelta(t, float64(10*time.Millisecond), float64(b.DelayBefore()), float64(5*time.Millisecond))
	b.Failure()
	assert.InDelta(t, float64(20*time.Millisecond), float64(b.DelayBefore()), float64(5*time.Millisecond))
	b.Failure()
	b.Failure()
	assert.True(t, b.DelayBefore() <= 40*time.Millisecond)
	b.Reset()
	assert.True(t, b.DelayBefore() <= 10*time.Millisecond)
}

func TestBackoffRetry(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		failures  int
		attempts  int
		expectErr string
		expectN   int
	}{
		{"first", 0, 3, "", 1},
		{"third", 2, 3, "", 3},
		{"exhausted", 5, 3, "fail 3", 3},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			b := Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond, K: 2}
			n := 0
			err := b.Retry(context.Background(), c.attempts, func(attempt int) error {
				n = attempt
				if attempt <= c.failures {
					return fmt.Errorf("fail %d", attempt)
				}
				return nil
			})
			assert.Equal(t, c.expectN, n)
			if c.expectErr == "" {
				require.NoError(t, err)
			} else {
				require.EqualError(t, err, c.expectErr)
			}
		})
	}
}

func TestBackoffRetryCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := Backoff{Min: time.Second, Max: time.Second, K: 1}
	err := b.Retry(ctx, 3, func(int) error { return fmt.Errorf("down") })
	assert.Equal(t, context.Canceled, err)
}
