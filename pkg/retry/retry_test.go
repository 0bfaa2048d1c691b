package retry

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

var errBroker = errors.New("broker timeout")

func fastPolicy(attempts int) Policy {
	return Policy{Attempts: attempts, Backoff: Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond}}
}

func TestBackoff_NextGrowsAndCaps(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: 500 * time.Millisecond, Factor: 2}
	assert.Equal(t, 100*time.Millisecond, b.Next(1))
	assert.Equal(t, 200*time.Millisecond, b.Next(2))
	assert.Equal(t, 400*time.Millisecond, b.Next(3))
	assert.Equal(t, 500*time.Millisecond, b.Next(4))
	assert.Equal(t, 500*time.Millisecond, b.Next(10))
}

func TestBackoff_JitterBounds(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: time.Second, Factor: 2, Jitter: 0.5}
	for i := 0; i < 100; i++ {
		d := b.Next(1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestPolicy_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errBroker
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPolicy_Exhausted(t *testing.T) {
	calls := 0
	err := fastPolicy(4).Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errBroker
	})
	assert.Equal(t, 4, calls)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errBroker)
}

func TestPolicy_PermanentStops(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return Permanent(errBroker)
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, errBroker)
	assert.NotErrorIs(t, err, ErrExhausted)
}

func TestPolicy_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Attempts: 5, Backoff: Backoff{Min: time.Second, Max: time.Second}}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := p.Do(ctx, func(ctx context.Context, attempt int) error { return errBroker })
	assert.ErrorIs(t, err, context.Canceled)
}
