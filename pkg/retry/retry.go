package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"
)

// Backoff 指数退避参数
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64 // 0~1，按比例抖动
}

// DefaultBackoff 默认退避参数
func DefaultBackoff() Backoff {
	return Backoff{
		Min:    200 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

// Next returns the wait before the given attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	min := b.Min
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	max := b.Max
	if max <= 0 {
		max = 5 * time.Second
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}

	wait := min
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(wait) * factor)
		if next > max {
			wait = max
			break
		}
		wait = next
	}

	if b.Jitter <= 0 {
		return wait
	}
	jitter := b.Jitter
	if jitter > 1 {
		jitter = 1
	}
	delta := float64(wait) * jitter
	return wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}

// Policy 有界重试策略
type Policy struct {
	Attempts int
	Backoff  Backoff
}

// ErrExhausted 重试次数用尽
var ErrExhausted = errors.New("retry attempts exhausted")

// permanent 包装不应重试的错误
type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent 标记错误为不可重试，Do 会立即返回原错误
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

// Do 执行 fn，失败按退避重试，最多 Attempts 次。
// 返回的错误同时匹配 ErrExhausted 和最后一次的错误。
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		var perm permanent
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(p.Backoff.Next(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(ctx.Err(), lastErr.Error())
		case <-timer.C:
		}
	}
	return &exhaustedError{last: lastErr, attempts: attempts}
}

type exhaustedError struct {
	last     error
	attempts int
}

func (e *exhaustedError) Error() string {
	return errors.Wrapf(e.last, "retry attempts exhausted after %d", e.attempts).Error()
}

func (e *exhaustedError) Is(target error) bool { return target == ErrExhausted }

func (e *exhaustedError) Unwrap() error { return e.last }
