package coordination

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestClient(b Backend, clock *fakeClock) *Client {
	return NewClient(b, time.Second).WithClock(clock.Now)
}

func TestSetNX_SingleWinner(t *testing.T) {
	clock := newFakeClock()
	b := NewMemoryBackend(time.Hour)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newTestClient(b, clock)
			ok, err := c.SetNX(ctx, ClaimKey("fp1"), "inst", time.Minute)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestSetNX_NotReentrant(t *testing.T) {
	clock := newFakeClock()
	c := newTestClient(NewMemoryBackend(time.Hour), clock)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "claim.a", "inst-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "claim.a", "inst-a", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetNX_ExpiredKeyReclaimable(t *testing.T) {
	clock := newFakeClock()
	c := newTestClient(NewMemoryBackend(time.Hour), clock)
	ctx := context.Background()

	ok, _ := c.SetNX(ctx, "claim.a", "inst-a", time.Minute)
	require.True(t, ok)

	clock.Advance(time.Minute)
	ok, err := c.SetNX(ctx, "claim.a", "inst-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	owner, found, err := c.Owner(ctx, "claim.a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "inst-b", owner.Holder)
}

func TestReleaseClaim_OnlyHolder(t *testing.T) {
	clock := newFakeClock()
	c := newTestClient(NewMemoryBackend(time.Hour), clock)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, ClaimKey("fp1"), "inst-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, c.ReleaseClaim(ctx, "fp1", "inst-b"), ErrNotHolder)
	_, found, err := c.Owner(ctx, ClaimKey("fp1"))
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, c.ReleaseClaim(ctx, "fp1", "inst-a"))
	ok, err = c.SetNX(ctx, ClaimKey("fp1"), "inst-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// 已不存在的 key 释放不报错
	assert.NoError(t, c.ReleaseClaim(ctx, "fp2", "inst-a"))
}

func TestLease_AcquireRenewRelease(t *testing.T) {
	clock := newFakeClock()
	b := NewMemoryBackend(time.Hour)
	a := newTestClient(b, clock)
	other := newTestClient(b, clock)
	ctx := context.Background()

	rec, ok, err := a.Acquire(ctx, SchedulerResource, "a", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(10*time.Second), rec.ExpiresAt)

	// 持有者再次获取成功
	_, ok, err = a.Acquire(ctx, SchedulerResource, "a", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	cur, ok, err := other.Acquire(ctx, SchedulerResource, "b", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "a", cur.Holder)

	_, err = other.Renew(ctx, SchedulerResource, "b", 10*time.Second)
	assert.ErrorIs(t, err, ErrNotHolder)

	clock.Advance(5 * time.Second)
	rec, err = a.Renew(ctx, SchedulerResource, "a", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(10*time.Second), rec.ExpiresAt)

	assert.ErrorIs(t, other.Release(ctx, SchedulerResource, "b"), ErrNotHolder)
	require.NoError(t, a.Release(ctx, SchedulerResource, "a"))

	_, found, err := a.Owner(ctx, SchedulerResource)
	require.NoError(t, err)
	assert.False(t, found)

	_, ok, err = other.Acquire(ctx, SchedulerResource, "b", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLease_TakeoverAfterExpiry(t *testing.T) {
	clock := newFakeClock()
	b := NewMemoryBackend(time.Hour)
	a := newTestClient(b, clock)
	c := newTestClient(b, clock)
	ctx := context.Background()

	_, ok, _ := a.Acquire(ctx, SchedulerResource, "a", 10*time.Second)
	require.True(t, ok)

	clock.Advance(10 * time.Second)
	_, found, err := c.Owner(ctx, SchedulerResource)
	require.NoError(t, err)
	assert.False(t, found)

	_, ok, err = c.Acquire(ctx, SchedulerResource, "c", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	// 原持有者无法续约
	_, err = a.Renew(ctx, SchedulerResource, "a", 10*time.Second)
	assert.ErrorIs(t, err, ErrNotHolder)
}

func TestClient_BackendErrorsSurface(t *testing.T) {
	clock := newFakeClock()
	b := NewMemoryBackend(time.Hour)
	c := newTestClient(b, clock)
	b.SetUnavailable(true)
	ctx := context.Background()

	_, err := c.SetNX(ctx, "claim.x", "a", time.Minute)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, _, err = c.Owner(ctx, "claim.x")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = c.Renew(ctx, "claim.x", "a", time.Minute)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrNotHolder)
}

func TestClient_BadgerBackendLease(t *testing.T) {
	b, err := OpenBadger("", time.Hour)
	require.NoError(t, err)
	defer b.Close()

	clock := newFakeClock()
	c := newTestClient(b, clock)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, ClaimKey("abc"), "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, ClaimKey("abc"), "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}
