package coordination

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/utrading/utrading-live-engine/internal/monitor"
)

var ErrNotHolder = errors.New("lease held by another instance")

const (
	ClaimPrefix       = "claim."
	SchedulerResource = "scheduler-lock"

	// 条件写竞争失败后的重试次数
	casAttempts = 3
)

// ClaimKey 信号指纹对应的协调 key
func ClaimKey(fingerprint string) string {
	return ClaimPrefix + fingerprint
}

// LeaseRecord 租约记录
type LeaseRecord struct {
	Resource  string    `json:"resource_name"`
	Holder    string    `json:"holder_instance_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired 到期时刻本身视为已过期
func (r LeaseRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Client 在 Backend 之上提供带过期时间的独占写和租约
type Client struct {
	backend   Backend
	opTimeout time.Duration
	now       func() time.Time
}

func NewClient(backend Backend, opTimeout time.Duration) *Client {
	if opTimeout <= 0 {
		opTimeout = 500 * time.Millisecond
	}
	return &Client{backend: backend, opTimeout: opTimeout, now: time.Now}
}

// WithClock 替换时钟
func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

func (c *Client) Now() time.Time {
	return c.now()
}

func (c *Client) Backend() Backend {
	return c.backend
}

func (c *Client) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opTimeout)
}

// SetNX 仅当 key 不存在或已过期时写入
func (c *Client) SetNX(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	_, ok, err := c.acquire(ctx, key, holder, ttl, false)
	if err != nil {
		monitor.IncCoordinationError("setnx")
	}
	return ok, err
}

// Acquire 获取租约，当前持有者再次获取视为续约
func (c *Client) Acquire(ctx context.Context, resource, holder string, ttl time.Duration) (LeaseRecord, bool, error) {
	rec, ok, err := c.acquire(ctx, resource, holder, ttl, true)
	if err != nil {
		monitor.IncCoordinationError("acquire")
	}
	return rec, ok, err
}

func (c *Client) acquire(ctx context.Context, key, holder string, ttl time.Duration, reentrant bool) (LeaseRecord, bool, error) {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	now := c.now()
	rec := LeaseRecord{Resource: key, Holder: holder, ExpiresAt: now.Add(ttl)}
	data, err := json.Marshal(rec)
	if err != nil {
		return LeaseRecord{}, false, err
	}

	for i := 0; i < casAttempts; i++ {
		err = c.backend.Create(ctx, key, data)
		if err == nil {
			return rec, true, nil
		}
		if !errors.Is(err, ErrKeyExists) {
			return LeaseRecord{}, false, errors.Wrapf(err, "create %s", key)
		}

		entry, err := c.backend.Get(ctx, key)
		if errors.Is(err, ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return LeaseRecord{}, false, errors.Wrapf(err, "get %s", key)
		}

		cur, decodeErr := decodeLease(entry.Value)
		live := decodeErr == nil && !cur.Expired(now)
		if live && !(reentrant && cur.Holder == holder) {
			return cur, false, nil
		}

		err = c.backend.Update(ctx, key, data, entry.Revision)
		if err == nil {
			return rec, true, nil
		}
		if !errors.Is(err, ErrRevisionMismatch) {
			return LeaseRecord{}, false, errors.Wrapf(err, "update %s", key)
		}
	}
	return LeaseRecord{}, false, nil
}

// Renew 续约，非持有者或租约已被接管返回 ErrNotHolder
func (c *Client) Renew(ctx context.Context, resource, holder string, ttl time.Duration) (LeaseRecord, error) {
	rec, err := c.renew(ctx, resource, holder, ttl)
	if err != nil && !errors.Is(err, ErrNotHolder) {
		monitor.IncCoordinationError("renew")
	}
	return rec, err
}

func (c *Client) renew(ctx context.Context, resource, holder string, ttl time.Duration) (LeaseRecord, error) {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	now := c.now()
	entry, err := c.backend.Get(ctx, resource)
	if errors.Is(err, ErrKeyNotFound) {
		return LeaseRecord{}, ErrNotHolder
	}
	if err != nil {
		return LeaseRecord{}, errors.Wrapf(err, "get %s", resource)
	}
	cur, err := decodeLease(entry.Value)
	if err != nil || cur.Holder != holder {
		return LeaseRecord{}, ErrNotHolder
	}

	rec := LeaseRecord{Resource: resource, Holder: holder, ExpiresAt: now.Add(ttl)}
	data, err := json.Marshal(rec)
	if err != nil {
		return LeaseRecord{}, err
	}
	err = c.backend.Update(ctx, resource, data, entry.Revision)
	if errors.Is(err, ErrRevisionMismatch) {
		return LeaseRecord{}, ErrNotHolder
	}
	if err != nil {
		return LeaseRecord{}, errors.Wrapf(err, "update %s", resource)
	}
	return rec, nil
}

// Release 释放租约，仅持有者可释放
func (c *Client) Release(ctx context.Context, resource, holder string) error {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	entry, err := c.backend.Get(ctx, resource)
	if errors.Is(err, ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		monitor.IncCoordinationError("release")
		return errors.Wrapf(err, "get %s", resource)
	}
	cur, err := decodeLease(entry.Value)
	if err == nil && cur.Holder != holder {
		return ErrNotHolder
	}
	err = c.backend.Delete(ctx, resource, entry.Revision)
	if errors.Is(err, ErrRevisionMismatch) {
		return ErrNotHolder
	}
	if err != nil {
		monitor.IncCoordinationError("release")
	}
	return err
}

// ReleaseClaim 释放信号指纹认领，仅认领者可释放
func (c *Client) ReleaseClaim(ctx context.Context, fingerprint, holder string) error {
	return c.Release(ctx, ClaimKey(fingerprint), holder)
}

// Owner 当前持有者，不存在或已过期时 found 为 false
func (c *Client) Owner(ctx context.Context, resource string) (LeaseRecord, bool, error) {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	entry, err := c.backend.Get(ctx, resource)
	if errors.Is(err, ErrKeyNotFound) {
		return LeaseRecord{}, false, nil
	}
	if err != nil {
		monitor.IncCoordinationError("owner")
		return LeaseRecord{}, false, errors.Wrapf(err, "get %s", resource)
	}
	cur, err := decodeLease(entry.Value)
	if err != nil || cur.Expired(c.now()) {
		return LeaseRecord{}, false, nil
	}
	return cur, true, nil
}

func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.opContext(ctx)
	defer cancel()
	return c.backend.Ping(ctx)
}

func decodeLease(data []byte) (LeaseRecord, error) {
	var rec LeaseRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return LeaseRecord{}, err
	}
	return rec, nil
}
