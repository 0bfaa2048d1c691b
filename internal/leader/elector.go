package leader

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/utrading/utrading-live-engine/internal/coordination"
	"github.com/utrading/utrading-live-engine/internal/dao"
	"github.com/utrading/utrading-live-engine/internal/models"
	"github.com/utrading/utrading-live-engine/internal/monitor"
	"github.com/utrading/utrading-live-engine/pkg/logger"
)

// Elector 基于协调存储租约的 leader 选举
// 本地 leader 判定在租约到期时刻自动失效，与存储中的 expires_at 一致
type Elector struct {
	coord      *coordination.Client
	history    *dao.LeadershipDAO
	instanceID string
	resource   string
	ttl        time.Duration

	mu         sync.Mutex
	leader     bool
	expiresAt  time.Time
	leadCtx    context.Context
	leadCancel context.CancelFunc

	log zerolog.Logger
}

func NewElector(coord *coordination.Client, history *dao.LeadershipDAO, instanceID string, ttl time.Duration) *Elector {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Elector{
		coord:      coord,
		history:    history,
		instanceID: instanceID,
		resource:   coordination.SchedulerResource,
		ttl:        ttl,
		log:        logger.Component("leader"),
	}
}

func (e *Elector) InstanceID() string {
	return e.instanceID
}

// Run 选举循环，leader 每 ttl/2 续约，follower 每 ttl/4 尝试获取
func (e *Elector) Run(ctx context.Context) {
	e.log.Info().Str("resource", e.resource).Dur("ttl", e.ttl).Msg("leader election started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			resignCtx, cancel := context.WithTimeout(context.Background(), e.ttl/2)
			e.Resign(resignCtx)
			cancel()
			e.log.Info().Msg("leader election stopped")
			return
		case <-timer.C:
			e.Step(ctx)
			timer.Reset(e.interval())
		}
	}
}

func (e *Elector) interval() time.Duration {
	if e.IsLeader() {
		return e.ttl / 2
	}
	return e.ttl / 4
}

// Step 执行一轮获取或续约
func (e *Elector) Step(ctx context.Context) {
	e.mu.Lock()
	held := e.leader
	expired := held && !e.coord.Now().Before(e.expiresAt)
	e.mu.Unlock()

	if expired {
		e.demote(ctx, "lease expired without renewal")
		held = false
	}

	if held {
		rec, err := e.coord.Renew(ctx, e.resource, e.instanceID, e.ttl)
		switch {
		case err == nil:
			e.mu.Lock()
			e.expiresAt = rec.ExpiresAt
			e.mu.Unlock()
		case errors.Is(err, coordination.ErrNotHolder):
			e.demote(ctx, "lease taken over")
		default:
			e.log.Warn().Err(err).Msg("lease renewal failed")
		}
		return
	}

	rec, ok, err := e.coord.Acquire(ctx, e.resource, e.instanceID, e.ttl)
	if err != nil {
		e.log.Warn().Err(err).Msg("lease acquire failed")
		return
	}
	if ok {
		e.promote(ctx, rec)
	}
}

func (e *Elector) promote(ctx context.Context, rec coordination.LeaseRecord) {
	e.mu.Lock()
	e.leader = true
	e.expiresAt = rec.ExpiresAt
	e.leadCtx, e.leadCancel = context.WithCancel(context.Background())
	e.mu.Unlock()

	monitor.SetLeader(true)
	monitor.IncLeadershipChange(models.LeaseAcquired)
	e.log.Info().Time("expires_at", rec.ExpiresAt).Msg("became leader")
	e.record(ctx, models.LeaseAcquired, "", rec.ExpiresAt)
}

func (e *Elector) demote(ctx context.Context, reason string) {
	e.setFollower(ctx, models.LeaseDemoted, reason)
}

func (e *Elector) setFollower(ctx context.Context, event, reason string) {
	e.mu.Lock()
	if !e.leader {
		e.mu.Unlock()
		return
	}
	e.leader = false
	expiresAt := e.expiresAt
	if e.leadCancel != nil {
		e.leadCancel()
	}
	e.mu.Unlock()

	monitor.SetLeader(false)
	monitor.IncLeadershipChange(event)
	e.log.Warn().Str("event", event).Str("reason", reason).Msg("leadership lost")
	e.record(ctx, event, reason, expiresAt)
}

func (e *Elector) record(ctx context.Context, event, reason string, expiresAt time.Time) {
	if e.history == nil {
		return
	}
	err := e.history.Record(ctx, &models.LeadershipHistory{
		Resource:   e.resource,
		InstanceID: e.instanceID,
		Event:      event,
		Reason:     reason,
		ExpiresAt:  expiresAt,
	})
	if err != nil {
		e.log.Error().Err(err).Str("event", event).Msg("record leadership history failed")
	}
}

// IsLeader 本地判定，租约到期后即为 false
func (e *Elector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leader && e.coord.Now().Before(e.expiresAt)
}

// Verify leader 动作前重新读取存储中的持有者，不一致时降级
// 存储读取失败时返回 false 但不降级
func (e *Elector) Verify(ctx context.Context) bool {
	if !e.IsLeader() {
		return false
	}
	owner, found, err := e.coord.Owner(ctx, e.resource)
	if err != nil {
		e.log.Warn().Err(err).Msg("verify leadership failed")
		return false
	}
	if !found || owner.Holder != e.instanceID {
		e.log.Warn().Str("holder", owner.Holder).Msg("leadership verification mismatch")
		e.demote(ctx, "ownership mismatch")
		return false
	}
	return true
}

// LeadershipContext 当前任期的 context，降级时取消；非 leader 返回已取消的 context
func (e *Elector) LeadershipContext() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.leader && e.leadCtx != nil {
		return e.leadCtx
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// Resign 主动释放租约
func (e *Elector) Resign(ctx context.Context) {
	e.mu.Lock()
	held := e.leader
	e.mu.Unlock()
	if !held {
		return
	}
	if err := e.coord.Release(ctx, e.resource, e.instanceID); err != nil {
		e.log.Warn().Err(err).Msg("release lease failed")
	}
	e.setFollower(ctx, models.LeaseReleased, "resign")
}

// Role 当前角色
func (e *Elector) Role() string {
	if e.IsLeader() {
		return models.RoleLeader
	}
	return models.RoleFollower
}
