package dedup

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/utrading/utrading-live-engine/internal/cache"
	"github.com/utrading/utrading-live-engine/internal/coordination"
	"github.com/utrading/utrading-live-engine/internal/dao"
	"github.com/utrading/utrading-live-engine/internal/monitor"
	"github.com/utrading/utrading-live-engine/internal/signal"
	"github.com/utrading/utrading-live-engine/pkg/logger"
)

// Layer 做出判定的去重层
type Layer string

const (
	LayerCache        Layer = "cache"
	LayerCoordination Layer = "coordination"
	LayerStore        Layer = "store"
)

// ClaimResult 认领结果
type ClaimResult struct {
	Claimed  bool
	Layer    Layer
	Degraded bool // 协调存储不可用，仅依赖缓存和持久化层
}

// Deduplicator 三层指纹去重：进程缓存 -> 协调存储 -> signal_log 唯一索引
type Deduplicator struct {
	cache      *cache.RecencyCache
	coord      *coordination.Client
	signals    *dao.SignalDAO
	instanceID string
	claimTTL   time.Duration
	log        zerolog.Logger
}

func New(recency *cache.RecencyCache, coord *coordination.Client, signals *dao.SignalDAO, instanceID string, claimTTL time.Duration) *Deduplicator {
	if claimTTL <= 0 {
		claimTTL = 10 * time.Minute
	}
	return &Deduplicator{
		cache:      recency,
		coord:      coord,
		signals:    signals,
		instanceID: instanceID,
		claimTTL:   claimTTL,
		log:        logger.Component("dedup"),
	}
}

// Claim 依次检查三层，任一层判定重复即返回
// 持久化层是最终依据，协调存储与持久化层不一致时记录日志但不阻塞
func (d *Deduplicator) Claim(ctx context.Context, sig *signal.Signal) (ClaimResult, error) {
	fp := sig.Fingerprint

	if d.cache.Seen(fp) {
		monitor.IncDedupLayer(string(LayerCache), "duplicate")
		return ClaimResult{Layer: LayerCache}, nil
	}

	var (
		coordClaimed bool
		degraded     bool
	)
	if d.coord != nil {
		ok, err := d.coord.SetNX(ctx, coordination.ClaimKey(fp), d.instanceID, d.claimTTL)
		switch {
		case err != nil:
			degraded = true
			monitor.IncDedupDegraded()
			d.log.Warn().Err(err).Str("fingerprint", fp).Msg("coordination store unavailable, falling back to durable claim")
		case !ok:
			d.cache.Mark(fp)
			monitor.IncDedupLayer(string(LayerCoordination), "duplicate")
			return ClaimResult{Layer: LayerCoordination}, nil
		default:
			coordClaimed = true
		}
	} else {
		degraded = true
	}

	err := d.signals.Insert(ctx, sig.ToLog(d.instanceID))
	if errors.Is(err, dao.ErrDuplicate) {
		d.cache.Mark(fp)
		monitor.IncDedupLayer(string(LayerStore), "duplicate")
		if coordClaimed {
			monitor.IncDedupMismatch()
			d.log.Warn().Str("fingerprint", fp).Msg("coordination claim granted but signal_log already has fingerprint, durable store wins")
		}
		return ClaimResult{Layer: LayerStore, Degraded: degraded}, nil
	}
	if err != nil {
		// 未落库的认领释放掉，重试可重新认领
		if coordClaimed {
			d.release(ctx, fp)
		}
		return ClaimResult{Degraded: degraded}, errors.Wrap(err, "insert signal_log")
	}

	d.cache.Mark(fp)
	monitor.IncDedupLayer(string(LayerStore), "claimed")
	return ClaimResult{Claimed: true, Layer: LayerStore, Degraded: degraded}, nil
}

// release 删除本实例持有的认领 key
func (d *Deduplicator) release(ctx context.Context, fp string) {
	err := d.coord.ReleaseClaim(context.WithoutCancel(ctx), fp, d.instanceID)
	if err != nil {
		d.log.Warn().Err(err).Str("fingerprint", fp).Msg("release coordination claim failed, retries blocked until claim expires")
		return
	}
	d.log.Debug().Str("fingerprint", fp).Msg("coordination claim released")
}

// RecordDuplicate 重复信号留下持久化记录
func (d *Deduplicator) RecordDuplicate(ctx context.Context, fingerprint string) {
	if err := d.signals.IncDuplicate(ctx, fingerprint); err != nil && !errors.Is(err, dao.ErrNotFound) {
		d.log.Warn().Err(err).Str("fingerprint", fingerprint).Msg("record duplicate failed")
	}
}

// Warm 启动时用近期指纹预热缓存
func (d *Deduplicator) Warm(ctx context.Context, window time.Duration) (int, error) {
	fps, err := d.signals.FingerprintsSince(ctx, time.Now().Add(-window))
	if err != nil {
		return 0, err
	}
	for _, fp := range fps {
		d.cache.Mark(fp)
	}
	d.log.Info().Int("count", len(fps)).Msg("recency cache warmed")
	return len(fps), nil
}
