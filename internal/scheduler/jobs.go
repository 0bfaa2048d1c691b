package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/utrading/utrading-live-engine/config"
	"github.com/utrading/utrading-live-engine/internal/dao"
	"github.com/utrading/utrading-live-engine/internal/instrument"
	"github.com/utrading/utrading-live-engine/internal/models"
	"github.com/utrading/utrading-live-engine/internal/monitor"
	"github.com/utrading/utrading-live-engine/internal/nats"
	"github.com/utrading/utrading-live-engine/pkg/logger"
)

const (
	JobRollover = "rollover"
	JobPrune    = "prune"
	JobStats    = "stats"
)

// AlertPublisher 换月提醒下游，nil 时只记录日志
type AlertPublisher interface {
	PublishRollover(a *nats.RolloverAlert) error
}

// Tasks leader 周期任务
type Tasks struct {
	catalog    *instrument.Catalog
	positions  *dao.PositionDAO
	signals    *dao.SignalDAO
	instances  *dao.InstanceDAO
	leadership *dao.LeadershipDAO
	alerts     AlertPublisher
	cfg        config.Scheduler
	now        func() time.Time
}

func NewTasks(db *gorm.DB, catalog *instrument.Catalog, alerts AlertPublisher, cfg config.Scheduler) *Tasks {
	return &Tasks{
		catalog:    catalog,
		positions:  dao.NewPositionDAO(db),
		signals:    dao.NewSignalDAO(db),
		instances:  dao.NewInstanceDAO(db),
		leadership: dao.NewLeadershipDAO(db),
		alerts:     alerts,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Register 注册全部任务
func (t *Tasks) Register(s *Scheduler) {
	s.Register(Job{Name: JobRollover, Interval: t.cfg.RolloverInterval, Run: func(ctx context.Context) error {
		_, err := t.Rollover(ctx)
		return err
	}})
	s.Register(Job{Name: JobPrune, Interval: t.cfg.PruneInterval, Run: t.Prune})
	s.Register(Job{Name: JobStats, Interval: t.cfg.StatsInterval, Run: func(ctx context.Context) error {
		_, err := t.Stats(ctx)
		return err
	}})
}

// Rollover 有持仓且距到期不超过 RolloverDays 天的品种发送换月提醒
func (t *Tasks) Rollover(ctx context.Context) ([]*nats.RolloverAlert, error) {
	open, err := t.positions.ListOpen(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list open positions")
	}

	byInstrument := make(map[string][]*models.Position)
	for _, p := range open {
		byInstrument[p.Instrument] = append(byInstrument[p.Instrument], p)
	}
	symbols := make([]string, 0, len(byInstrument))
	for s := range byInstrument {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	now := t.now()
	var alerts []*nats.RolloverAlert
	for _, symbol := range symbols {
		days, ok := t.catalog.DaysToExpiry(symbol, now)
		if !ok || days > t.cfg.RolloverDays {
			continue
		}
		inst, _ := t.catalog.Get(symbol)
		alert := &nats.RolloverAlert{
			Instrument:   symbol,
			BrokerSymbol: inst.BrokerSymbol,
			Expiry:       inst.Expiry.Format("2006-01-02"),
			DaysToExpiry: days,
			Positions:    len(byInstrument[symbol]),
			Timestamp:    now.UnixMilli(),
		}
		for _, p := range byInstrument[symbol] {
			alert.OpenLots += p.Lots
		}
		alerts = append(alerts, alert)

		logger.Warn().
			Str("instrument", symbol).
			Int("days_to_expiry", days).
			Int64("open_lots", alert.OpenLots).
			Msg("open position approaching expiry")
		if t.alerts != nil {
			if err = t.alerts.PublishRollover(alert); err != nil {
				logger.Error().Err(err).Str("instrument", symbol).Msg("publish rollover alert failed")
			}
		}
		if err = ctx.Err(); err != nil {
			return alerts, err
		}
	}
	return alerts, nil
}

// Prune 超时未完成的认领转为人工处理，清理过期审计记录和失联实例
func (t *Tasks) Prune(ctx context.Context) error {
	now := t.now()

	// 认领后长时间没有结果，可能已经到达券商，交给人工核对
	stale, err := t.signals.MarkStaleClaims(ctx, now.Add(-t.cfg.StaleClaimAfter), models.SignalManualReview, "stale claim")
	if err != nil {
		return errors.Wrap(err, "mark stale claims")
	}
	if stale > 0 {
		logger.Warn().Int64("count", stale).Msg("stale claims moved to manual review")
	}

	cutoff := now.Add(-t.cfg.Retention)
	signals, err := t.signals.DeleteOld(ctx, cutoff)
	if err != nil {
		return errors.Wrap(err, "delete old signal_log")
	}
	history, err := t.leadership.DeleteOld(ctx, cutoff)
	if err != nil {
		return errors.Wrap(err, "delete old leadership_history")
	}
	instances, err := t.instances.DeleteStale(ctx, now.Add(-t.cfg.InstanceStaleAfter))
	if err != nil {
		return errors.Wrap(err, "delete stale instances")
	}

	if signals+history+instances > 0 {
		logger.Info().
			Int64("signal_log", signals).
			Int64("leadership_history", history).
			Int64("instances", instances).
			Time("cutoff", cutoff).
			Msg("pruned old records")
	}
	return nil
}

// Stats 跨实例统计
type Stats struct {
	InstancesAlive int              `json:"instances_alive"`
	OpenPositions  int64            `json:"open_positions"`
	SignalsBy      map[string]int64 `json:"signals_by_status"`
}

// Stats 统计存活实例、持仓数、各状态信号数，写入指标
func (t *Tasks) Stats(ctx context.Context) (*Stats, error) {
	window := 3 * t.cfg.HeartbeatInterval
	if window <= 0 {
		window = 30 * time.Second
	}
	alive, err := t.instances.ListAlive(ctx, t.now().Add(-window))
	if err != nil {
		return nil, errors.Wrap(err, "list alive instances")
	}
	open, err := t.positions.CountOpen(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "count open positions")
	}
	byStatus, err := t.signals.CountByStatus(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "count signals")
	}

	monitor.SetInstancesAlive(len(alive))
	monitor.SetOpenPositions(open)
	for _, status := range []string{
		models.SignalClaimed,
		models.SignalExecuted,
		models.SignalRejected,
		models.SignalFailed,
		models.SignalManualReview,
	} {
		monitor.SetSignalLogRows(status, byStatus[status])
	}

	logger.Info().
		Int("instances_alive", len(alive)).
		Int64("open_positions", open).
		Interface("signals", byStatus).
		Msg("cluster stats")
	return &Stats{InstancesAlive: len(alive), OpenPositions: open, SignalsBy: byStatus}, nil
}
