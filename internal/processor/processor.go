package processor

import (
	"context"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/utrading/utrading-live-engine/internal/dao"
	"github.com/utrading/utrading-live-engine/internal/dedup"
	"github.com/utrading/utrading-live-engine/internal/execution"
	"github.com/utrading/utrading-live-engine/internal/instrument"
	"github.com/utrading/utrading-live-engine/internal/monitor"
	"github.com/utrading/utrading-live-engine/internal/nats"
	"github.com/utrading/utrading-live-engine/internal/portfolio"
	"github.com/utrading/utrading-live-engine/internal/pyramid"
	"github.com/utrading/utrading-live-engine/internal/signal"
	"github.com/utrading/utrading-live-engine/internal/sizing"
	"github.com/utrading/utrading-live-engine/pkg/goplus"
	"github.com/utrading/utrading-live-engine/pkg/logger"
	"github.com/utrading/utrading-live-engine/pkg/retry"
)

// Readiness 崩溃恢复状态
type Readiness interface {
	Ready() bool
}

// OutcomeSink 信号结果的下游，NATS 发布器和 websocket 推送都实现该接口
type OutcomeSink interface {
	PublishOutcome(o *nats.SignalOutcome) error
}

// Ack Submit 的同步应答
type Ack struct {
	Accepted    bool   `json:"accepted"`
	Reason      string `json:"reason,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Result 一个信号的最终处理结果
type Result struct {
	Fingerprint string            `json:"fingerprint"`
	Type        signal.Type       `json:"type"`
	Instrument  string            `json:"instrument"`
	Label       string            `json:"label"`
	Status      string            `json:"status"`
	Kind        Kind              `json:"kind,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Lots        int64             `json:"lots"`
	Binding     string            `json:"binding_constraint,omitempty"`
	OrderID     string            `json:"order_id,omitempty"`
	Sizing      *sizing.Result    `json:"sizing,omitempty"`
	Decision    *pyramid.Decision `json:"pyramid,omitempty"`
	Layer       dedup.Layer       `json:"dedup_layer,omitempty"`
	Degraded    bool              `json:"degraded,omitempty"`
}

type Options struct {
	InstanceID       string
	Workers          int
	Sizing           sizing.Config
	Pyramid          pyramid.Config
	MomentumLookback time.Duration

	// Persist 成交后写回持久化层的重试策略，用尽后标记 manual_review
	Persist retry.Policy
}

// Processor 信号处理流水线：校验 -> 去重认领 -> 快照 -> 定仓 -> 金字塔检查 -> 下单 -> 写回
type Processor struct {
	validator *signal.Validator
	dedup     *dedup.Deduplicator
	portfolio *portfolio.Manager
	executor  *execution.Executor
	catalog   *instrument.Catalog
	signals   *dao.SignalDAO
	opts      Options

	ready Readiness
	sinks []OutcomeSink
	pool  *ants.Pool
	now   func() time.Time
	log   zerolog.Logger
}

func New(
	validator *signal.Validator,
	deduper *dedup.Deduplicator,
	pm *portfolio.Manager,
	executor *execution.Executor,
	catalog *instrument.Catalog,
	signals *dao.SignalDAO,
	opts Options,
) (*Processor, error) {
	if opts.Workers <= 0 {
		opts.Workers = 30
	}
	if opts.Persist.Attempts <= 0 {
		opts.Persist.Attempts = 3
	}
	// 池满时 Submit 立即返回 ErrPoolOverload，由调用方同步执行
	pool, err := ants.NewPool(opts.Workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, errors.Wrap(err, "create worker pool")
	}
	return &Processor{
		validator: validator,
		dedup:     deduper,
		portfolio: pm,
		executor:  executor,
		catalog:   catalog,
		signals:   signals,
		opts:      opts,
		pool:      pool,
		now:       time.Now,
		log:       logger.Component("processor"),
	}, nil
}

// SetReadiness 设置恢复状态，未设置时视为已就绪
func (p *Processor) SetReadiness(r Readiness) {
	p.ready = r
}

// AddSink 添加结果下游
func (p *Processor) AddSink(s OutcomeSink) {
	p.sinks = append(p.sinks, s)
}

func (p *Processor) Ready() bool {
	return p.ready == nil || p.ready.Ready()
}

// Submit 同步完成校验和认领，执行交给工作池
// 池满时同步执行
func (p *Processor) Submit(ctx context.Context, raw []byte) Ack {
	sig, claim, err := p.admit(ctx, raw)
	if err != nil {
		return Ack{Reason: reasonOf(err)}
	}
	if !claim.Claimed {
		return Ack{Reason: "duplicate", Fingerprint: sig.Fingerprint}
	}

	// 已到达券商的执行不能被请求取消
	execCtx := context.WithoutCancel(ctx)
	task := func() {
		// 不确定是否已下单，交给人工处理
		defer goplus.RecoverWith(func(r any) {
			p.abandon(execCtx, sig, errors.Errorf("panic: %v", r))
		})
		_, _ = p.execute(execCtx, sig, claim)
	}
	if err = p.pool.Submit(task); err != nil {
		monitor.IncWorkerPoolSaturated()
		p.log.Warn().Err(err).
			Str("fingerprint", sig.Fingerprint).
			Int("running", p.pool.Running()).
			Msg("worker pool saturated, falling back to sync processing")
		task()
	}
	monitor.SetWorkerPoolRunning(p.pool.Running())
	return Ack{Accepted: true, Fingerprint: sig.Fingerprint}
}

// Process 同步处理一个信号直到得到最终结果
// 未认领的信号返回错误；已认领的信号总有结果，失败时同时返回分类后的错误
func (p *Processor) Process(ctx context.Context, raw []byte) (*Result, error) {
	sig, claim, err := p.admit(ctx, raw)
	if err != nil {
		return nil, err
	}
	if !claim.Claimed {
		return &Result{
			Fingerprint: sig.Fingerprint,
			Type:        sig.Type,
			Instrument:  sig.Instrument,
			Label:       sig.Label,
			Status:      StatusDuplicate,
			Kind:        KindDuplicate,
			Reason:      "duplicate",
			Layer:       claim.Layer,
		}, nil
	}
	return p.execute(context.WithoutCancel(ctx), sig, claim)
}

// admit 校验并认领
func (p *Processor) admit(ctx context.Context, raw []byte) (*signal.Signal, dedup.ClaimResult, error) {
	if !p.Ready() {
		monitor.IncSignal("unknown", "not_ready")
		return nil, dedup.ClaimResult{}, errors.WithStack(ErrNotReady)
	}

	sig, err := p.validator.Validate(raw, p.now())
	if err != nil {
		monitor.IncSignal("unknown", reasonOf(err))
		p.log.Warn().Err(err).Msg("signal rejected by validator")
		return nil, dedup.ClaimResult{}, err
	}

	claim, err := p.dedup.Claim(ctx, sig)
	if err != nil {
		monitor.IncSignal(string(sig.Type), "claim_error")
		p.log.Error().Err(err).Str("fingerprint", sig.Fingerprint).Msg("claim signal failed")
		return nil, claim, err
	}
	if !claim.Claimed {
		p.dedup.RecordDuplicate(ctx, sig.Fingerprint)
		monitor.IncSignal(string(sig.Type), StatusDuplicate)
		p.log.Info().
			Str("fingerprint", sig.Fingerprint).
			Str("layer", string(claim.Layer)).
			Msg("duplicate signal ignored")
		return sig, claim, nil
	}

	p.log.Info().
		Str("fingerprint", sig.Fingerprint).
		Str("type", string(sig.Type)).
		Str("instrument", sig.Instrument).
		Str("label", sig.Label).
		Bool("degraded", claim.Degraded).
		Msg("signal claimed")
	return sig, claim, nil
}

// Stop 等待执行中的任务结束后释放工作池
func (p *Processor) Stop(timeout time.Duration) {
	if err := p.pool.ReleaseTimeout(timeout); err != nil {
		p.log.Warn().Err(err).Msg("worker pool release timeout")
	}
}

// Running 执行中的任务数
func (p *Processor) Running() int {
	return p.pool.Running()
}

func (p *Processor) publish(sig *signal.Signal, res *Result) {
	monitor.IncSignal(string(sig.Type), res.Status)
	if len(p.sinks) == 0 {
		return
	}
	msg := &nats.SignalOutcome{
		Fingerprint:       res.Fingerprint,
		Type:              string(res.Type),
		Instrument:        res.Instrument,
		Label:             res.Label,
		Status:            res.Status,
		Kind:              string(res.Kind),
		Reason:            res.Reason,
		Lots:              res.Lots,
		BindingConstraint: res.Binding,
		OrderID:           res.OrderID,
		Instance:          p.opts.InstanceID,
		Timestamp:         p.now().UnixMilli(),
	}
	for _, s := range p.sinks {
		if err := s.PublishOutcome(msg); err != nil {
			p.log.Warn().Err(err).Str("fingerprint", res.Fingerprint).Msg("publish outcome failed")
		}
	}
}
