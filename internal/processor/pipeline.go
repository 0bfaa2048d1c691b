package processor

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-live-engine/internal/dedup"
	"github.com/utrading/utrading-live-engine/internal/execution"
	"github.com/utrading/utrading-live-engine/internal/instrument"
	"github.com/utrading/utrading-live-engine/internal/models"
	"github.com/utrading/utrading-live-engine/internal/monitor"
	"github.com/utrading/utrading-live-engine/internal/portfolio"
	"github.com/utrading/utrading-live-engine/internal/pyramid"
	"github.com/utrading/utrading-live-engine/internal/signal"
	"github.com/utrading/utrading-live-engine/internal/sizing"
	"github.com/utrading/utrading-live-engine/pkg/retry"
)

// 结果状态，duplicate 只出现在应答和推送中，不落库
const (
	StatusExecuted     = models.SignalExecuted
	StatusRejected     = models.SignalRejected
	StatusFailed       = models.SignalFailed
	StatusManualReview = models.SignalManualReview
	StatusDuplicate    = "duplicate"
)

// 业务拒绝原因
const (
	ReasonBaseOpen       = "base_open"
	ReasonNoTrade        = "no_trade"
	ReasonNoOpenPosition = "no_open_position"
	ReasonOrderRejected  = "order_rejected"
	ReasonPartialFill    = "partial_fill"
)

// execute 已认领信号的执行，每个信号恰好写入一次最终结果
func (p *Processor) execute(ctx context.Context, sig *signal.Signal, claim dedup.ClaimResult) (*Result, error) {
	res := &Result{
		Fingerprint: sig.Fingerprint,
		Type:        sig.Type,
		Instrument:  sig.Instrument,
		Label:       sig.Label,
		Layer:       claim.Layer,
		Degraded:    claim.Degraded,
	}

	inst, ok := p.catalog.Get(sig.Instrument)
	if !ok {
		err := errors.Wrap(signal.ErrUnknownInstrument, sig.Instrument)
		return p.finish(ctx, sig, res, StatusRejected, err.Error(), err)
	}

	switch sig.Type {
	case signal.BaseEntry, signal.Pyramid:
		return p.open(ctx, sig, inst, res)
	default:
		return p.close(ctx, sig, inst, res)
	}
}

// abandon 执行中途异常退出时写入 manual_review
func (p *Processor) abandon(ctx context.Context, sig *signal.Signal, cause error) {
	res := &Result{
		Fingerprint: sig.Fingerprint,
		Type:        sig.Type,
		Instrument:  sig.Instrument,
		Label:       sig.Label,
	}
	err := errors.Wrap(execution.ErrManualIntervention, cause.Error())
	_, _ = p.finish(ctx, sig, res, StatusManualReview, err.Error(), err)
}

func (p *Processor) open(ctx context.Context, sig *signal.Signal, inst instrument.Instrument, res *Result) (*Result, error) {
	snap, err := p.portfolio.Snapshot(ctx, sig.Instrument)
	if err != nil {
		return p.finish(ctx, sig, res, StatusFailed, "snapshot unavailable", err)
	}

	scaling := sig.Type == signal.Pyramid
	base := snap.Base()
	if !scaling && base != nil {
		return p.finish(ctx, sig, res, StatusRejected, ReasonBaseOpen, nil)
	}

	in := sizing.Inputs{
		Watermark:       snap.Watermark,
		MarginAvailable: snap.MarginAvailable,
		Entry:           sig.Price,
		Stop:            sig.Stop,
		ATR:             sig.ATR,
		PointValue:      inst.PointValue,
		MarginPerLot:    inst.MarginPerLot,
		ER:              sig.ER,
		SuggestedLots:   sig.SuggestedLots,
	}
	if scaling {
		in.Pyramid = true
		if top := snap.Top(); top != nil {
			in.PrevLots = top.Lots
		}
	}
	size, err := sizing.Size(in, p.opts.Sizing)
	if err != nil {
		return p.finish(ctx, sig, res, StatusRejected, err.Error(), err)
	}
	res.Sizing = &size
	res.Binding = size.Binding

	if scaling {
		marginLots, bound := sizing.MarginLots(snap.MarginAvailable, inst.MarginPerLot)
		scalingLots, _ := size.Ceiling(sizing.BindScaling)
		decision := pyramid.Evaluate(pyramid.Input{
			State:       snap.Pyramid,
			Base:        base,
			Direction:   sig.Direction,
			Price:       sig.Price,
			ATR:         sig.ATR,
			ROC:         p.momentum(ctx, sig),
			MarginLots:  marginLots,
			MarginBound: bound,
			ScalingLots: scalingLots,
		}, p.opts.Pyramid)
		res.Decision = &decision
		if !decision.Approved {
			monitor.IncPyramidRejection(decision.Reason)
			return p.finish(ctx, sig, res, StatusRejected, "pyramid_"+decision.Reason+": "+decision.Detail, nil)
		}
	}

	if size.Lots < 1 {
		return p.finish(ctx, sig, res, StatusRejected, ReasonNoTrade, nil)
	}
	monitor.IncBinding(size.Binding)

	kind := portfolio.KindOpen
	if scaling {
		kind = portfolio.KindScale
	}
	t := &portfolio.Transition{
		Kind:         kind,
		Instrument:   sig.Instrument,
		Label:        sig.Label,
		Direction:    sig.Direction,
		Lots:         size.Lots,
		Price:        sig.Price,
		Stop:         sig.Stop,
		ATR:          sig.ATR,
		PointValue:   inst.PointValue,
		MarginPerLot: inst.MarginPerLot,
		Fingerprint:  sig.Fingerprint,
		At:           sig.Timestamp,
	}
	if err = p.portfolio.Check(snap, t); err != nil {
		p.log.Error().Err(err).Str("fingerprint", sig.Fingerprint).Msg("transition rejected before execution")
		return p.finish(ctx, sig, res, StatusFailed, err.Error(), err)
	}

	fill, err := p.executor.Execute(ctx, execution.OrderRequest{
		ClientOrderID: execution.ClientOrderID(sig.Fingerprint),
		Symbol:        inst.BrokerSymbol,
		Side:          execution.SideFor(sig.Direction, false),
		Lots:          size.Lots,
		Price:         sig.Price,
	})
	if err != nil {
		return p.executionFailed(ctx, sig, res, err)
	}

	t.Lots = fill.Lots
	t.OrderID = fill.OrderID
	if fill.AvgPrice.IsPositive() {
		t.Price = fill.AvgPrice
	}
	return p.persist(ctx, sig, res, t, fill)
}

func (p *Processor) close(ctx context.Context, sig *signal.Signal, inst instrument.Instrument, res *Result) (*Result, error) {
	snap, err := p.portfolio.Snapshot(ctx, sig.Instrument)
	if err != nil {
		return p.finish(ctx, sig, res, StatusFailed, "snapshot unavailable", err)
	}

	label := sig.Label
	if sig.Type == signal.EODClose {
		label = signal.LabelAll
	}
	targets := snap.ByLabel(label)
	if sig.Type == signal.EODClose && len(targets) == 0 {
		return p.finish(ctx, sig, res, StatusRejected, ReasonNoOpenPosition, nil)
	}

	t := &portfolio.Transition{
		Kind:        portfolio.KindClose,
		Instrument:  sig.Instrument,
		Label:       label,
		Price:       sig.Price,
		Fingerprint: sig.Fingerprint,
		At:          sig.Timestamp,
	}
	// 仓位不存在时在下单前失败，券商侧不会产生任何调用
	if err = p.portfolio.Check(snap, t); err != nil {
		p.log.Error().Err(err).
			Str("fingerprint", sig.Fingerprint).
			Str("instrument", sig.Instrument).
			Str("label", label).
			Msg("exit for missing position")
		return p.finish(ctx, sig, res, StatusFailed, err.Error(), err)
	}

	var lots int64
	for _, pos := range targets {
		lots += pos.Lots
	}
	t.Direction = targets[0].Direction
	t.Lots = lots

	fill, err := p.executor.Execute(ctx, execution.OrderRequest{
		ClientOrderID: execution.ClientOrderID(sig.Fingerprint),
		Symbol:        inst.BrokerSymbol,
		Side:          execution.SideFor(t.Direction, true),
		Lots:          lots,
		Price:         sig.Price,
	})
	if err != nil {
		return p.executionFailed(ctx, sig, res, err)
	}
	if fill.Lots < lots {
		// 部分平仓无法映射到仓位行，交给人工处理
		err = errors.Wrapf(execution.ErrManualIntervention, "close filled %d of %d lots", fill.Lots, lots)
		res.OrderID = fill.OrderID
		res.Lots = fill.Lots
		return p.finish(ctx, sig, res, StatusManualReview, err.Error(), err)
	}

	t.OrderID = fill.OrderID
	if fill.AvgPrice.IsPositive() {
		t.Price = fill.AvgPrice
	}
	return p.persist(ctx, sig, res, t, fill)
}

// executionFailed 下单失败的结果：拒单为 rejected，未成交为 failed，其余需要人工处理
func (p *Processor) executionFailed(ctx context.Context, sig *signal.Signal, res *Result, err error) (*Result, error) {
	switch {
	case errors.Is(err, execution.ErrOrderRejected):
		return p.finish(ctx, sig, res, StatusRejected, ReasonOrderRejected+": "+err.Error(), err)
	case errors.Is(err, execution.ErrNotFilled):
		return p.finish(ctx, sig, res, StatusFailed, err.Error(), err)
	default:
		if !errors.Is(err, execution.ErrManualIntervention) {
			err = errors.Wrap(execution.ErrManualIntervention, err.Error())
		}
		return p.finish(ctx, sig, res, StatusManualReview, err.Error(), err)
	}
}

// persist 成交后写回仓位和信号结果，重试用尽标记 manual_review
func (p *Processor) persist(ctx context.Context, sig *signal.Signal, res *Result, t *portfolio.Transition, fill *execution.Fill) (*Result, error) {
	outcome := &models.Outcome{
		Status:            StatusExecuted,
		Lots:              fill.Lots,
		BindingConstraint: res.Binding,
		OrderID:           fill.OrderID,
	}
	if fill.State == execution.StatePartial {
		outcome.Reason = ReasonPartialFill
	}
	t.Outcome = outcome

	var applied *portfolio.ApplyResult
	err := p.opts.Persist.Do(ctx, func(ctx context.Context, attempt int) error {
		r, err := p.portfolio.Apply(ctx, t)
		if errors.Is(err, portfolio.ErrInvariantViolation) {
			return retry.Permanent(err)
		}
		if err != nil {
			p.log.Warn().Err(err).Str("fingerprint", sig.Fingerprint).Int("attempt", attempt).Msg("persist transition failed")
			return err
		}
		applied = r
		return nil
	})

	res.OrderID = fill.OrderID
	res.Lots = fill.Lots
	if err != nil {
		// 券商侧已成交但本地未记录
		err = errors.Wrapf(execution.ErrManualIntervention, "order %s filled %d lots but persist failed: %s", fill.OrderID, fill.Lots, err)
		return p.finish(ctx, sig, res, StatusManualReview, err.Error(), err)
	}

	res.Status = StatusExecuted
	res.Reason = outcome.Reason
	p.log.Info().
		Str("fingerprint", sig.Fingerprint).
		Str("type", string(sig.Type)).
		Str("instrument", sig.Instrument).
		Int64("lots", fill.Lots).
		Str("binding", res.Binding).
		Str("order_id", fill.OrderID).
		Str("realized_pnl", applied.RealizedPnL.String()).
		Msg("signal executed")
	p.publish(sig, res)
	return res, nil
}

// finish 写入非成交的最终结果
func (p *Processor) finish(ctx context.Context, sig *signal.Signal, res *Result, status, reason string, cause error) (*Result, error) {
	res.Status = status
	res.Reason = reason
	res.Kind = Classify(cause)

	outcome := models.Outcome{
		Status:            status,
		Reason:            reason,
		Lots:              res.Lots,
		BindingConstraint: res.Binding,
		OrderID:           res.OrderID,
	}
	err := p.opts.Persist.Do(ctx, func(ctx context.Context, _ int) error {
		return p.signals.SetOutcome(ctx, sig.Fingerprint, outcome)
	})
	if err != nil {
		p.log.Error().Err(err).
			Str("fingerprint", sig.Fingerprint).
			Str("status", status).
			Msg("write signal outcome failed, claim will be swept as stale")
	}

	ev := p.log.Info()
	if status != StatusRejected {
		ev = p.log.Warn()
	}
	ev.Str("fingerprint", sig.Fingerprint).
		Str("type", string(sig.Type)).
		Str("instrument", sig.Instrument).
		Str("status", status).
		Str("kind", string(res.Kind)).
		Str("reason", reason).
		Msg("signal finished")

	p.publish(sig, res)
	if status == StatusRejected && cause == nil {
		return res, nil
	}
	if cause == nil {
		cause = errors.Errorf("%s: %s", status, reason)
	}
	return res, cause
}

// momentum 信号未携带 roc 时，用回看区间之前最近一次信号价格计算
func (p *Processor) momentum(ctx context.Context, sig *signal.Signal) decimal.NullDecimal {
	if sig.ROC.Valid || p.opts.MomentumLookback <= 0 {
		return sig.ROC
	}
	past, ok, err := p.signals.PriceAtOrBefore(ctx, sig.Instrument, sig.Timestamp.Add(-p.opts.MomentumLookback))
	if err != nil {
		p.log.Warn().Err(err).Str("instrument", sig.Instrument).Msg("load momentum reference price failed")
		return sig.ROC
	}
	if !ok {
		return sig.ROC
	}
	return pyramid.ROC(sig.Price, past)
}
