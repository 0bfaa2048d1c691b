package execution

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-live-engine/config"
	"github.com/utrading/utrading-live-engine/internal/monitor"
	"github.com/utrading/utrading-live-engine/pkg/logger"
	"github.com/utrading/utrading-live-engine/pkg/retry"
)

type Config struct {
	Place        retry.Policy
	PollInterval time.Duration
	FillTimeout  time.Duration
}

func ConfigFrom(c config.Execution) Config {
	b := retry.DefaultBackoff()
	if c.BackoffMin > 0 {
		b.Min = c.BackoffMin
	}
	if c.BackoffMax > 0 {
		b.Max = c.BackoffMax
	}
	return Config{
		Place:        retry.Policy{Attempts: c.PlaceAttempts, Backoff: b},
		PollInterval: c.PollInterval,
		FillTimeout:  c.FillTimeout,
	}
}

// Fill 成交结果，部分成交时 Lots 小于请求手数
type Fill struct {
	OrderID  string
	State    OrderState
	Lots     int64
	AvgPrice decimal.Decimal
}

// Executor 下单、轮询成交、超时撤单
type Executor struct {
	broker Broker
	cfg    Config
	log    zerolog.Logger
}

func NewExecutor(broker Broker, cfg Config) *Executor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = 10 * time.Second
	}
	return &Executor{broker: broker, cfg: cfg, log: logger.Component("execution")}
}

func (e *Executor) Broker() Broker {
	return e.broker
}

// Execute 下单直到成交、拒单或超时
// 拒单返回 ErrOrderRejected；下单重试用尽或撤单失败返回 ErrManualIntervention；超时无成交返回 ErrNotFilled
func (e *Executor) Execute(ctx context.Context, req OrderRequest) (*Fill, error) {
	start := time.Now()
	defer func() { monitor.ObserveOrderLatency(time.Since(start)) }()

	var orderID string
	err := e.cfg.Place.Do(ctx, func(ctx context.Context, attempt int) error {
		id, err := e.broker.Place(ctx, req)
		if errors.Is(err, ErrOrderRejected) {
			return retry.Permanent(err)
		}
		if err != nil {
			e.log.Warn().Err(err).Str("client_order_id", req.ClientOrderID).Int("attempt", attempt).Msg("place order failed")
			return err
		}
		orderID = id
		return nil
	})
	if errors.Is(err, ErrOrderRejected) {
		monitor.IncOrderResult(string(StateRejected))
		return nil, err
	}
	if err != nil {
		monitor.IncOrderResult("manual")
		return nil, errors.Wrapf(ErrManualIntervention, "place %s: %s", req.ClientOrderID, err)
	}

	fill, err := e.await(ctx, req, orderID)
	if err != nil {
		return nil, err
	}
	monitor.IncOrderResult(string(fill.State))
	e.log.Info().
		Str("order_id", fill.OrderID).
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Int64("lots", fill.Lots).
		Str("avg_price", fill.AvgPrice.String()).
		Str("state", string(fill.State)).
		Msg("order filled")
	return fill, nil
}

func (e *Executor) await(ctx context.Context, req OrderRequest, orderID string) (*Fill, error) {
	deadline := time.Now().Add(e.cfg.FillTimeout)
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	var last OrderStatus
	for {
		st, err := e.broker.Status(ctx, orderID)
		if err != nil {
			e.log.Warn().Err(err).Str("order_id", orderID).Msg("order status failed")
		} else {
			last = st
			switch st.State {
			case StateFilled:
				return toFill(orderID, st, req), nil
			case StateRejected:
				if st.FilledLots > 0 {
					// 剩余部分被拒，已成交手数在券商侧生效
					e.log.Warn().
						Str("order_id", orderID).
						Int64("filled", st.FilledLots).
						Int64("requested", req.Lots).
						Str("reason", st.Reason).
						Msg("order rejected after partial fill")
					fill := toFill(orderID, st, req)
					fill.State = StatePartial
					return fill, nil
				}
				monitor.IncOrderResult(string(StateRejected))
				return nil, errors.Wrapf(ErrOrderRejected, "order %s: %s", orderID, st.Reason)
			}
		}

		if !time.Now().Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ErrManualIntervention, "order %s: %s", orderID, ctx.Err())
		case <-ticker.C:
		}
	}

	// 超时，撤销剩余部分
	if err := e.broker.Cancel(ctx, orderID); err != nil {
		monitor.IncOrderResult("manual")
		e.log.Error().Err(err).Str("order_id", orderID).Msg("cancel order failed")
		return nil, errors.Wrapf(ErrManualIntervention, "cancel %s: %s", orderID, err)
	}
	if st, err := e.broker.Status(ctx, orderID); err == nil {
		last = st
	}
	if last.State == StateFilled || last.FilledLots > 0 {
		fill := toFill(orderID, last, req)
		if last.State != StateFilled {
			fill.State = StatePartial
		}
		return fill, nil
	}
	monitor.IncOrderResult(string(StatePending))
	return nil, errors.Wrapf(ErrNotFilled, "order %s cancelled after %s", orderID, e.cfg.FillTimeout)
}

func toFill(orderID string, st OrderStatus, req OrderRequest) *Fill {
	lots := st.FilledLots
	if st.State == StateFilled && lots == 0 {
		lots = req.Lots
	}
	price := st.AvgPrice
	if price.IsZero() {
		price = req.Price
	}
	return &Fill{OrderID: orderID, State: st.State, Lots: lots, AvgPrice: price}
}
