package portfolio

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/utrading/utrading-live-engine/config"
	"github.com/utrading/utrading-live-engine/internal/dao"
	"github.com/utrading/utrading-live-engine/internal/models"
	"github.com/utrading/utrading-live-engine/internal/monitor"
	"github.com/utrading/utrading-live-engine/pkg/logger"
)

var (
	ErrInvariantViolation = errors.New("invariant violation")
	ErrSizingConflict     = errors.New("sizing conflict")
)

type Config struct {
	InitialEquity             decimal.Decimal
	MaxInstrumentRiskFraction decimal.Decimal
	MaxConflictRetries        int
}

func ConfigFrom(c config.Risk) Config {
	return Config{
		InitialEquity:             decimal.NewFromFloat(c.InitialEquity),
		MaxInstrumentRiskFraction: decimal.NewFromFloat(c.MaxInstrumentRiskFraction),
		MaxConflictRetries:        c.MaxConflictRetries,
	}
}

// Manager 账户状态的唯一写入者，所有变更在一个事务内完成并做乐观锁校验
type Manager struct {
	db        *gorm.DB
	cfg       Config
	positions *dao.PositionDAO
	pyramids  *dao.PyramidDAO
	portfolio *dao.PortfolioDAO
	signals   *dao.SignalDAO

	mu   sync.RWMutex
	view *View

	log zerolog.Logger
}

func NewManager(db *gorm.DB, cfg Config) *Manager {
	if cfg.MaxConflictRetries < 0 {
		cfg.MaxConflictRetries = 0
	}
	return &Manager{
		db:        db,
		cfg:       cfg,
		positions: dao.NewPositionDAO(db),
		pyramids:  dao.NewPyramidDAO(db),
		portfolio: dao.NewPortfolioDAO(db),
		signals:   dao.NewSignalDAO(db),
		log:       logger.Component("portfolio"),
	}
}

// Ensure 首次启动时按初始权益创建账户行
func (m *Manager) Ensure(ctx context.Context) (*models.PortfolioState, error) {
	return m.portfolio.Ensure(ctx, m.cfg.InitialEquity)
}

// Snapshot 从持久化层读取品种快照
func (m *Manager) Snapshot(ctx context.Context, instrument string) (*Snapshot, error) {
	return m.snapshot(ctx, m.positions, m.pyramids, m.portfolio, instrument)
}

func (m *Manager) snapshot(ctx context.Context, positions *dao.PositionDAO, pyramids *dao.PyramidDAO, portfolio *dao.PortfolioDAO, instrument string) (*Snapshot, error) {
	state, err := portfolio.Get(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load portfolio")
	}
	open, err := positions.ListOpen(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load open positions")
	}
	pyr, err := pyramids.Get(ctx, instrument)
	if err != nil {
		return nil, errors.Wrap(err, "load pyramid state")
	}

	snap := &Snapshot{
		Instrument:      instrument,
		Equity:          state.Equity,
		Watermark:       state.Watermark,
		MarginUsed:      state.MarginUsed,
		MarginAvailable: state.MarginAvailable(),
		OpenRisk:        sumRisk(open),
		Pyramid:         pyr,
		Portfolio:       *state,
	}
	for _, p := range open {
		if p.Instrument == instrument {
			snap.Positions = append(snap.Positions, p)
		}
	}
	snap.InstrumentRisk = sumRisk(snap.Positions)
	return snap, nil
}

// RiskCeiling 单品种风险上限
func (m *Manager) RiskCeiling(watermark decimal.Decimal) decimal.Decimal {
	return watermark.Mul(m.cfg.MaxInstrumentRiskFraction)
}

// Check 在快照上校验变更，不写入
func (m *Manager) Check(snap *Snapshot, t *Transition) error {
	switch t.Kind {
	case KindOpen, KindScale:
		return m.checkOpen(snap, t)
	case KindClose:
		if len(snap.ByLabel(t.Label)) == 0 {
			return errors.Wrapf(ErrInvariantViolation, "no open position for %s %s", t.Instrument, t.Label)
		}
		return nil
	default:
		return errors.Wrapf(ErrInvariantViolation, "unknown transition %q", t.Kind)
	}
}

func (m *Manager) checkOpen(snap *Snapshot, t *Transition) error {
	if t.Lots < 1 {
		return errors.Wrapf(ErrInvariantViolation, "lots %d", t.Lots)
	}

	level := 0
	if t.Kind == KindScale {
		if snap.Base() == nil {
			return errors.Wrapf(ErrInvariantViolation, "scale without base position on %s", t.Instrument)
		}
		level = snap.Pyramid.Count + 1
	}
	if p := snap.AtLevel(level); p != nil {
		return errors.Wrapf(ErrInvariantViolation, "slot %s already open by position %d", models.SlotKey(t.Instrument, level), p.ID)
	}

	if margin := t.Margin(); margin.GreaterThan(snap.MarginAvailable) {
		return errors.Wrapf(ErrInvariantViolation, "margin %s exceeds available %s", margin, snap.MarginAvailable)
	}

	if m.cfg.MaxInstrumentRiskFraction.IsPositive() {
		ceiling := m.RiskCeiling(snap.Watermark)
		total := snap.InstrumentRisk.Add(t.Risk())
		if total.GreaterThan(ceiling) {
			return errors.Wrapf(ErrInvariantViolation, "instrument risk %s exceeds ceiling %s", total, ceiling)
		}
	}
	return nil
}

// Apply 事务内重新读取、校验并写入仓位、金字塔状态、账户行和信号结果
// 版本冲突重试 MaxConflictRetries 次后返回 ErrSizingConflict
func (m *Manager) Apply(ctx context.Context, t *Transition) (*ApplyResult, error) {
	for attempt := 0; ; attempt++ {
		res, err := m.applyOnce(ctx, t)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, dao.ErrVersionConflict) && !errors.Is(err, dao.ErrDuplicate) {
			return nil, err
		}
		if attempt >= m.cfg.MaxConflictRetries {
			m.log.Warn().Err(err).Str("instrument", t.Instrument).Int("attempts", attempt+1).Msg("version conflict retries exhausted")
			return nil, errors.Wrapf(ErrSizingConflict, "%s after %d attempts", err, attempt+1)
		}
		monitor.IncConflictRetry()
		m.log.Debug().Err(err).Str("instrument", t.Instrument).Int("attempt", attempt+1).Msg("version conflict, retrying")
	}
}

func (m *Manager) applyOnce(ctx context.Context, t *Transition) (*ApplyResult, error) {
	var res *ApplyResult
	err := dao.Transaction(ctx, m.db, func(tx *gorm.DB) error {
		positions := m.positions.WithTx(tx)
		pyramids := m.pyramids.WithTx(tx)
		portfolio := m.portfolio.WithTx(tx)

		snap, err := m.snapshot(ctx, positions, pyramids, portfolio, t.Instrument)
		if err != nil {
			return err
		}
		if err = m.Check(snap, t); err != nil {
			return err
		}

		if t.Kind == KindClose {
			res, err = m.applyClose(ctx, positions, pyramids, portfolio, snap, t)
		} else {
			res, err = m.applyOpen(ctx, positions, pyramids, portfolio, snap, t)
		}
		if err != nil {
			return err
		}

		if t.Outcome != nil {
			if err = m.signals.WithTx(tx).SetOutcome(ctx, t.Fingerprint, *t.Outcome); err != nil {
				return errors.Wrap(err, "write signal outcome")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (m *Manager) applyOpen(ctx context.Context, positions *dao.PositionDAO, pyramids *dao.PyramidDAO, portfolio *dao.PortfolioDAO, snap *Snapshot, t *Transition) (*ApplyResult, error) {
	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	level := 0
	if t.Kind == KindScale {
		level = snap.Pyramid.Count + 1
	}

	pos := &models.Position{
		Instrument:   t.Instrument,
		Label:        t.Label,
		Direction:    t.Direction,
		PyramidLevel: level,
		Lots:         t.Lots,
		EntryPrice:   t.Price,
		StopPrice:    t.Stop,
		InitialStop:  t.Stop,
		ATRAtEntry:   t.ATR,
		PointValue:   t.PointValue,
		MarginUsed:   t.Margin(),
		Status:       models.PositionOpen,
		Fingerprint:  t.Fingerprint,
		OrderID:      t.OrderID,
		OpenedAt:     at,
	}
	if err := positions.Create(ctx, pos); err != nil {
		return nil, errors.Wrap(err, "create position")
	}

	// 底仓平掉后重新开仓时，更高层级可能仍在持仓
	open := append(append(make([]*models.Position, 0, len(snap.Positions)+1), snap.Positions...), pos)
	pyr := snap.Pyramid
	pyr.BaseOpen, pyr.Count = DerivePyramid(open)
	pyr.LastEntryPrice = topOf(open).EntryPrice
	if t.Kind == KindScale {
		pyr.LastPyramidTime = &at
	} else if pyr.Count == 0 {
		pyr.LastPyramidTime = nil
	}
	if err := pyramids.Save(ctx, pyr); err != nil {
		return nil, errors.Wrap(err, "save pyramid state")
	}

	state := snap.Portfolio
	state.MarginUsed = state.MarginUsed.Add(pos.MarginUsed)
	if err := portfolio.Update(ctx, &state); err != nil {
		return nil, errors.Wrap(err, "update portfolio")
	}

	m.log.Info().
		Str("instrument", t.Instrument).
		Str("label", t.Label).
		Int("level", level).
		Int64("lots", t.Lots).
		Str("price", t.Price.String()).
		Str("margin_used", state.MarginUsed.String()).
		Msg("position opened")

	return &ApplyResult{Opened: pos, RealizedPnL: decimal.Zero, Portfolio: state}, nil
}

func (m *Manager) applyClose(ctx context.Context, positions *dao.PositionDAO, pyramids *dao.PyramidDAO, portfolio *dao.PortfolioDAO, snap *Snapshot, t *Transition) (*ApplyResult, error) {
	at := t.At
	if at.IsZero() {
		at = time.Now()
	}

	targets := snap.ByLabel(t.Label)
	closing := make(map[uint]struct{}, len(targets))
	pnl := decimal.Zero
	released := decimal.Zero
	for _, p := range targets {
		realized := p.PnL(t.Price)
		closedAt := at
		p.Status = models.PositionClosed
		p.OpenSlot = nil
		p.ExitPrice = decimal.NewNullDecimal(t.Price)
		p.RealizedPnL = decimal.NewNullDecimal(realized)
		p.ClosedAt = &closedAt
		if err := positions.Update(ctx, p); err != nil {
			return nil, errors.Wrapf(err, "close position %d", p.ID)
		}
		closing[p.ID] = struct{}{}
		pnl = pnl.Add(realized)
		released = released.Add(p.MarginUsed)
	}

	remaining := make([]*models.Position, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		if _, ok := closing[p.ID]; !ok {
			remaining = append(remaining, p)
		}
	}
	pyr := snap.Pyramid
	pyr.BaseOpen, pyr.Count = DerivePyramid(remaining)
	if top := topOf(remaining); top != nil {
		pyr.LastEntryPrice = top.EntryPrice
	}
	if err := pyramids.Save(ctx, pyr); err != nil {
		return nil, errors.Wrap(err, "save pyramid state")
	}

	state := snap.Portfolio
	state.Equity = state.Equity.Add(pnl)
	state.MarginUsed = state.MarginUsed.Sub(released)
	if state.MarginUsed.IsNegative() {
		return nil, errors.Wrapf(ErrInvariantViolation, "margin used would become %s", state.MarginUsed)
	}
	state.Watermark = decimal.Max(state.Watermark, state.Equity)
	if err := portfolio.Update(ctx, &state); err != nil {
		return nil, errors.Wrap(err, "update portfolio")
	}

	m.log.Info().
		Str("instrument", t.Instrument).
		Str("label", t.Label).
		Int("closed", len(targets)).
		Str("pnl", pnl.String()).
		Str("equity", state.Equity.String()).
		Str("watermark", state.Watermark.String()).
		Msg("positions closed")

	return &ApplyResult{Closed: targets, RealizedPnL: pnl, Portfolio: state}, nil
}

func topOf(positions []*models.Position) *models.Position {
	var top *models.Position
	for _, p := range positions {
		if top == nil || p.PyramidLevel > top.PyramidLevel {
			top = p
		}
	}
	return top
}

// Rebuild 并发读取仓位、金字塔状态和账户行，重建全量视图
func (m *Manager) Rebuild(ctx context.Context) (*View, error) {
	var (
		state     *models.PortfolioState
		positions []*models.Position
		pyramids  []*models.PyramidState
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		state, err = m.portfolio.Get(gctx)
		return errors.Wrap(err, "load portfolio")
	})
	g.Go(func() error {
		var err error
		positions, err = m.positions.ListOpen(gctx)
		return errors.Wrap(err, "load open positions")
	})
	g.Go(func() error {
		var err error
		pyramids, err = m.pyramids.List(gctx)
		return errors.Wrap(err, "load pyramid states")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	v := newView(state, positions, pyramids)
	m.mu.Lock()
	m.view = v
	m.mu.Unlock()

	monitor.SetOpenPositions(int64(len(positions)))
	return v, nil
}

// View 最近一次重建的视图，未重建时为 nil
func (m *Manager) View() *View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view
}

// Config 当前配置
func (m *Manager) Config() Config {
	return m.cfg
}
