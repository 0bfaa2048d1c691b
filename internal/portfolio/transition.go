package portfolio

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-live-engine/internal/models"
)

// Kind 状态变更类型
type Kind string

const (
	KindOpen  Kind = "open"
	KindScale Kind = "scale"
	KindClose Kind = "close"
)

// Transition 一次状态变更，开仓和加仓的价格为成交价，平仓的价格为平仓价
type Transition struct {
	Kind         Kind
	Instrument   string
	Label        string
	Direction    string
	Lots         int64
	Price        decimal.Decimal
	Stop         decimal.Decimal
	ATR          decimal.Decimal
	PointValue   decimal.Decimal
	MarginPerLot decimal.Decimal
	Fingerprint  string
	OrderID      string
	At           time.Time

	// Outcome 非空时在同一事务内写入信号结果
	Outcome *models.Outcome
}

// Margin 本次开仓占用的保证金
func (t *Transition) Margin() decimal.Decimal {
	return t.MarginPerLot.Mul(decimal.NewFromInt(t.Lots))
}

// Risk 本次开仓新增的风险金额
func (t *Transition) Risk() decimal.Decimal {
	return t.Price.Sub(t.Stop).Abs().Mul(decimal.NewFromInt(t.Lots)).Mul(t.PointValue)
}

// ApplyResult 变更结果
type ApplyResult struct {
	Opened      *models.Position
	Closed      []*models.Position
	RealizedPnL decimal.Decimal
	Portfolio   models.PortfolioState
}
