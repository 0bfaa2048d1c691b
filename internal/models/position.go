package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PositionOpen   = "OPEN"
	PositionClosed = "CLOSED"

	DirectionLong  = "LONG"
	DirectionShort = "SHORT"
)

// Position 持仓，每次持久化变更 version 加一
type Position struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`

	Instrument   string          `gorm:"type:varchar(32);not null;index:idx_instrument_status;comment:品种" json:"instrument"`
	Label        string          `gorm:"type:varchar(64);not null;comment:仓位标签，如 Long_1" json:"label"`
	Direction    string          `gorm:"type:varchar(8);not null;comment:LONG/SHORT" json:"direction"`
	PyramidLevel int             `gorm:"not null;default:0;comment:金字塔层级，0 为底仓" json:"pyramid_level"`
	Lots         int64           `gorm:"not null;comment:手数" json:"lots"`
	EntryPrice   decimal.Decimal `gorm:"type:decimal(28,8);not null" json:"entry_price"`
	StopPrice    decimal.Decimal `gorm:"type:decimal(28,8);not null" json:"stop_price"`
	InitialStop  decimal.Decimal `gorm:"type:decimal(28,8);not null;comment:开仓时止损" json:"initial_stop"`
	ATRAtEntry   decimal.Decimal `gorm:"column:atr_at_entry;type:decimal(28,8);not null;default:0" json:"atr_at_entry"`
	PointValue   decimal.Decimal `gorm:"type:decimal(28,8);not null" json:"point_value"`
	MarginUsed   decimal.Decimal `gorm:"type:decimal(28,8);not null;default:0;comment:占用保证金" json:"margin_used"`
	Status       string          `gorm:"type:varchar(8);not null;index:idx_instrument_status;comment:OPEN/CLOSED" json:"status"`

	// OpenSlot 持仓期间为 "instrument:level"，平仓后置空，唯一索引保证同层级只有一个 OPEN 仓位
	OpenSlot *string `gorm:"type:varchar(64);uniqueIndex:uk_open_slot" json:"-"`

	Fingerprint string              `gorm:"type:varchar(64);not null;index;comment:开仓信号指纹" json:"fingerprint"`
	OrderID     string              `gorm:"type:varchar(64);comment:开仓订单号" json:"order_id"`
	ExitPrice   decimal.NullDecimal `gorm:"type:decimal(28,8)" json:"exit_price"`
	RealizedPnL decimal.NullDecimal `gorm:"column:realized_pnl;type:decimal(28,8)" json:"realized_pnl"`

	Version   int64      `gorm:"not null;default:1" json:"version"`
	OpenedAt  time.Time  `gorm:"not null" json:"opened_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Position) TableName() string {
	return "positions"
}

// Sign 多头 1，空头 -1
func (p *Position) Sign() decimal.Decimal {
	return DirectionSign(p.Direction)
}

// Risk 当前止损对应的风险金额
func (p *Position) Risk() decimal.Decimal {
	return p.EntryPrice.Sub(p.StopPrice).Abs().Mul(decimal.NewFromInt(p.Lots)).Mul(p.PointValue)
}

// InitialRiskPerUnit 开仓时每单位价格风险
func (p *Position) InitialRiskPerUnit() decimal.Decimal {
	return p.EntryPrice.Sub(p.InitialStop).Abs()
}

// ProfitPerUnit 按给定价格计算的每单位浮盈
func (p *Position) ProfitPerUnit(price decimal.Decimal) decimal.Decimal {
	return price.Sub(p.EntryPrice).Mul(p.Sign())
}

// PnL 按给定价格计算的盈亏金额
func (p *Position) PnL(price decimal.Decimal) decimal.Decimal {
	return p.ProfitPerUnit(price).Mul(decimal.NewFromInt(p.Lots)).Mul(p.PointValue)
}

// SlotKey 唯一持仓槽位
func SlotKey(instrument string, level int) string {
	return fmt.Sprintf("%s:%d", instrument, level)
}

// DirectionSign 方向系数
func DirectionSign(direction string) decimal.Decimal {
	if direction == DirectionShort {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}
