package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioRowID 账户状态只有一行
const PortfolioRowID = 1

// PortfolioState 账户权益、最高权益水位和已用保证金
type PortfolioState struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	Equity     decimal.Decimal `gorm:"type:decimal(28,8);not null" json:"equity"`
	Watermark  decimal.Decimal `gorm:"column:equity_high_watermark;type:decimal(28,8);not null" json:"equity_high_watermark"`
	MarginUsed decimal.Decimal `gorm:"type:decimal(28,8);not null;default:0" json:"margin_used"`
	Version    int64           `gorm:"not null;default:1" json:"version"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PortfolioState) TableName() string {
	return "portfolio_state"
}

func (p *PortfolioState) MarginAvailable() decimal.Decimal {
	return p.Equity.Sub(p.MarginUsed)
}
