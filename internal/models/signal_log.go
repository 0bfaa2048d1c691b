package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SignalClaimed      = "claimed"
	SignalExecuted     = "executed"
	SignalRejected     = "rejected"
	SignalFailed       = "failed"
	SignalManualReview = "manual_review"
)

// SignalLog 信号审计表，fingerprint 唯一约束是去重的最终依据
type SignalLog struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Fingerprint string `gorm:"type:varchar(64);not null;uniqueIndex:uk_fingerprint" json:"fingerprint"`

	Type          string              `gorm:"type:varchar(16);not null" json:"type"`
	Instrument    string              `gorm:"type:varchar(32);not null;index:idx_signal_instrument_time" json:"instrument"`
	Label         string              `gorm:"type:varchar(64);not null" json:"label"`
	Price         decimal.Decimal     `gorm:"type:decimal(28,8);not null" json:"price"`
	StopPrice     decimal.Decimal     `gorm:"type:decimal(28,8);not null;default:0" json:"stop_price"`
	ATR           decimal.Decimal     `gorm:"column:atr;type:decimal(28,8);not null;default:0" json:"atr"`
	ER            decimal.Decimal     `gorm:"column:efficiency_ratio;type:decimal(10,6);not null;default:1" json:"efficiency_ratio"`
	ROC           decimal.NullDecimal `gorm:"column:roc;type:decimal(18,8)" json:"roc"`
	SuggestedLots int64               `gorm:"not null;default:0" json:"suggested_lots"`
	SignalTime    time.Time           `gorm:"not null;index:idx_signal_instrument_time" json:"signal_time"`

	ClaimedBy         string `gorm:"type:varchar(64);not null;comment:认领实例" json:"claimed_by"`
	Status            string `gorm:"type:varchar(16);not null;index:idx_status_created" json:"status"`
	Reason            string `gorm:"type:varchar(255)" json:"reason"`
	Lots              int64  `gorm:"not null;default:0" json:"lots"`
	BindingConstraint string `gorm:"type:varchar(64)" json:"binding_constraint"`
	OrderID           string `gorm:"type:varchar(64)" json:"order_id"`
	DuplicateCount    int64  `gorm:"not null;default:0" json:"duplicate_count"`

	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_status_created" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SignalLog) TableName() string {
	return "signal_log"
}

// Outcome 信号最终结果
type Outcome struct {
	Status            string
	Reason            string
	Lots              int64
	BindingConstraint string
	OrderID           string
}

// Terminal 是否为终态
func (s *SignalLog) Terminal() bool {
	return s.Status != SignalClaimed
}
