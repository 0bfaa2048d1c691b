package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// NoPosition 没有持仓时的金字塔计数
const NoPosition = -1

// PyramidState 品种金字塔状态，由 positions 推导出的缓存
type PyramidState struct {
	ID              uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	Instrument      string          `gorm:"type:varchar(32);not null;uniqueIndex:uk_pyramid_instrument" json:"instrument"`
	BaseOpen        bool            `gorm:"not null;default:false;comment:底仓是否持有" json:"base_open"`
	Count           int             `gorm:"not null;comment:最高持仓层级，-1 表示无持仓" json:"count"`
	LastEntryPrice  decimal.Decimal `gorm:"type:decimal(28,8);not null;default:0" json:"last_entry_price"`
	LastPyramidTime *time.Time      `json:"last_pyramid_time,omitempty"`
	Version         int64           `gorm:"not null;default:1" json:"version"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PyramidState) TableName() string {
	return "pyramid_states"
}

// NewPyramidState 未持久化的空状态
func NewPyramidState(instrument string) *PyramidState {
	return &PyramidState{Instrument: instrument, Count: NoPosition}
}
