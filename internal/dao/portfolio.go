package dao

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/utrading/utrading-live-engine/internal/models"
)

type PortfolioDAO struct {
	db *gorm.DB
}

func NewPortfolioDAO(db *gorm.DB) *PortfolioDAO {
	return &PortfolioDAO{db: db}
}

func (d *PortfolioDAO) WithTx(tx *gorm.DB) *PortfolioDAO {
	return &PortfolioDAO{db: tx}
}

// Ensure 账户行不存在时按初始权益创建，已存在则不变
func (d *PortfolioDAO) Ensure(ctx context.Context, initialEquity decimal.Decimal) (*models.PortfolioState, error) {
	row := &models.PortfolioState{
		ID:         models.PortfolioRowID,
		Equity:     initialEquity,
		Watermark:  initialEquity,
		MarginUsed: decimal.Zero,
		Version:    1,
	}
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error
	if err != nil {
		return nil, translate(err)
	}
	return d.Get(ctx)
}

// Get 读取账户行
func (d *PortfolioDAO) Get(ctx context.Context) (*models.PortfolioState, error) {
	var s models.PortfolioState
	if err := d.db.WithContext(ctx).First(&s, models.PortfolioRowID).Error; err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

// Update 按版本更新权益、水位和保证金
func (d *PortfolioDAO) Update(ctx context.Context, s *models.PortfolioState) error {
	result := d.db.WithContext(ctx).
		Model(&models.PortfolioState{}).
		Where("id = ? AND version = ?", s.ID, s.Version).
		Updates(map[string]any{
			"equity":                s.Equity,
			"equity_high_watermark": s.Watermark,
			"margin_used":           s.MarginUsed,
			"version":               s.Version + 1,
			"updated_at":            time.Now(),
		})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}
	s.Version++
	return nil
}
