package dao

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/utrading/utrading-live-engine/internal/models"
)

type PositionDAO struct {
	db *gorm.DB
}

func NewPositionDAO(db *gorm.DB) *PositionDAO {
	return &PositionDAO{db: db}
}

// WithTx 绑定事务
func (d *PositionDAO) WithTx(tx *gorm.DB) *PositionDAO {
	return &PositionDAO{db: tx}
}

// Create 新建持仓，同一槽位已有 OPEN 仓位时返回 ErrDuplicate
func (d *PositionDAO) Create(ctx context.Context, p *models.Position) error {
	if p.Version == 0 {
		p.Version = 1
	}
	if p.Status == models.PositionOpen && p.OpenSlot == nil {
		slot := models.SlotKey(p.Instrument, p.PyramidLevel)
		p.OpenSlot = &slot
	}
	return translate(d.db.WithContext(ctx).Create(p).Error)
}

// Update 按版本号更新，版本不一致返回 ErrVersionConflict
func (d *PositionDAO) Update(ctx context.Context, p *models.Position) error {
	result := d.db.WithContext(ctx).
		Model(&models.Position{}).
		Where("id = ? AND version = ?", p.ID, p.Version).
		Updates(map[string]any{
			"lots":         p.Lots,
			"stop_price":   p.StopPrice,
			"margin_used":  p.MarginUsed,
			"status":       p.Status,
			"open_slot":    p.OpenSlot,
			"exit_price":   p.ExitPrice,
			"realized_pnl": p.RealizedPnL,
			"closed_at":    p.ClosedAt,
			"version":      p.Version + 1,
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}
	p.Version++
	return nil
}

// Get 按 ID 获取
func (d *PositionDAO) Get(ctx context.Context, id uint) (*models.Position, error) {
	var p models.Position
	if err := d.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// ListOpen 所有 OPEN 仓位，按品种、层级、ID 排序
func (d *PositionDAO) ListOpen(ctx context.Context) ([]*models.Position, error) {
	var list []*models.Position
	err := d.db.WithContext(ctx).
		Where("status = ?", models.PositionOpen).
		Order("instrument, pyramid_level, id").
		Find(&list).Error
	return list, translate(err)
}

// ListOpenByInstrument 指定品种的 OPEN 仓位
func (d *PositionDAO) ListOpenByInstrument(ctx context.Context, instrument string) ([]*models.Position, error) {
	var list []*models.Position
	err := d.db.WithContext(ctx).
		Where("instrument = ? AND status = ?", instrument, models.PositionOpen).
		Order("pyramid_level, id").
		Find(&list).Error
	return list, translate(err)
}

// ListRecent 最近变更的仓位
func (d *PositionDAO) ListRecent(ctx context.Context, limit int) ([]*models.Position, error) {
	var list []*models.Position
	err := d.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&list).Error
	return list, translate(err)
}

// CountOpen OPEN 仓位数量
func (d *PositionDAO) CountOpen(ctx context.Context) (int64, error) {
	var n int64
	err := d.db.WithContext(ctx).Model(&models.Position{}).Where("status = ?", models.PositionOpen).Count(&n).Error
	return n, translate(err)
}
