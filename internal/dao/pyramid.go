package dao

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/utrading/utrading-live-engine/internal/models"
)

type PyramidDAO struct {
	db *gorm.DB
}

func NewPyramidDAO(db *gorm.DB) *PyramidDAO {
	return &PyramidDAO{db: db}
}

func (d *PyramidDAO) WithTx(tx *gorm.DB) *PyramidDAO {
	return &PyramidDAO{db: tx}
}

// Get 获取品种金字塔状态，不存在时返回未持久化的空状态
func (d *PyramidDAO) Get(ctx context.Context, instrument string) (*models.PyramidState, error) {
	var s models.PyramidState
	err := d.db.WithContext(ctx).Where("instrument = ?", instrument).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewPyramidState(instrument), nil
	}
	if err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

// Save 新建或按版本更新。并发新建同一品种时返回 ErrVersionConflict
func (d *PyramidDAO) Save(ctx context.Context, s *models.PyramidState) error {
	if s.ID == 0 {
		s.Version = 1
		err := translate(d.db.WithContext(ctx).Create(s).Error)
		if errors.Is(err, ErrDuplicate) {
			s.ID = 0
			return ErrVersionConflict
		}
		return err
	}

	result := d.db.WithContext(ctx).
		Model(&models.PyramidState{}).
		Where("id = ? AND version = ?", s.ID, s.Version).
		Updates(map[string]any{
			"base_open":         s.BaseOpen,
			"count":             s.Count,
			"last_entry_price":  s.LastEntryPrice,
			"last_pyramid_time": s.LastPyramidTime,
			"version":           s.Version + 1,
			"updated_at":        time.Now(),
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

// List 所有品种状态，按品种排序
func (d *PyramidDAO) List(ctx context.Context) ([]*models.PyramidState, error) {
	var list []*models.PyramidState
	err := d.db.WithContext(ctx).Order("instrument").Find(&list).Error
	return list, translate(err)
}
