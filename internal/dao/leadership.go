package dao

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/utrading/utrading-live-engine/internal/models"
)

type LeadershipDAO struct {
	db *gorm.DB
}

func NewLeadershipDAO(db *gorm.DB) *LeadershipDAO {
	return &LeadershipDAO{db: db}
}

// Record 写入租约变更
func (d *LeadershipDAO) Record(ctx context.Context, h *models.LeadershipHistory) error {
	return translate(d.db.WithContext(ctx).Create(h).Error)
}

// ListRecent 最近的租约变更，按时间倒序
func (d *LeadershipDAO) ListRecent(ctx context.Context, resource string, limit int) ([]*models.LeadershipHistory, error) {
	var list []*models.LeadershipHistory
	err := d.db.WithContext(ctx).
		Where("resource = ?", resource).
		Order("id DESC").
		Limit(limit).
		Find(&list).Error
	return list, translate(err)
}

// DeleteOld 删除早于指定时间的审计记录
func (d *LeadershipDAO) DeleteOld(ctx context.Context, before time.Time) (int64, error) {
	result := d.db.WithContext(ctx).Where("created_at < ?", before).Delete(&models.LeadershipHistory{})
	return result.RowsAffected, translate(result.Error)
}
