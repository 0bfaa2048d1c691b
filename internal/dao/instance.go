package dao

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/utrading/utrading-live-engine/internal/models"
)

type InstanceDAO struct {
	db *gorm.DB
}

func NewInstanceDAO(db *gorm.DB) *InstanceDAO {
	return &InstanceDAO{db: db}
}

// Heartbeat 更新或插入实例心跳
func (d *InstanceDAO) Heartbeat(ctx context.Context, hb *models.InstanceMetadata) error {
	return translate(d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "instance_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "hostname", "last_seen_at"}),
	}).Create(hb).Error)
}

// ListAlive 指定时间之后有心跳的实例
func (d *InstanceDAO) ListAlive(ctx context.Context, since time.Time) ([]*models.InstanceMetadata, error) {
	var list []*models.InstanceMetadata
	err := d.db.WithContext(ctx).
		Where("last_seen_at >= ?", since).
		Order("instance_id").
		Find(&list).Error
	return list, translate(err)
}

// DeleteStale 删除长时间无心跳的实例
func (d *InstanceDAO) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	result := d.db.WithContext(ctx).Where("last_seen_at < ?", before).Delete(&models.InstanceMetadata{})
	return result.RowsAffected, translate(result.Error)
}
