package dao

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/utrading/utrading-live-engine/internal/models"
)

type SignalDAO struct {
	db *gorm.DB
}

func NewSignalDAO(db *gorm.DB) *SignalDAO {
	return &SignalDAO{db: db}
}

func (d *SignalDAO) WithTx(tx *gorm.DB) *SignalDAO {
	return &SignalDAO{db: tx}
}

// Insert 写入认领记录，指纹已存在时返回 ErrDuplicate
func (d *SignalDAO) Insert(ctx context.Context, row *models.SignalLog) error {
	return translate(d.db.WithContext(ctx).Create(row).Error)
}

// GetByFingerprint 按指纹查询
func (d *SignalDAO) GetByFingerprint(ctx context.Context, fingerprint string) (*models.SignalLog, error) {
	var row models.SignalLog
	if err := d.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).First(&row).Error; err != nil {
		return nil, translate(err)
	}
	return &row, nil
}

// IncDuplicate 重复信号计数加一
func (d *SignalDAO) IncDuplicate(ctx context.Context, fingerprint string) error {
	result := d.db.WithContext(ctx).
		Model(&models.SignalLog{}).
		Where("fingerprint = ?", fingerprint).
		UpdateColumn("duplicate_count", gorm.Expr("duplicate_count + ?", 1))
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.WithStack(ErrNotFound)
	}
	return nil
}

// SetOutcome 写入最终结果
func (d *SignalDAO) SetOutcome(ctx context.Context, fingerprint string, outcome models.Outcome) error {
	result := d.db.WithContext(ctx).
		Model(&models.SignalLog{}).
		Where("fingerprint = ?", fingerprint).
		Updates(map[string]any{
			"status":             outcome.Status,
			"reason":             truncate(outcome.Reason, 255),
			"lots":               outcome.Lots,
			"binding_constraint": outcome.BindingConstraint,
			"order_id":           outcome.OrderID,
			"updated_at":         time.Now(),
		})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.WithStack(ErrNotFound)
	}
	return nil
}

// ListRecent 最近的信号记录
func (d *SignalDAO) ListRecent(ctx context.Context, limit int) ([]*models.SignalLog, error) {
	var list []*models.SignalLog
	err := d.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&list).Error
	return list, translate(err)
}

// FingerprintsSince 指定时间之后创建的指纹，用于预热去重缓存
func (d *SignalDAO) FingerprintsSince(ctx context.Context, since time.Time) ([]string, error) {
	var fps []string
	err := d.db.WithContext(ctx).
		Model(&models.SignalLog{}).
		Where("created_at >= ?", since).
		Pluck("fingerprint", &fps).Error
	return fps, translate(err)
}

// PriceAtOrBefore 品种在指定时间及之前最近一次信号价格
func (d *SignalDAO) PriceAtOrBefore(ctx context.Context, instrument string, at time.Time) (decimal.Decimal, bool, error) {
	var row models.SignalLog
	err := d.db.WithContext(ctx).
		Where("instrument = ? AND signal_time <= ?", instrument, at).
		Order("signal_time DESC, id DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, translate(err)
	}
	return row.Price, true, nil
}

// MarkStaleClaims 将超时仍处于 claimed 的记录改为指定状态
func (d *SignalDAO) MarkStaleClaims(ctx context.Context, before time.Time, status, reason string) (int64, error) {
	result := d.db.WithContext(ctx).
		Model(&models.SignalLog{}).
		Where("status = ? AND created_at < ?", models.SignalClaimed, before).
		Updates(map[string]any{
			"status":     status,
			"reason":     reason,
			"updated_at": time.Now(),
		})
	return result.RowsAffected, translate(result.Error)
}

// DeleteOld 删除早于指定时间的终态记录
func (d *SignalDAO) DeleteOld(ctx context.Context, before time.Time) (int64, error) {
	result := d.db.WithContext(ctx).
		Where("created_at < ? AND status IN ?", before, []string{models.SignalExecuted, models.SignalRejected, models.SignalFailed}).
		Delete(&models.SignalLog{})
	return result.RowsAffected, translate(result.Error)
}

type statusCount struct {
	Status string
	Count  int64
}

// CountByStatus 各状态的信号数量
func (d *SignalDAO) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []statusCount
	err := d.db.WithContext(ctx).
		Model(&models.SignalLog{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
