package dao

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

var (
	// ErrVersionConflict 乐观锁版本不匹配，调用方需要重新读取后重试
	ErrVersionConflict = errors.New("version conflict")
	// ErrDuplicate 唯一约束冲突
	ErrDuplicate = errors.New("duplicate key")
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
)

var (
	_position   *PositionDAO
	_pyramid    *PyramidDAO
	_portfolio  *PortfolioDAO
	_signal     *SignalDAO
	_instance   *InstanceDAO
	_leadership *LeadershipDAO
	daoMu       sync.RWMutex
)

// InitDAO 初始化所有 DAO 单例（应用启动时调用）
func InitDAO(db *gorm.DB) {
	daoMu.Lock()
	defer daoMu.Unlock()
	_position = NewPositionDAO(db)
	_pyramid = NewPyramidDAO(db)
	_portfolio = NewPortfolioDAO(db)
	_signal = NewSignalDAO(db)
	_instance = NewInstanceDAO(db)
	_leadership = NewLeadershipDAO(db)
}

// Position 获取 PositionDAO 单例
func Position() *PositionDAO {
	daoMu.RLock()
	defer daoMu.RUnlock()
	return _position
}

// Pyramid 获取 PyramidDAO 单例
func Pyramid() *PyramidDAO {
	daoMu.RLock()
	defer daoMu.RUnlock()
	return _pyramid
}

// Portfolio 获取 PortfolioDAO 单例
func Portfolio() *PortfolioDAO {
	daoMu.RLock()
	defer daoMu.RUnlock()
	return _portfolio
}

// Signal 获取 SignalDAO 单例
func Signal() *SignalDAO {
	daoMu.RLock()
	defer daoMu.RUnlock()
	return _signal
}

// Instance 获取 InstanceDAO 单例
func Instance() *InstanceDAO {
	daoMu.RLock()
	defer daoMu.RUnlock()
	return _instance
}

// Leadership 获取 LeadershipDAO 单例
func Leadership() *LeadershipDAO {
	daoMu.RLock()
	defer daoMu.RUnlock()
	return _leadership
}

// translate 统一 gorm 错误
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return errors.Wrap(ErrDuplicate, err.Error())
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errors.WithStack(ErrNotFound)
	default:
		return errors.WithStack(err)
	}
}

// Transaction 在事务中执行 fn
func Transaction(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	return db.WithContext(ctx).Transaction(fn)
}
