package dal

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	proxymysql "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/net/proxy"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/dbresolver"

	"github.com/utrading/utrading-live-engine/config"
	"github.com/utrading/utrading-live-engine/internal/models"
	"github.com/utrading/utrading-live-engine/pkg/logger"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var (
	db     *gorm.DB
	dbOnce sync.Once
)

// InitDB 初始化全局数据库连接，失败直接 panic
func InitDB(cfg config.Database) {
	dbOnce.Do(func() {
		conn, err := Open(cfg)
		if err != nil {
			panic(fmt.Sprintf("connect database failed: %v", err))
		}
		db = conn
	})
}

// DB 全局数据库连接
func DB() *gorm.DB {
	return db
}

// registerProxyDialer 注册 SOCKS5 代理拨号器
func registerProxyDialer(proxyAddr string) error {
	dialer, err := proxy.SOCKS5("tcp", proxyAddr, nil, &net.Dialer{})
	if err != nil {
		return errors.Wrap(err, "create proxy dialer failed")
	}

	proxymysql.RegisterDialContext("dial", func(ctx context.Context, addr string) (net.Conn, error) {
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, "tcp", addr)
		}
		return dialer.Dial("tcp", addr)
	})

	return nil
}

// dialector 按驱动创建 gorm Dialector
func dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case DriverMySQL, "":
		return mysql.Open(dsn), nil
	case DriverPostgres:
		return postgres.Open(dsn), nil
	case DriverSQLite:
		return sqlite.Open(sqliteDSN(dsn)), nil
	default:
		return nil, errors.Errorf("unsupported database driver: %s", driver)
	}
}

// sqliteDSN 补充忙等待和外键参数
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_busy_timeout=5000&_foreign_keys=on"
}

func newGormLogger(slow time.Duration) gormlogger.Interface {
	if slow <= 0 {
		slow = 200 * time.Millisecond
	}
	return gormlogger.New(
		logger.Printer{Level: zerolog.WarnLevel}, gormlogger.Config{
			SlowThreshold:             slow,
			LogLevel:                  gormlogger.Warn,
			Colorful:                  false,
			IgnoreRecordNotFoundError: true,
		},
	)
}

// Open 建立数据库连接，配置读写分离和连接池
func Open(cfg config.Database) (*gorm.DB, error) {
	if cfg.Driver == DriverMySQL && cfg.ProxyEnabled {
		if err := registerProxyDialer(cfg.ProxyAddr); err != nil {
			return nil, err
		}
		logger.Infof("mysql proxy enabled: %s", cfg.ProxyAddr)
	}

	dial, err := dialector(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	conn, err := gorm.Open(dial, &gorm.Config{
		Logger:         newGormLogger(cfg.SlowThreshold),
		PrepareStmt:    cfg.Driver != DriverSQLite,
		TranslateError: true, // 唯一键冲突转换为 gorm.ErrDuplicatedKey
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s master", cfg.Driver)
	}

	maxIdleTime := time.Hour
	if cfg.SetConnMaxIdleTime > 0 {
		maxIdleTime = time.Duration(cfg.SetConnMaxIdleTime) * time.Second
	}

	maxLifetime := 2 * time.Hour
	if cfg.SetConnMaxLifetime > 0 {
		maxLifetime = time.Duration(cfg.SetConnMaxLifetime) * time.Second
	}

	maxOpen := cfg.MaxOpenConnections
	maxIdle := cfg.MaxIdleConnections
	if cfg.Driver == DriverSQLite {
		// sqlite 单写者，多连接只会带来 SQLITE_BUSY
		maxOpen, maxIdle = 1, 1
	}

	// 从库只读
	if len(cfg.SlaveAddr) > 0 && cfg.Driver != DriverSQLite {
		var replicas []gorm.Dialector
		for _, addr := range cfg.SlaveAddr {
			replica, err := dialector(cfg.Driver, addr)
			if err != nil {
				return nil, err
			}
			replicas = append(replicas, replica)
		}

		plugin := dbresolver.Register(dbresolver.Config{
			Replicas:          replicas,
			Policy:            dbresolver.RandomPolicy{},
			TraceResolverMode: true,
		}).
			SetConnMaxIdleTime(maxIdleTime).
			SetConnMaxLifetime(maxLifetime).
			SetMaxIdleConns(maxIdle).
			SetMaxOpenConns(maxOpen)
		if err = conn.Use(plugin); err != nil {
			return nil, errors.Wrap(err, "register dbresolver")
		}
		logger.Infof("%s %d slave(s) configured", cfg.Driver, len(cfg.SlaveAddr))
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql.DB")
	}

	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetConnMaxIdleTime(maxIdleTime)
	sqlDB.SetConnMaxLifetime(maxLifetime)

	logger.Info().
		Str("driver", cfg.Driver).
		Int("max_idle", maxIdle).
		Int("max_open", maxOpen).
		Dur("max_idle_time", maxIdleTime).
		Dur("max_lifetime", maxLifetime).
		Msg("database connected")

	return conn, nil
}

// Ping 检查数据库连通性
func Ping(ctx context.Context, conn *gorm.DB) error {
	if conn == nil {
		return errors.New("database not initialized")
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func Close() {
	CloseDB(db)
}

func CloseDB(conn *gorm.DB) {
	if conn == nil {
		return
	}
	sqlDB, err := conn.DB()
	if err != nil {
		logger.Error().Err(err).Msg("get sql.DB failed")
		return
	}
	if err = sqlDB.Close(); err != nil {
		logger.Error().Err(err).Msg("close database failed")
		return
	}

	logger.Infof("database closed.")
}

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("database not initialized")
	}

	for _, model := range models.All() {
		if err := conn.AutoMigrate(model); err != nil {
			return errors.Wrapf(err, "auto migrate %s", getTableName(model))
		}
		logger.Debug().Str("table", getTableName(model)).Msg("auto migrate success")
	}

	return nil
}

// getTableName 获取模型的表名
func getTableName(model any) string {
	if t, ok := model.(interface{ TableName() string }); ok {
		return t.TableName()
	}
	return "unknown"
}

// OpenSQLite 打开 sqlite 文件库并迁移表结构，用于单机部署和测试
func OpenSQLite(path string) (*gorm.DB, error) {
	conn, err := Open(config.Database{Driver: DriverSQLite, DSN: path})
	if err != nil {
		return nil, err
	}
	if err = AutoMigrate(conn); err != nil {
		return nil, err
	}
	return conn, nil
}
