package config

import (
	"os"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/utrading/utrading-live-engine/pkg/logger"
)

const (
	EnvDatabaseDSN = "LIVE_ENGINE_DB_DSN"
	EnvInstanceID  = "LIVE_ENGINE_INSTANCE_ID"
	EnvNATS        = "LIVE_ENGINE_NATS"
)

type Engine struct {
	InstanceID        string        `toml:"instance_id"` // 为空时启动时生成
	HTTPAddr          string        `toml:"http_addr"`
	InstrumentsFile   string        `toml:"instruments_file"`
	InstrumentsReload time.Duration `toml:"instruments_reload"` // 合约文件检查间隔
	InstrumentsGrace  time.Duration `toml:"instruments_grace"`  // 文件中删除的合约保留时长
	FreshnessWindow   time.Duration `toml:"freshness_window"`
	FingerprintBucket time.Duration `toml:"fingerprint_bucket"`
	Workers           int           `toml:"workers"`
	ShutdownTimeout   time.Duration `toml:"shutdown_timeout"`
}

type Database struct {
	Driver             string        `toml:"driver"` // mysql, postgres, sqlite
	DSN                string        `toml:"dsn"`
	SlaveAddr          []string      `toml:"slave_addr"`
	MaxIdleConnections int           `toml:"max_idle_connections"`
	MaxOpenConnections int           `toml:"max_open_connections"`
	SetConnMaxLifetime int           `toml:"set_conn_max_lifetime"`
	SetConnMaxIdleTime int           `toml:"set_conn_max_idle_time"`
	ProxyEnabled       bool          `toml:"proxy_enabled"`
	ProxyAddr          string        `toml:"proxy_addr"`
	OpTimeout          time.Duration `toml:"op_timeout"`
	SlowThreshold      time.Duration `toml:"slow_threshold"`
}

type NATS struct {
	Endpoint string `toml:"endpoint"` // 为空时不发布
}

type Coordination struct {
	Backend    string        `toml:"backend"` // nats, badger, memory
	Bucket     string        `toml:"bucket"`
	BadgerPath string        `toml:"badger_path"`
	ClaimTTL   time.Duration `toml:"claim_ttl"`
	LeaseTTL   time.Duration `toml:"lease_ttl"`
	OpTimeout  time.Duration `toml:"op_timeout"`
	Retention  time.Duration `toml:"retention"` // 存储层回收过期 key 的时间
}

type Risk struct {
	InitialEquity             float64 `toml:"initial_equity"`
	RiskFraction              float64 `toml:"risk_fraction"`
	VolFraction               float64 `toml:"vol_fraction"`
	MaxInstrumentRiskFraction float64 `toml:"max_instrument_risk_fraction"`
	CapToSuggestedLots        bool    `toml:"cap_to_suggested_lots"`
	MaxConflictRetries        int     `toml:"max_conflict_retries"`
}

type Pyramid struct {
	MaxLevels         int           `toml:"max_levels"`
	SpacingATR        float64       `toml:"spacing_atr"`
	MomentumEnabled   bool          `toml:"momentum_enabled"`
	MomentumLookback  time.Duration `toml:"momentum_lookback"`
	MomentumThreshold float64       `toml:"momentum_threshold"` // 百分比
	ScalingFactor     float64       `toml:"scaling_factor"`
}

type Execution struct {
	Broker         string        `toml:"broker"` // paper, rest
	GatewayURL     string        `toml:"gateway_url"`
	APIKey         string        `toml:"api_key"`
	RequestTimeout time.Duration `toml:"request_timeout"`
	PlaceAttempts  int           `toml:"place_attempts"`
	BackoffMin     time.Duration `toml:"backoff_min"`
	BackoffMax     time.Duration `toml:"backoff_max"`
	PollInterval   time.Duration `toml:"poll_interval"`
	FillTimeout    time.Duration `toml:"fill_timeout"`
	PersistRetries int           `toml:"persist_retries"`
}

type Scheduler struct {
	RolloverInterval   time.Duration `toml:"rollover_interval"`
	RolloverDays       int           `toml:"rollover_days"`
	PruneInterval      time.Duration `toml:"prune_interval"`
	StaleClaimAfter    time.Duration `toml:"stale_claim_after"`
	Retention          time.Duration `toml:"retention"`
	StatsInterval      time.Duration `toml:"stats_interval"`
	HeartbeatInterval  time.Duration `toml:"heartbeat_interval"`
	InstanceStaleAfter time.Duration `toml:"instance_stale_after"`
}

type Logger struct {
	Level      string `toml:"level"`
	Dir        string `toml:"dir"`
	MaxSize    int    `toml:"max_size"`
	MaxBackups int    `toml:"max_backups"`
	MaxAge     int    `toml:"max_age"`
	Compress   bool   `toml:"compress"`
	Console    bool   `toml:"console"`
}

type Profiling struct {
	Enabled       bool   `toml:"enabled"`
	ServerAddress string `toml:"server_address"`
	AppName       string `toml:"app_name"`
}

type Config struct {
	Engine       Engine       `toml:"engine"`
	Database     Database     `toml:"database"`
	NATS         NATS         `toml:"nats"`
	Coordination Coordination `toml:"coordination"`
	Risk         Risk         `toml:"risk"`
	Pyramid      Pyramid      `toml:"pyramid"`
	Execution    Execution    `toml:"execution"`
	Scheduler    Scheduler    `toml:"scheduler"`
	Logger       Logger       `toml:"log"`
	Profiling    Profiling    `toml:"profiling"`
}

var (
	cfg         *Config
	cfgPath     string
	cfgLock     sync.RWMutex
	lastModTime time.Time
	stopChan    chan struct{}
)

func Default() *Config {
	return &Config{
		Engine: Engine{
			HTTPAddr:          "0.0.0.0:16900",
			InstrumentsFile:   "instruments.yaml",
			InstrumentsReload: time.Minute,
			InstrumentsGrace:  time.Hour,
			FreshnessWindow:   60 * time.Second,
			FingerprintBucket: 60 * time.Second,
			Workers:           32,
			ShutdownTimeout:   30 * time.Second,
		},
		Database: Database{
			Driver:             "mysql",
			DSN:                "root:password@tcp(localhost:3306)/utrading?charset=utf8mb4&parseTime=True&loc=Local",
			SlaveAddr:          []string{},
			MaxIdleConnections: 16,
			MaxOpenConnections: 64,
			SetConnMaxLifetime: 7200,
			SetConnMaxIdleTime: 3600,
			ProxyEnabled:       false,
			ProxyAddr:          "127.0.0.1:7890",
			OpTimeout:          3 * time.Second,
			SlowThreshold:      200 * time.Millisecond,
		},
		NATS: NATS{
			Endpoint: "nats://localhost:4222",
		},
		Coordination: Coordination{
			Backend:    "nats",
			Bucket:     "live_engine",
			BadgerPath: "data/coordination",
			ClaimTTL:   10 * time.Minute,
			LeaseTTL:   10 * time.Second,
			OpTimeout:  500 * time.Millisecond,
			Retention:  24 * time.Hour,
		},
		Risk: Risk{
			InitialEquity:             5000000,
			RiskFraction:              0.015,
			VolFraction:               0.005,
			MaxInstrumentRiskFraction: 0.1,
			CapToSuggestedLots:        false,
			MaxConflictRetries:        3,
		},
		Pyramid: Pyramid{
			MaxLevels:         3,
			SpacingATR:        0.5,
			MomentumEnabled:   false,
			MomentumLookback:  10 * time.Minute,
			MomentumThreshold: 0,
			ScalingFactor:     0.5,
		},
		Execution: Execution{
			Broker:         "paper",
			RequestTimeout: 5 * time.Second,
			PlaceAttempts:  3,
			BackoffMin:     200 * time.Millisecond,
			BackoffMax:     5 * time.Second,
			PollInterval:   500 * time.Millisecond,
			FillTimeout:    30 * time.Second,
			PersistRetries: 3,
		},
		Scheduler: Scheduler{
			RolloverInterval:   time.Hour,
			RolloverDays:       7,
			PruneInterval:      10 * time.Minute,
			StaleClaimAfter:    15 * time.Minute,
			Retention:          30 * 24 * time.Hour,
			StatsInterval:      time.Minute,
			HeartbeatInterval:  5 * time.Second,
			InstanceStaleAfter: 24 * time.Hour,
		},
		Logger: Logger{
			Level:      "info",
			Dir:        "logs",
			MaxSize:    10,
			MaxBackups: 60,
			MaxAge:     7,
			Compress:   false,
			Console:    false,
		},
		Profiling: Profiling{
			Enabled:       false,
			ServerAddress: "http://localhost:4040",
			AppName:       "live_engine",
		},
	}
}

// LoadEnv 加载 .env 文件，文件不存在时忽略
func LoadEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			logger.Warn().Err(err).Str("file", f).Msg("load env file failed")
		}
	}
}

// applyEnv 环境变量覆盖文件配置
func applyEnv(c *Config) {
	if v := os.Getenv(EnvDatabaseDSN); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(EnvInstanceID); v != "" {
		c.Engine.InstanceID = v
	}
	if v := os.Getenv(EnvNATS); v != "" {
		c.NATS.Endpoint = v
	}
}

func Load(path string) error {
	c := Default()
	if _, err := toml.DecodeFile(path, c); err != nil {
		return err
	}
	applyEnv(c)

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	cfgLock.Lock()
	defer cfgLock.Unlock()
	// 实例 ID 在进程生命周期内不可变
	if cfg != nil && cfg.Engine.InstanceID != "" {
		c.Engine.InstanceID = cfg.Engine.InstanceID
	}
	cfg = c
	cfgPath = path
	lastModTime = info.ModTime()

	return nil
}

func Get() *Config {
	cfgLock.RLock()
	defer cfgLock.RUnlock()
	return cfg
}

// Set 直接设置配置（测试和工具使用）
func Set(c *Config) {
	cfgLock.Lock()
	defer cfgLock.Unlock()
	cfg = c
}

// Init 初始化配置并启动定期重载（默认10秒）
func Init(path string) error {
	return InitWithInterval(path, 10*time.Second)
}

// InitWithInterval 初始化配置并指定重载间隔
func InitWithInterval(path string, interval time.Duration) error {
	if err := Load(path); err != nil {
		return err
	}

	stopChan = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				reloadIfNeeded()
			case <-stopChan:
				return
			}
		}
	}()

	return nil
}

// Stop 停止配置重载
func Stop() {
	if stopChan != nil {
		close(stopChan)
		stopChan = nil
	}
}

// reloadIfNeeded 仅在文件修改时重载
func reloadIfNeeded() {
	cfgLock.RLock()
	path := cfgPath
	lastMod := lastModTime
	cfgLock.RUnlock()

	if path == "" {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		logger.Error().Err(err).Msg("config stat failed")
		return
	}

	if info.ModTime().After(lastMod) {
		if err = Load(path); err != nil {
			logger.Error().Err(err).Msg("config reload failed")
		} else {
			logger.Info().Msg("config reloaded")
		}
	}
}
