package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/grafana/pyroscope-go"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/utrading/utrading-live-engine/config"
	"github.com/utrading/utrading-live-engine/internal/cache"
	"github.com/utrading/utrading-live-engine/internal/coordination"
	"github.com/utrading/utrading-live-engine/internal/dal"
	"github.com/utrading/utrading-live-engine/internal/dao"
	"github.com/utrading/utrading-live-engine/internal/dedup"
	"github.com/utrading/utrading-live-engine/internal/execution"
	"github.com/utrading/utrading-live-engine/internal/instrument"
	"github.com/utrading/utrading-live-engine/internal/leader"
	"github.com/utrading/utrading-live-engine/internal/monitor"
	"github.com/utrading/utrading-live-engine/internal/nats"
	"github.com/utrading/utrading-live-engine/internal/portfolio"
	"github.com/utrading/utrading-live-engine/internal/processor"
	"github.com/utrading/utrading-live-engine/internal/pyramid"
	"github.com/utrading/utrading-live-engine/internal/recovery"
	"github.com/utrading/utrading-live-engine/internal/scheduler"
	"github.com/utrading/utrading-live-engine/internal/server"
	"github.com/utrading/utrading-live-engine/internal/signal"
	"github.com/utrading/utrading-live-engine/internal/sizing"
	"github.com/utrading/utrading-live-engine/internal/ws"
	"github.com/utrading/utrading-live-engine/pkg/goplus"
	"github.com/utrading/utrading-live-engine/pkg/logger"
	"github.com/utrading/utrading-live-engine/pkg/retry"
	"github.com/utrading/utrading-live-engine/pkg/sigproc"
)

const recencyCacheSize = 100_000

func main() {
	var configFile string
	var migrate bool
	flag.StringVar(&configFile, "config", "cfg.toml", "config file path")
	flag.BoolVar(&migrate, "migrate", true, "auto migrate tables on start")
	flag.Parse()

	config.LoadEnv()

	// 加载配置
	if err := config.Init(configFile); err != nil {
		panic(err)
	}
	cfg := config.Get()
	if cfg.Engine.InstanceID == "" {
		hostname, _ := os.Hostname()
		cfg.Engine.InstanceID = hostname + "-" + uuid.NewString()[:8]
	}

	// 初始化日志
	if err := initLogger(cfg); err != nil {
		panic("init logger failed: " + err.Error())
	}
	defer logger.Close()

	logger.Info().Str("instance", cfg.Engine.InstanceID).Msg("live_engine starting...")

	if cfg.Profiling.Enabled {
		profiler, err := startProfiler(cfg)
		if err != nil {
			logger.Warn().Err(err).Msg("start pyroscope profiler failed")
		} else {
			defer func() { _ = profiler.Stop() }()
		}
	}

	// 初始化指标
	monitor.InitMetrics()

	// 初始化数据库
	dal.InitDB(cfg.Database)
	db := dal.DB()
	if migrate {
		if err := dal.AutoMigrate(db); err != nil {
			logger.Fatal().Err(err).Msg("auto migrate failed")
		}
	}
	dao.InitDAO(db)

	catalog, err := instrument.Load(cfg.Engine.InstrumentsFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("load instruments failed")
	}
	logger.Info().Int("instruments", len(catalog.Symbols())).Msg("instrument catalog loaded")
	reloader := instrument.NewReloader(catalog, cfg.Engine.InstrumentsFile, cfg.Engine.InstrumentsReload, cfg.Engine.InstrumentsGrace)
	reloader.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pm := portfolio.NewManager(db, portfolio.ConfigFrom(cfg.Risk))
	if _, err = pm.Ensure(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ensure portfolio state failed")
	}

	// NATS 可选，未配置时结果只推送给 ws 订阅者
	var publisher *nats.Publisher
	if cfg.NATS.Endpoint != "" {
		publisher, err = nats.NewPublisher(cfg.NATS.Endpoint, "live_engine-"+cfg.Engine.InstanceID)
		if err != nil {
			logger.Fatal().Err(err).Msg("init nats publisher failed")
		}
	}

	backend, err := openBackend(ctx, cfg, publisher)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Coordination.Backend).Msg("open coordination backend failed")
	}
	coord := coordination.NewClient(backend, cfg.Coordination.OpTimeout)

	// 恢复完成前拒绝信号
	recoverer := recovery.New(pm)
	if _, err = recoverer.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("crash recovery failed, signals will be refused")
	}

	signals := dao.NewSignalDAO(db)
	deduper := dedup.New(
		cache.NewRecencyCache(cfg.Coordination.ClaimTTL, recencyCacheSize),
		coord,
		signals,
		cfg.Engine.InstanceID,
		cfg.Coordination.ClaimTTL,
	)
	if _, err = deduper.Warm(ctx, cfg.Coordination.ClaimTTL); err != nil {
		logger.Warn().Err(err).Msg("warm recency cache failed")
	}

	elector := leader.NewElector(coord, dao.NewLeadershipDAO(db), cfg.Engine.InstanceID, cfg.Coordination.LeaseTTL)
	electorGroup := goplus.NewWaitGroup()
	electorGroup.Go(func() { elector.Run(ctx) })

	heartbeat := leader.NewHeartbeat(dao.NewInstanceDAO(db), elector, cfg.Scheduler.HeartbeatInterval)
	heartbeat.Start()

	var alerts scheduler.AlertPublisher
	if publisher != nil {
		alerts = publisher
	}
	sched := scheduler.New(elector)
	scheduler.NewTasks(db, catalog, alerts, cfg.Scheduler).Register(sched)
	sched.Start()

	hub := ws.NewHub()
	proc, err := processor.New(
		signal.NewValidator(catalog, cfg.Engine.FreshnessWindow, cfg.Engine.FingerprintBucket),
		deduper,
		pm,
		execution.NewExecutor(newBroker(cfg.Execution), execution.ConfigFrom(cfg.Execution)),
		catalog,
		signals,
		processor.Options{
			InstanceID:       cfg.Engine.InstanceID,
			Workers:          cfg.Engine.Workers,
			Sizing:           sizing.ConfigFrom(cfg.Risk, cfg.Pyramid),
			Pyramid:          pyramid.ConfigFrom(cfg.Pyramid),
			MomentumLookback: cfg.Pyramid.MomentumLookback,
			Persist:          retry.Policy{Attempts: cfg.Execution.PersistRetries, Backoff: retry.DefaultBackoff()},
		},
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("init processor failed")
	}
	proc.SetReadiness(recoverer)
	proc.AddSink(hub)
	if publisher != nil {
		proc.AddSink(publisher)
	}

	deps := server.Deps{
		DB:           db,
		Processor:    proc,
		Recovery:     recoverer,
		Leader:       elector,
		Coordination: coord,
		Stream:       hub,
	}
	if publisher != nil {
		deps.Publisher = publisher
	}
	httpServer := server.New(cfg.Engine.HTTPAddr, deps)
	if err = httpServer.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start http server failed")
	}

	logger.Info().
		Str("http_addr", cfg.Engine.HTTPAddr).
		Str("coordination", cfg.Coordination.Backend).
		Str("broker", cfg.Execution.Broker).
		Bool("ready", recoverer.Ready()).
		Msg("live_engine started successfully")

	// 优雅关闭
	stopped := make(chan struct{})
	sigproc.GracefulShutdown(cfg.Engine.ShutdownTimeout, func(sig os.Signal) {
		logger.Info().Str("signal", sig.String()).Msg("shutting down...")

		// 先停入口，再等在途信号执行完
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("stop http server failed")
		}
		proc.Stop(cfg.Engine.ShutdownTimeout / 2)

		var g errgroup.Group
		g.Go(func() error {
			sched.Stop()
			return nil
		})
		g.Go(func() error {
			heartbeat.Stop()
			return nil
		})
		g.Go(func() error {
			hub.Close()
			return nil
		})
		g.Go(func() error {
			reloader.Stop()
			return nil
		})
		_ = g.Wait()

		// 主动让出 leader
		cancel()
		electorGroup.Wait()

		config.Stop()
		closeAll(backend, publisher, db)

		logger.Info().Msg("live_engine stopped")
		close(stopped)
	})

	<-stopped
}

func initLogger(cfg *config.Config) error {
	return logger.NewBuilder().
		SetMaxSize(cfg.Logger.MaxSize).
		SetMaxBackups(cfg.Logger.MaxBackups).
		SetMaxAge(cfg.Logger.MaxAge).
		SetLevel(cfg.Logger.Level).
		SetInstance(cfg.Engine.InstanceID).
		EnableCompression(cfg.Logger.Compress).
		EnableConsoleOutput(cfg.Logger.Console).
		Build()
}

func startProfiler(cfg *config.Config) (*pyroscope.Profiler, error) {
	return pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.Profiling.AppName,
		ServerAddress:   cfg.Profiling.ServerAddress,
		Tags: map[string]string{
			"instance": cfg.Engine.InstanceID,
		},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
	})
}

// openBackend 按配置选择协调存储，nats 后端复用发布器连接
func openBackend(ctx context.Context, cfg *config.Config, publisher *nats.Publisher) (coordination.Backend, error) {
	c := cfg.Coordination
	switch c.Backend {
	case "nats":
		if publisher == nil {
			logger.Warn().Msg("nats endpoint not configured, fall back to memory coordination")
			return coordination.NewMemoryBackend(c.Retention), nil
		}
		return coordination.NewNATSBackend(ctx, publisher.Conn, c.Bucket, c.Retention)
	case "badger":
		return coordination.OpenBadger(c.BadgerPath, c.Retention)
	default:
		return coordination.NewMemoryBackend(c.Retention), nil
	}
}

func newBroker(c config.Execution) execution.Broker {
	if c.Broker == "rest" {
		return execution.NewRestBroker(c.GatewayURL, c.APIKey, c.RequestTimeout)
	}
	logger.Warn().Msg("using paper broker, orders are simulated")
	return execution.NewPaperBroker()
}

func closeAll(backend coordination.Backend, publisher *nats.Publisher, db *gorm.DB) {
	if err := backend.Close(); err != nil {
		logger.Warn().Err(err).Msg("close coordination backend failed")
	}
	if publisher != nil {
		_ = publisher.Close()
	}
	dal.CloseDB(db)
}
