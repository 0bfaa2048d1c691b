package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/utrading/utrading-live-engine/internal/dao"
	"github.com/utrading/utrading-live-engine/internal/processor"
	"github.com/utrading/utrading-live-engine/internal/recovery"
	"github.com/utrading/utrading-live-engine/pkg/goplus"
	"github.com/utrading/utrading-live-engine/pkg/logger"
)

// SignalSubmitter 信号入口
type SignalSubmitter interface {
	Submit(ctx context.Context, raw []byte) processor.Ack
	Running() int
}

// RecoveryRef 崩溃恢复状态
type RecoveryRef interface {
	Ready() bool
	Last() *recovery.Report
}

// LeaderRef 选主状态
type LeaderRef interface {
	InstanceID() string
	Role() string
}

// Pinger 协调存储连通性
type Pinger interface {
	Ping(ctx context.Context) error
}

// PublisherRef NATS 发布器引用
type PublisherRef interface {
	IsConnected() bool
}

// StreamRef 结果推送
type StreamRef interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
	Len() int64
}

type Deps struct {
	DB           *gorm.DB
	Processor    SignalSubmitter
	Recovery     RecoveryRef
	Leader       LeaderRef
	Coordination Pinger
	Publisher    PublisherRef // 未启用 NATS 时为 nil
	Stream       StreamRef
}

// Server 信号入口、只读查询、健康检查和指标
type Server struct {
	addr      string
	deps      Deps
	positions *dao.PositionDAO
	signals   *dao.SignalDAO
	portfolio *dao.PortfolioDAO
	server    *http.Server
	startTime time.Time
}

func New(addr string, deps Deps) *Server {
	return &Server{
		addr:      addr,
		deps:      deps,
		positions: dao.NewPositionDAO(deps.DB),
		signals:   dao.NewSignalDAO(deps.DB),
		portfolio: dao.NewPortfolioDAO(deps.DB),
		startTime: time.Now(),
	}
}

// Router 路由
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), accessLog())

	r.GET("/health", s.handleHealth)
	r.GET("/health/live", s.handleLive)
	r.GET("/health/ready", s.handleReady)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if s.deps.Stream != nil {
		r.GET("/ws/outcomes", gin.WrapF(s.deps.Stream.ServeWS))
	}

	api := r.Group("/api/v1")
	api.POST("/signals", s.handleSubmitSignal)
	api.GET("/signals", s.handleListSignals)
	api.GET("/positions", s.handleListPositions)
	api.GET("/status", s.handleStatus)

	return r
}

// Start 启动 HTTP 服务
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
	}

	logger.Info().Str("addr", s.addr).Msg("http server starting")
	goplus.Go(func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
		}
	})
	return nil
}

// Stop 停止服务
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		// 探针和指标请求不记录
		switch c.FullPath() {
		case "/health/live", "/health/ready", "/metrics":
			return
		}
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	}
}
