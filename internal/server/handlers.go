package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"

	"github.com/utrading/utrading-live-engine/internal/dal"
	"github.com/utrading/utrading-live-engine/internal/processor"
)

const (
	maxSignalBody = 64 * 1024
	defaultLimit  = 50
	maxLimit      = 500
)

// handleSubmitSignal 校验和认领同步完成，执行异步进行
func (s *Server) handleSubmitSignal(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSignalBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, processor.Ack{Reason: "malformed"})
		return
	}

	ack := s.deps.Processor.Submit(c.Request.Context(), raw)
	c.JSON(ackStatus(ack), ack)
}

func ackStatus(ack processor.Ack) int {
	switch {
	case ack.Accepted:
		return http.StatusAccepted
	case ack.Reason == "duplicate":
		return http.StatusOK
	case ack.Reason == "not_ready":
		return http.StatusServiceUnavailable
	case ack.Reason == "internal":
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func limitParam(c *gin.Context) int {
	limit := cast.ToInt(c.Query("limit"))
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func (s *Server) handleListSignals(c *gin.Context) {
	list, err := s.signals.ListRecent(c.Request.Context(), limitParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": list})
}

// handleListPositions 默认返回持仓中的仓位，status=all 返回最近的全部仓位
func (s *Server) handleListPositions(c *gin.Context) {
	ctx := c.Request.Context()
	if c.Query("status") == "all" {
		list, err := s.positions.ListRecent(ctx, limitParam(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"positions": list})
		return
	}
	list, err := s.positions.ListOpen(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": list})
}

func (s *Server) handleLive(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) handleReady(c *gin.Context) {
	if s.deps.Recovery != nil && !s.deps.Recovery.Ready() {
		c.String(http.StatusServiceUnavailable, "not ready")
		return
	}
	c.String(http.StatusOK, "ok")
}

// HealthStatus 健康状态
type HealthStatus struct {
	Healthy      bool   `json:"healthy"`
	Ready        bool   `json:"ready"`
	Instance     string `json:"instance"`
	Role         string `json:"role"`
	Uptime       string `json:"uptime"`
	Database     bool   `json:"database"`
	Coordination bool   `json:"coordination"`
	NATS         *bool  `json:"nats,omitempty"`
}

func (s *Server) health(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	st := HealthStatus{
		Ready:  s.deps.Recovery == nil || s.deps.Recovery.Ready(),
		Uptime: time.Since(s.startTime).Truncate(time.Second).String(),
	}
	if s.deps.Leader != nil {
		st.Instance = s.deps.Leader.InstanceID()
		st.Role = s.deps.Leader.Role()
	}
	st.Database = dal.Ping(ctx, s.deps.DB) == nil
	if s.deps.Coordination != nil {
		st.Coordination = s.deps.Coordination.Ping(ctx) == nil
	}
	if s.deps.Publisher != nil {
		connected := s.deps.Publisher.IsConnected()
		st.NATS = &connected
	}
	// 协调存储不可用时去重降级但仍可处理信号
	st.Healthy = st.Database && st.Ready
	return st
}

func (s *Server) handleHealth(c *gin.Context) {
	st := s.health(c.Request.Context())
	code := http.StatusOK
	if !st.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, st)
}

// handleStatus 实例状态、账户、最近一次恢复报告
func (s *Server) handleStatus(c *gin.Context) {
	ctx := c.Request.Context()
	out := gin.H{"health": s.health(ctx)}

	if state, err := s.portfolio.Get(ctx); err == nil {
		out["portfolio"] = gin.H{
			"equity":                state.Equity,
			"equity_high_watermark": state.Watermark,
			"margin_used":           state.MarginUsed,
			"margin_available":      state.MarginAvailable(),
			"version":               state.Version,
		}
	}
	if open, err := s.positions.CountOpen(ctx); err == nil {
		out["open_positions"] = open
	}
	if s.deps.Processor != nil {
		out["workers_running"] = s.deps.Processor.Running()
	}
	if s.deps.Stream != nil {
		out["stream_clients"] = s.deps.Stream.Len()
	}
	if s.deps.Recovery != nil {
		if rep := s.deps.Recovery.Last(); rep != nil {
			out["recovery"] = gin.H{
				"completed":  rep.Completed,
				"duration":   rep.Duration.String(),
				"violations": rep.Violations,
			}
		}
	}
	c.JSON(http.StatusOK, out)
}
