package leader

import (
	"context"
	"os"
	"time"

	"github.com/utrading/utrading-live-engine/internal/dao"
	"github.com/utrading/utrading-live-engine/internal/models"
	"github.com/utrading/utrading-live-engine/pkg/logger"
)

// Heartbeat 定时写入 instance_metadata
type Heartbeat struct {
	instances *dao.InstanceDAO
	elector   *Elector
	hostname  string
	startedAt time.Time
	interval  time.Duration
	done      chan struct{}
}

func NewHeartbeat(instances *dao.InstanceDAO, elector *Elector, interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	hostname, _ := os.Hostname()
	return &Heartbeat{
		instances: instances,
		elector:   elector,
		hostname:  hostname,
		startedAt: time.Now(),
		interval:  interval,
		done:      make(chan struct{}),
	}
}

// Start 启动心跳
func (h *Heartbeat) Start() {
	go func() {
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		h.beat()
		for {
			select {
			case <-ticker.C:
				h.beat()
			case <-h.done:
				return
			}
		}
	}()
}

// Stop 停止心跳
func (h *Heartbeat) Stop() {
	close(h.done)
}

func (h *Heartbeat) beat() {
	ctx, cancel := context.WithTimeout(context.Background(), h.interval)
	defer cancel()
	if err := h.Beat(ctx); err != nil {
		logger.Warn().Err(err).Msg("instance heartbeat failed")
	}
}

// Beat 写入一次心跳
func (h *Heartbeat) Beat(ctx context.Context) error {
	return h.instances.Heartbeat(ctx, &models.InstanceMetadata{
		InstanceID: h.elector.InstanceID(),
		Role:       h.elector.Role(),
		Hostname:   h.hostname,
		StartedAt:  h.startedAt,
		LastSeenAt: time.Now(),
	})
}
