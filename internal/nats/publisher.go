package nats

import (
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/utrading/utrading-live-engine/internal/monitor"
	"github.com/utrading/utrading-live-engine/pkg/logger"
)

// Publisher NATS 发布器，连接同时供 JetStream KV 协调存储使用
type Publisher struct {
	*nats.Conn
	mu     sync.RWMutex
	closed bool
}

// NewPublisher 创建 NATS 发布器
func NewPublisher(url, name string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			monitor.SetNATSConnected(false)
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			monitor.SetNATSConnected(true)
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}

	p := &Publisher{
		Conn: conn,
	}

	// 更新指标
	monitor.SetNATSConnected(true)

	return p, nil
}

// PublishOutcome 发布信号处理结果
func (p *Publisher) PublishOutcome(o *SignalOutcome) error {
	data, err := o.Marshal()
	if err != nil {
		return err
	}
	return p.Publish(TopicSignalOutcome, data)
}

// PublishRollover 发布换月提醒
func (p *Publisher) PublishRollover(a *RolloverAlert) error {
	data, err := a.Marshal()
	if err != nil {
		logger.Error().Err(err).Msg("marshal rollover alert failed")
		return err
	}
	return p.Publish(TopicRolloverAlert, data)
}

// IsConnected 检查发布器是否已连接
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed && p.Conn != nil && p.Conn.IsConnected()
}

// Close 关闭连接
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	// 更新指标
	monitor.SetNATSConnected(false)

	if p.Conn != nil {
		p.Conn.Close()
	}
	return nil
}
