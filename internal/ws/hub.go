package ws

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/utrading/utrading-live-engine/internal/nats"
	"github.com/utrading/utrading-live-engine/pkg/concurrent"
	"github.com/utrading/utrading-live-engine/pkg/logger"
)

// Hub 信号结果推送，看板通过 /ws/outcomes 订阅
type Hub struct {
	clients  concurrent.Map[string, *Client]
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// 只读推送，不校验来源
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logger.Component("ws"),
	}
}

// ServeWS 升级连接并阻塞到连接断开
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("ws upgrade failed")
		return
	}

	c := newClient(uuid.NewString(), conn, h.remove)
	h.clients.Store(c.ID(), c)
	h.log.Info().Str("client", c.ID()).Str("remote", r.RemoteAddr).Int64("clients", h.clients.Len()).Msg("ws client connected")

	c.run()
}

func (h *Hub) remove(id string) {
	h.clients.Delete(id)
	h.log.Info().Str("client", id).Int64("clients", h.clients.Len()).Msg("ws client disconnected")
}

// PublishOutcome 广播给所有订阅者，慢消费者会被断开
func (h *Hub) PublishOutcome(o *nats.SignalOutcome) error {
	data, err := o.Marshal()
	if err != nil {
		return err
	}
	h.broadcast(data)
	return nil
}

func (h *Hub) broadcast(data []byte) {
	h.clients.Range(func(id string, c *Client) bool {
		if err := c.enqueue(data); err != nil {
			h.log.Warn().Err(err).Str("client", id).Msg("drop ws client")
		}
		return true
	})
}

// Len 当前订阅数
func (h *Hub) Len() int64 {
	return h.clients.Len()
}

// Close 断开全部订阅
func (h *Hub) Close() {
	h.clients.Range(func(_ string, c *Client) bool {
		c.Close()
		return true
	})
}
