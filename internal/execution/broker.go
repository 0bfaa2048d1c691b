package execution

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-live-engine/internal/models"
)

var (
	// ErrOrderRejected 券商拒单，不重试
	ErrOrderRejected = errors.New("order rejected")
	// ErrManualIntervention 重试用尽或撤单失败，需要人工处理
	ErrManualIntervention = errors.New("manual intervention required")
	// ErrNotFilled 超时撤单后无任何成交
	ErrNotFilled = errors.New("order not filled")
	// ErrOrderNotFound 订单不存在
	ErrOrderNotFound = errors.New("order not found")
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// SideFor 开仓方向对应的买卖方向，平仓时取反
func SideFor(direction string, closing bool) Side {
	buy := direction != models.DirectionShort
	if closing {
		buy = !buy
	}
	if buy {
		return SideBuy
	}
	return SideSell
}

type OrderState string

const (
	StateFilled   OrderState = "FILLED"
	StatePartial  OrderState = "PARTIAL"
	StateRejected OrderState = "REJECTED"
	StatePending  OrderState = "PENDING"
)

// OrderRequest ClientOrderID 由信号指纹生成，重复下单在券商侧幂等
type OrderRequest struct {
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Lots          int64           `json:"lots"`
	Price         decimal.Decimal `json:"price"`
}

type OrderStatus struct {
	OrderID    string          `json:"order_id"`
	State      OrderState      `json:"state"`
	FilledLots int64           `json:"filled_lots"`
	AvgPrice   decimal.Decimal `json:"avg_price"`
	Reason     string          `json:"reason,omitempty"`
}

// Broker 券商下单接口
type Broker interface {
	Name() string
	Place(ctx context.Context, req OrderRequest) (string, error)
	Status(ctx context.Context, orderID string) (OrderStatus, error)
	Cancel(ctx context.Context, orderID string) error
}

// ClientOrderID 由指纹生成客户端订单号
func ClientOrderID(fingerprint string) string {
	if len(fingerprint) > 32 {
		fingerprint = fingerprint[:32]
	}
	return "le-" + fingerprint
}
