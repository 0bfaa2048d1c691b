package execution

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// PaperBroker 内存模拟券商，按 ClientOrderID 幂等
type PaperBroker struct {
	mu       sync.Mutex
	orders   map[string]*OrderStatus
	byClient map[string]string
	places   atomic.Int64

	// OnPlace 自定义成交结果，为空时按请求价格全部成交
	OnPlace func(req OrderRequest) (OrderStatus, error)
	// OnCancel 自定义撤单结果
	OnCancel func(orderID string) error
	// OnStatus 查询前修改订单状态，用于模拟延迟成交
	OnStatus func(st *OrderStatus)
}

func NewPaperBroker() *PaperBroker {
	return &PaperBroker{
		orders:   make(map[string]*OrderStatus),
		byClient: make(map[string]string),
	}
}

func (p *PaperBroker) Name() string {
	return "paper"
}

// Calls Place 调用次数
func (p *PaperBroker) Calls() int64 {
	return p.places.Load()
}

func (p *PaperBroker) Place(ctx context.Context, req OrderRequest) (string, error) {
	p.places.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok := p.byClient[req.ClientOrderID]; ok {
		return id, nil
	}

	st := OrderStatus{State: StateFilled, FilledLots: req.Lots, AvgPrice: req.Price}
	if p.OnPlace != nil {
		var err error
		st, err = p.OnPlace(req)
		if err != nil {
			return "", err
		}
	}
	st.OrderID = uuid.NewString()
	if st.State == StateRejected {
		p.orders[st.OrderID] = &st
		return "", errors.Wrapf(ErrOrderRejected, "paper: %s", st.Reason)
	}

	p.orders[st.OrderID] = &st
	p.byClient[req.ClientOrderID] = st.OrderID
	return st.OrderID, nil
}

func (p *PaperBroker) Status(ctx context.Context, orderID string) (OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.orders[orderID]
	if !ok {
		return OrderStatus{}, ErrOrderNotFound
	}
	if p.OnStatus != nil {
		p.OnStatus(st)
	}
	return *st, nil
}

func (p *PaperBroker) Cancel(ctx context.Context, orderID string) error {
	if p.OnCancel != nil {
		if err := p.OnCancel(orderID); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.orders[orderID]; !ok {
		return ErrOrderNotFound
	}
	return nil
}
