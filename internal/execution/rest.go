package execution

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// RestBroker 通过 HTTP 网关下单
//
//	POST   /orders       下单
//	GET    /orders/{id}  查询
//	DELETE /orders/{id}  撤单
type RestBroker struct {
	client *resty.Client
}

type placeResponse struct {
	OrderID string `json:"order_id"`
	State   string `json:"state"`
	Reason  string `json:"reason"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func NewRestBroker(baseURL, apiKey string, timeout time.Duration) *RestBroker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetHeader("X-API-Key", apiKey)
	}
	return &RestBroker{client: client}
}

func (b *RestBroker) Name() string {
	return "rest"
}

func (b *RestBroker) Place(ctx context.Context, req OrderRequest) (string, error) {
	var out placeResponse
	var failure errorResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&failure).
		Post("/orders")
	if err != nil {
		return "", errors.Wrap(err, "place order")
	}

	switch {
	case resp.StatusCode() == http.StatusUnprocessableEntity || OrderState(out.State) == StateRejected:
		reason := out.Reason
		if reason == "" {
			reason = failure.reason()
		}
		return "", errors.Wrapf(ErrOrderRejected, "gateway: %s", reason)
	case resp.IsError():
		return "", errors.Errorf("place order: http %d %s", resp.StatusCode(), failure.reason())
	case out.OrderID == "":
		return "", errors.New("place order: empty order id")
	}
	return out.OrderID, nil
}

func (b *RestBroker) Status(ctx context.Context, orderID string) (OrderStatus, error) {
	var out OrderStatus
	var failure errorResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetPathParam("id", orderID).
		SetResult(&out).
		SetError(&failure).
		Get("/orders/{id}")
	if err != nil {
		return OrderStatus{}, errors.Wrap(err, "order status")
	}
	if resp.StatusCode() == http.StatusNotFound {
		return OrderStatus{}, ErrOrderNotFound
	}
	if resp.IsError() {
		return OrderStatus{}, errors.Errorf("order status: http %d %s", resp.StatusCode(), failure.reason())
	}
	if out.OrderID == "" {
		out.OrderID = orderID
	}
	return out, nil
}

func (b *RestBroker) Cancel(ctx context.Context, orderID string) error {
	var failure errorResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetPathParam("id", orderID).
		SetError(&failure).
		Delete("/orders/{id}")
	if err != nil {
		return errors.Wrap(err, "cancel order")
	}
	if resp.StatusCode() == http.StatusNotFound {
		return ErrOrderNotFound
	}
	if resp.IsError() {
		return errors.Errorf("cancel order: http %d %s", resp.StatusCode(), failure.reason())
	}
	return nil
}

func (e errorResponse) reason() string {
	if e.Reason != "" {
		return e.Reason
	}
	return e.Error
}
