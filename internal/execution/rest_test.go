package execution

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu     sync.Mutex
	orders map[string]OrderStatus
	apiKey string
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.apiKey = r.Header.Get("X-API-Key")

	id := strings.TrimPrefix(r.URL.Path, "/orders/")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/orders":
		var req OrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if req.Lots > 10 {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":"rejected","reason":"lot limit"}`))
			return
		}
		orderID := "gw-" + req.ClientOrderID
		g.orders[orderID] = OrderStatus{OrderID: orderID, State: StateFilled, FilledLots: req.Lots, AvgPrice: req.Price}
		_, _ = w.Write([]byte(`{"order_id":"` + orderID + `","state":"PENDING"}`))
	case r.Method == http.MethodGet:
		st, ok := g.orders[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	case r.Method == http.MethodDelete:
		if _, ok := g.orders[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func TestRestBroker_PlaceStatusCancel(t *testing.T) {
	gw := &fakeGateway{orders: make(map[string]OrderStatus)}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	ctx := context.Background()
	broker := NewRestBroker(srv.URL+"/", "secret", 0)

	id, err := broker.Place(ctx, testRequest())
	require.NoError(t, err)
	assert.Equal(t, "gw-"+testRequest().ClientOrderID, id)
	assert.Equal(t, "secret", gw.apiKey)

	st, err := broker.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateFilled, st.State)
	assert.Equal(t, int64(2), st.FilledLots)
	assert.True(t, st.AvgPrice.Equal(testRequest().Price))

	require.NoError(t, broker.Cancel(ctx, id))
	assert.ErrorIs(t, broker.Cancel(ctx, "missing"), ErrOrderNotFound)

	_, err = broker.Status(ctx, "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestRestBroker_Rejected(t *testing.T) {
	gw := &fakeGateway{orders: make(map[string]OrderStatus)}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	req := testRequest()
	req.Lots = 50
	_, err := NewRestBroker(srv.URL, "", 0).Place(context.Background(), req)
	assert.ErrorIs(t, err, ErrOrderRejected)
	assert.Contains(t, err.Error(), "lot limit")
}

func TestRestBroker_WithExecutor(t *testing.T) {
	gw := &fakeGateway{orders: make(map[string]OrderStatus)}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	fill, err := NewExecutor(NewRestBroker(srv.URL, "", 0), testConfig()).Execute(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, StateFilled, fill.State)
	assert.Equal(t, int64(2), fill.Lots)
}

func TestRestBroker_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream"}`))
	}))
	defer srv.Close()

	_, err := NewRestBroker(srv.URL, "", 0).Place(context.Background(), testRequest())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrOrderRejected)
	assert.Contains(t, err.Error(), "502")
}
