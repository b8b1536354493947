package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/enercoop/gridmatch/internal/engine"
	"github.com/enercoop/gridmatch/internal/ledger"
	"github.com/enercoop/gridmatch/internal/market"
	"github.com/enercoop/gridmatch/internal/repository"
	"github.com/enercoop/gridmatch/internal/settlement"
	"github.com/enercoop/gridmatch/internal/trigger"
)

type apiFixture struct {
	server   *Server
	sourceID uuid.UUID
	memberID uuid.UUID
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	sourceID := uuid.New()
	repo := repository.NewMemoryRepository()
	proc := settlement.NewProcessor(zap.NewNop(), repo, ledger.NewMemoryLedger(), settlement.DefaultConfig())
	eng := engine.New(zap.NewNop(), repo, repository.NewStaticSourceResolver(sourceID),
		trigger.NewMonitor(zap.NewNop()), proc, nil, market.RealClock{}, engine.DefaultConfig())
	t.Cleanup(eng.Stop)

	registry := prometheus.NewRegistry()
	server := NewServer(zap.NewNop(), eng, proc, registry, ":0")
	return &apiFixture{server: server, sourceID: sourceID, memberID: uuid.New()}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) orderBody(side, qty, price string) map[string]any {
	return map[string]any{
		"member_id":        f.memberID.String(),
		"energy_source_id": f.sourceID.String(),
		"side":             side,
		"quantity":         qty,
		"limit_price":      price,
	}
}

func (f *apiFixture) submit(t *testing.T, side, qty, price string) uuid.UUID {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/orders", f.orderBody(side, qty, price))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		OrderID uuid.UUID `json:"order_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.OrderID
}

func TestSubmitAndStatusRoundTrip(t *testing.T) {
	f := newAPIFixture(t)

	sellID := f.submit(t, market.OrderSideSell, "50", "0.10")
	buyID := f.submit(t, market.OrderSideBuy, "50", "0.12")

	rec := f.do(t, http.MethodGet, "/api/v1/orders/"+buyID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap market.OrderStatusSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, market.OrderStatusFilled, snap.Status)
	require.Len(t, snap.Matches, 1)
	assert.Equal(t, sellID, snap.Matches[0].SellOrderID)
	assert.Equal(t, "0.1", snap.Matches[0].Price.String())
}

func TestSubmitRejectionReturns422(t *testing.T) {
	f := newAPIFixture(t)

	body := f.orderBody(market.OrderSideBuy, "-5", "0.10")
	rec := f.do(t, http.MethodPost, "/api/v1/orders", body)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp struct {
		Reason string `json:"reason"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, market.RejectReasonQuantity, resp.Reason)
	assert.Equal(t, market.OrderStatusRejected, resp.Status)
}

func TestSubmitValidatesPayload(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/orders", map[string]any{"side": "BUY"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := f.orderBody(market.OrderSideBuy, "abc", "0.10")
	rec = f.do(t, http.MethodPost, "/api/v1/orders", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelOrderEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	id := f.submit(t, market.OrderSideSell, "50", "0.10")

	rec := f.do(t, http.MethodDelete, "/api/v1/orders/"+id.String(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/orders/"+id.String(), nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "cancelling a terminal order conflicts")

	rec = f.do(t, http.MethodDelete, "/api/v1/orders/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPriceTickEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/ticks", map[string]any{
		"energy_source_id": f.sourceID.String(),
		"price":            "0.11",
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/ticks", map[string]any{
		"energy_source_id": f.sourceID.String(),
		"price":            "-1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDepthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	f.submit(t, market.OrderSideSell, "50", "0.10")
	f.submit(t, market.OrderSideSell, "30", "0.10")

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/sources/%s/depth", f.sourceID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Bids []map[string]any `json:"bids"`
		Asks []map[string]any `json:"asks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Bids)
	require.Len(t, resp.Asks, 1, "equal-priced asks aggregate into one level")
	assert.Equal(t, float64(2), resp.Asks[0]["orders"])
}

func TestPendingSettlementsEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	// The processor is not started, so the match stays pending.
	f.submit(t, market.OrderSideSell, "50", "0.10")
	f.submit(t, market.OrderSideBuy, "50", "0.12")

	rec := f.do(t, http.MethodGet, "/api/v1/settlements/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count   int             `json:"count"`
		Pending []*market.Match `json:"pending"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	require.Len(t, resp.Pending, 1)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
