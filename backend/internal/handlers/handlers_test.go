package handlers

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/papertrade/backend/internal/auth"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/logger"
	"github.com/user/papertrade/backend/internal/middleware"
	"github.com/user/papertrade/backend/internal/quotes"
	"github.com/user/papertrade/backend/internal/trading"
)

type testServer struct {
	app  *fiber.App
	sim  *quotes.Simulator
	logs *logger.Ring
}

func newTestServer(t *testing.T, limiter *middleware.Limiter) *testServer {
	t.Helper()
	store := ledger.NewMemoryStore(decimal.NewFromInt(100000))
	sim := quotes.NewSimulator(nil)
	provider := quotes.NewClient(sim, time.Second, 4)
	tokens, err := auth.NewManager("handler-test-secret", time.Hour)
	require.NoError(t, err)
	ring := logger.NewRing(50)

	h := New(Deps{
		Engine:    trading.NewEngine(store, provider),
		Portfolio: trading.NewPortfolio(store, provider),
		Users:     store,
		Tokens:    tokens,
		Quotes:    provider,
		Logs:      ring,
		Limiter:   limiter,
		Admins:    []string{"ROOT"},
	})
	return &testServer{app: NewApp(h), sim: sim, logs: ring}
}

func (s *testServer) price(symbol, p string) {
	s.sim.Set(symbol, decimal.RequireFromString(p))
}

func (s *testServer) call(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (s *testServer) signup(t *testing.T, username string) string {
	t.Helper()
	status, body := s.call(t, http.MethodPost, "/api/auth/signup", "", Credentials{Username: username, Password: "password123"})
	require.Equal(t, http.StatusCreated, status, body)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	status, body := s.call(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestSignupAndLogin(t *testing.T) {
	s := newTestServer(t, nil)
	s.signup(t, "alice")

	status, body := s.call(t, http.MethodPost, "/api/auth/signup", "", Credentials{Username: "ALICE", Password: "password123"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", body["error"])

	status, body = s.call(t, http.MethodPost, "/api/auth/signup", "", Credentials{Username: "bob", Password: "short"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", body["error"])

	status, _ = s.call(t, http.MethodPost, "/api/auth/login", "", Credentials{Username: "alice", Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.call(t, http.MethodPost, "/api/auth/login", "", Credentials{Username: "nobody", Password: "password123"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = s.call(t, http.MethodPost, "/api/auth/login", "", Credentials{Username: "alice", Password: "password123"})
	require.Equal(t, http.StatusOK, status)
	token := body["token"].(string)

	status, body = s.call(t, http.MethodGet, "/api/me", token, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alice", body["username"])
	assert.Equal(t, "user", body["role"])
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t, nil)
	status, body := s.call(t, http.MethodGet, "/api/trade/balance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", body["error"])
	assert.NotEmpty(t, body["message"])
}

func TestMarketOrderFlow(t *testing.T) {
	s := newTestServer(t, nil)
	token := s.signup(t, "trader")
	s.price("AAPL", "50")

	status, body := s.call(t, http.MethodGet, "/api/trade/balance", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "100000", body["cash_balance"])

	status, body = s.call(t, http.MethodPost, "/api/trade/order", token, map[string]any{
		"symbol": "aapl", "side": "buy", "order_type": "market", "quantity": "10",
	})
	require.Equal(t, http.StatusCreated, status, body)
	fill := body["fill"].(map[string]any)
	assert.Equal(t, "500", fill["total_amount"])
	assert.Equal(t, "99500", fill["cash_balance"])

	status, body = s.call(t, http.MethodGet, "/api/trade/balance", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "99500", body["cash_balance"])

	s.price("AAPL", "55")
	status, body = s.call(t, http.MethodGet, "/api/trade/portfolio", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "550", body["total_value"])
	assert.Equal(t, "50", body["total_pnl"])

	status, body = s.call(t, http.MethodGet, "/api/trade/summary", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["total_orders"])

	status, body = s.call(t, http.MethodPost, "/api/trade/order", token, map[string]any{
		"symbol": "AAPL", "side": "buy", "quantity": "100000",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "insufficient_funds", body["error"])

	status, body = s.call(t, http.MethodPost, "/api/trade/order", token, map[string]any{
		"symbol": "NOPE", "side": "buy", "quantity": "1",
	})
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "price_unavailable", body["error"])

	status, body = s.call(t, http.MethodPost, "/api/trade/reset", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "100000", body["cash_balance"])
}

func TestLimitOrderLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.signup(t, "alice")
	bob := s.signup(t, "bob")

	status, body := s.call(t, http.MethodPost, "/api/trade/order", alice, map[string]any{
		"symbol": "MSFT", "side": "buy", "order_type": "limit", "quantity": "2", "limit_price": "300",
	})
	require.Equal(t, http.StatusCreated, status, body)
	order := body["order"].(map[string]any)
	assert.Equal(t, "pending", order["status"])
	assert.Nil(t, body["fill"])
	id := order["id"].(string)

	status, body = s.call(t, http.MethodGet, "/api/book/msft", "", nil)
	require.Equal(t, http.StatusOK, status)
	bids := body["bids"].([]any)
	require.Len(t, bids, 1)
	assert.Equal(t, "300", bids[0].(map[string]any)["price"])

	status, body = s.call(t, http.MethodGet, "/api/trade/orders/"+id, bob, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "not_owner", body["error"])

	status, _ = s.call(t, http.MethodDelete, "/api/trade/order/"+id, bob, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = s.call(t, http.MethodDelete, "/api/trade/order/"+id, alice, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "cancelled", body["status"])

	status, body = s.call(t, http.MethodDelete, "/api/trade/order/"+id, alice, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_state", body["error"])

	status, _ = s.call(t, http.MethodGet, "/api/trade/orders/not-a-uuid", alice, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = s.call(t, http.MethodGet, "/api/trade/orders?status=cancelled&limit=10", alice, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["count"])

	status, _ = s.call(t, http.MethodGet, "/api/trade/orders?limit=ten", alice, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestOrderValidationErrors(t *testing.T) {
	s := newTestServer(t, nil)
	token := s.signup(t, "val")

	cases := []map[string]any{
		{"symbol": "AAPL", "side": "hold", "quantity": "1"},
		{"symbol": "AAPL", "side": "buy", "quantity": "-1"},
		{"symbol": "AAPL", "side": "buy", "order_type": "limit", "quantity": "1"},
		{"symbol": "AAPL", "side": "buy", "order_type": "market", "quantity": "1", "limit_price": "10"},
	}
	for _, c := range cases {
		status, body := s.call(t, http.MethodPost, "/api/trade/order", token, c)
		assert.Equal(t, http.StatusBadRequest, status, c)
		assert.Equal(t, "validation_error", body["error"], c)
	}
}

func TestQuoteLookup(t *testing.T) {
	s := newTestServer(t, nil)
	s.price("TSLA", "175.5")

	status, body := s.call(t, http.MethodGet, "/api/quotes/tsla", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "TSLA", body["symbol"])
	assert.Equal(t, "175.5", body["price"])

	status, body = s.call(t, http.MethodGet, "/api/quotes/ZZZZ", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "price_unavailable", body["error"])
}

func TestAdminLogsRequireAdminRole(t *testing.T) {
	s := newTestServer(t, nil)
	user := s.signup(t, "plain")
	admin := s.signup(t, "root")

	_, _ = s.logs.Write([]byte("WARN: quote feed lagging\n"))
	_, _ = s.logs.Write([]byte("order placed\n"))

	status, body := s.call(t, http.MethodGet, "/api/admin/logs", user, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", body["error"])

	status, body = s.call(t, http.MethodGet, "/api/admin/logs?level=warn", admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["count"])

	status, _ = s.call(t, http.MethodGet, "/api/admin/logs?limit=0", admin, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestOrderRateLimit(t *testing.T) {
	s := newTestServer(t, middleware.NewLimiter(0.001, 1))
	token := s.signup(t, "spammer")
	s.price("AAPL", "1")

	order := map[string]any{"symbol": "AAPL", "side": "buy", "quantity": "1"}
	status, _ := s.call(t, http.MethodPost, "/api/trade/order", token, order)
	assert.Equal(t, http.StatusCreated, status)

	status, body := s.call(t, http.MethodPost, "/api/trade/order", token, order)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate_limited", body["error"])

	// Reads are not throttled.
	status, _ = s.call(t, http.MethodGet, "/api/trade/balance", token, nil)
	assert.Equal(t, http.StatusOK, status)
}
