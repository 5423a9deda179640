package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-storefront-orders/internal/auth"
	"github.com/ariefcatur/go-storefront-orders/internal/checkout"
	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	srv    *httptest.Server
	mr     *miniredis.Miniredis
	ledger *inventory.MemoryLedger
	tokens map[string]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	sessions := &auth.SessionStore{Redis: rdb, TTL: time.Hour}

	store := orders.NewMemStore()
	ledger := inventory.NewMemoryLedger()
	_, err := ledger.Upsert(context.Background(), inventory.Record{ProductID: "p1", Name: "Kettle", Stock: 1, UnitPrice: decimal.NewFromInt(10000)})
	require.NoError(t, err)

	tokens := map[string]string{}
	for _, a := range []orders.Actor{
		{AccountID: "alice", Role: orders.RoleCustomer},
		{AccountID: "bob", Role: orders.RoleCustomer},
		{AccountID: "root", Role: orders.RoleAdmin},
	} {
		store.PutAccount(orders.Account{ID: a.AccountID, Username: a.AccountID, Role: a.Role})
		tok, err := sessions.Issue(context.Background(), a)
		require.NoError(t, err)
		tokens[a.AccountID] = tok
	}

	coord := &checkout.Coordinator{Orders: store, Ledger: ledger, Log: log, Parallelism: 2}
	router := NewRouter(log)
	Protected(router, sessions, log,
		&OrdersHandler{Orders: coord, Cache: &redisx.OrderCache{Redis: rdb}, Log: log},
		&InventoryHandler{Orders: coord},
	)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, mr: mr, ledger: ledger, tokens: tokens}
}

func (s *testServer) do(t *testing.T, who, method, path string, body any, hdr ...string) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rd)
	require.NoError(t, err)
	if who != "" {
		req.Header.Set("Authorization", "Bearer "+s.tokens[who])
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func errCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	resp, err := http.Get(s.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOrders_RequireSession(t *testing.T) {
	s := newTestServer(t)
	code, body := s.do(t, "", http.MethodGet, "/orders/user/alice", nil, "x-user-role", "1")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHENTICATED", errCode(body))
}

func TestOrders_CreateAndRead(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, "alice", http.MethodPost, "/orders", map[string]any{"product_id": "p1", "quantity": 2})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "inCart", body["status"])
	assert.Equal(t, "20000", body["total"])
	id := body["id"].(string)

	code, body = s.do(t, "alice", http.MethodGet, "/orders/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, id, body["id"])

	// served from the cache, still scoped to the owner
	code, body = s.do(t, "bob", http.MethodGet, "/orders/"+id, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", errCode(body))

	code, _ = s.do(t, "root", http.MethodGet, "/orders/"+id, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, "alice", http.MethodGet, "/orders/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestOrders_WritesEvictCachedOrder(t *testing.T) {
	s := newTestServer(t)

	_, body := s.do(t, "alice", http.MethodPost, "/orders", map[string]any{"product_id": "p1", "quantity": 1})
	id := body["id"].(string)
	key := fmt.Sprintf(redisx.KeyOrder, id)
	assert.False(t, s.mr.Exists(key), "create leaves nothing cached")

	code, _ := s.do(t, "alice", http.MethodGet, "/orders/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	require.True(t, s.mr.Exists(key), "reads fill the cache")

	code, body = s.do(t, "alice", http.MethodPatch, "/orders/"+id+"/status", map[string]any{
		"status": "pending", "shipping_address": "1 Main St",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pending", body["status"])
	assert.False(t, s.mr.Exists(key), "a write drops the cached copy")

	code, body = s.do(t, "alice", http.MethodGet, "/orders/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pending", body["status"])

	code, _ = s.do(t, "alice", http.MethodPatch, "/orders/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, s.mr.Exists(key))

	code, body = s.do(t, "alice", http.MethodGet, "/orders/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "cancelled", body["status"])
}

func TestOrders_CreateIsIdempotentPerKey(t *testing.T) {
	s := newTestServer(t)
	req := map[string]any{"product_id": "p1", "quantity": 1}

	_, first := s.do(t, "alice", http.MethodPost, "/orders", req, "Idempotency-Key", "k-1")
	_, second := s.do(t, "alice", http.MethodPost, "/orders", req, "Idempotency-Key", "k-1")
	assert.Equal(t, first["id"], second["id"])
}

func TestOrders_BadRequests(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, "alice", http.MethodPost, "/orders", map[string]any{"product_id": "p1", "quantity": 0})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", errCode(body))

	code, _ = s.do(t, "alice", http.MethodPost, "/orders", map[string]any{"product_id": "p1", "quantity": 1, "status": "shipped"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, "alice", http.MethodPost, "/orders/checkout", map[string]any{"order_ids": []string{}})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestOrders_LastUnitCheckout(t *testing.T) {
	s := newTestServer(t)

	_, a := s.do(t, "alice", http.MethodPost, "/orders", map[string]any{"product_id": "p1", "quantity": 1})
	_, b := s.do(t, "bob", http.MethodPost, "/orders", map[string]any{"product_id": "p1", "quantity": 1})

	code, body := s.do(t, "alice", http.MethodPost, "/orders/checkout", map[string]any{
		"order_ids": []string{a["id"].(string)}, "shipping_address": "1 Main St",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["succeeded"])

	code, body = s.do(t, "bob", http.MethodPost, "/orders/checkout", map[string]any{
		"order_ids": []string{b["id"].(string)}, "shipping_address": "2 Side St",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["failed"])
	results := body["results"].([]any)
	item := results[0].(map[string]any)
	assert.Equal(t, false, item["ok"])
	assert.Equal(t, "INSUFFICIENT_STOCK", errCode(item))

	code, body = s.do(t, "bob", http.MethodPatch, "/orders/"+b["id"].(string)+"/status", map[string]any{
		"status": "pending", "shipping_address": "2 Side St",
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "INSUFFICIENT_STOCK", errCode(body))
}

func TestOrders_StatusFlow(t *testing.T) {
	s := newTestServer(t)

	_, o := s.do(t, "alice", http.MethodPost, "/orders", map[string]any{
		"product_id": "p1", "quantity": 1, "status": "pending", "shipping_address": "1 Main St",
	})
	id := o["id"].(string)

	code, body := s.do(t, "alice", http.MethodPatch, "/orders/"+id+"/status", map[string]any{"status": "beingShipped"})
	assert.Equal(t, http.StatusForbidden, code)

	code, body = s.do(t, "root", http.MethodPatch, "/orders/"+id+"/status", map[string]any{"status": "beingShipped"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "beingShipped", body["status"])

	// the write refreshed the cached snapshot
	_, body = s.do(t, "alice", http.MethodGet, "/orders/"+id, nil)
	assert.Equal(t, "beingShipped", body["status"])

	code, body = s.do(t, "alice", http.MethodPatch, "/orders/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "INVALID_TRANSITION", errCode(body))

	code, body = s.do(t, "alice", http.MethodPatch, "/orders/"+id+"/status", map[string]any{"status": "delivered"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "delivered", body["status"])
}

func TestOrders_CancelRestoresStock(t *testing.T) {
	s := newTestServer(t)

	_, o := s.do(t, "alice", http.MethodPost, "/orders", map[string]any{
		"product_id": "p1", "quantity": 1, "status": "pending", "shipping_address": "1 Main St",
	})
	id := o["id"].(string)

	for i := 0; i < 2; i++ {
		code, body := s.do(t, "alice", http.MethodPatch, "/orders/"+id+"/cancel", nil)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "cancelled", body["status"])
	}

	rec, err := s.ledger.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Stock)
}

func TestOrders_Lists(t *testing.T) {
	s := newTestServer(t)
	s.do(t, "alice", http.MethodPost, "/orders", map[string]any{"product_id": "p1", "quantity": 1})

	code, _ := s.do(t, "alice", http.MethodGet, "/orders", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, "bob", http.MethodGet, "/orders/user/alice", nil)
	assert.Equal(t, http.StatusForbidden, code)

	req, err := http.NewRequest(http.MethodGet, s.srv.URL+"/orders", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+s.tokens["root"])
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var all []OrderWithOwnerResp
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&all))
	require.Len(t, all, 1)
	assert.Equal(t, "alice", all[0].Owner.Username)
	assert.Empty(t, all[0].Owner.Email)
}

func TestInventory_AdminOnlyWrites(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(t, "alice", http.MethodPost, "/inventory/p1/receive", map[string]any{"quantity": 5})
	assert.Equal(t, http.StatusForbidden, code)

	code, body := s.do(t, "root", http.MethodPost, "/inventory/p1/receive", map[string]any{"quantity": 5})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(6), body["stock"])

	code, _ = s.do(t, "root", http.MethodPost, "/inventory/p1/receive", map[string]any{"quantity": -1})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = s.do(t, "root", http.MethodPut, "/inventory/p2", map[string]any{"name": "Mug", "unit_price": "2500", "stock": 3})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "2500", body["unit_price"])

	code, _ = s.do(t, "alice", http.MethodPut, "/inventory/p3", map[string]any{"name": "x", "unit_price": "1", "stock": 1})
	assert.Equal(t, http.StatusForbidden, code)

	code, body = s.do(t, "alice", http.MethodGet, "/inventory/p2", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(3), body["stock"])

	code, _ = s.do(t, "alice", http.MethodGet, "/inventory/zzz", nil)
	assert.Equal(t, http.StatusNotFound, code)
}
