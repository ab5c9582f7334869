package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront/internal/auth"
	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/store/memstore"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type testServer struct {
	router *gin.Engine
	store  *memstore.Store
	tokens *auth.TokenManager
}

func newTestServer(t *testing.T, ready Pinger) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := memstore.New()
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	if ready == nil {
		ready = st
	}

	h := NewHandler(
		service.NewOrderService(st, nil, nil, time.Second),
		service.NewProductService(st, nil, nil),
		service.NewUserService(st, tokens),
		tokens,
		ready,
	)
	router := gin.New()
	h.SetupRoutes(router)
	return &testServer{router: router, store: st, tokens: tokens}
}

func (s *testServer) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) token(t *testing.T, userID int64) string {
	t.Helper()
	tok, err := s.tokens.Issue(userID)
	require.NoError(t, err)
	return tok
}

func (s *testServer) seedProduct(t *testing.T, price string, stock int) int64 {
	t.Helper()
	p := &models.Product{Name: "item", Price: decimal.RequireFromString(price), Stock: stock}
	require.NoError(t, s.store.CreateProduct(context.Background(), p))
	return p.ID
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t, nil)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil, "").Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/ready", nil, "").Code)

	down := newTestServer(t, stubPinger{err: errors.New("connection refused")})
	assert.Equal(t, http.StatusServiceUnavailable, down.do(t, http.MethodGet, "/ready", nil, "").Code)
}

func TestPlaceOrderEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.seedProduct(t, "10.0", 3)

	w := s.do(t, http.MethodPost, "/api/v1/orders", gin.H{
		"items": []gin.H{{"product_id": id, "quantity": 2}},
	}, s.token(t, 1))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "order placed", body["message"])
	assert.EqualValues(t, 1, body["order_id"])
	assert.Equal(t, "20", body["total_price"])

	w = s.do(t, http.MethodGet, "/api/v1/orders/items", nil, s.token(t, 1))
	require.Equal(t, http.StatusOK, w.Code)
	items := decode(t, w)["items"].([]any)
	assert.Len(t, items, 1)
}

func TestPlaceOrderEndpoint_Failures(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.seedProduct(t, "5.00", 5)
	tok := s.token(t, 1)

	tests := []struct {
		name   string
		body   any
		token  string
		status int
	}{
		{"no token", gin.H{"items": []gin.H{{"product_id": id, "quantity": 1}}}, "", http.StatusUnauthorized},
		{"bad token", gin.H{"items": []gin.H{{"product_id": id, "quantity": 1}}}, "nope", http.StatusUnauthorized},
		{"empty items", gin.H{"items": []gin.H{}}, tok, http.StatusBadRequest},
		{"zero quantity", gin.H{"items": []gin.H{{"product_id": id, "quantity": 0}}}, tok, http.StatusBadRequest},
		{"insufficient stock", gin.H{"items": []gin.H{{"product_id": id, "quantity": 10}}}, tok, http.StatusBadRequest},
		{"unknown product", gin.H{"items": []gin.H{{"product_id": 404, "quantity": 1}}}, tok, http.StatusNotFound},
		{"malformed body", "not-an-object", tok, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/v1/orders", tt.body, tt.token)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.NotEmpty(t, decode(t, w)["error"])
		})
	}

	assert.Equal(t, 0, s.store.CountOrders())
	p, err := s.store.GetProductByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock)
}

func TestListOrderItems_NoOrders(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodGet, "/api/v1/orders/items", nil, s.token(t, 9))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProductEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/api/v1/products", gin.H{"name": "Desk", "price": "120.50", "stock": 2}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.EqualValues(t, 1, decode(t, w)["product_id"])

	w = s.do(t, http.MethodPost, "/api/v1/products", gin.H{"name": "Free", "price": 0, "stock": 2}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for i := 0; i < 12; i++ {
		s.seedProduct(t, "1.00", 1)
	}

	w = s.do(t, http.MethodGet, "/api/v1/products", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["products"], service.DefaultPageLimit)

	w = s.do(t, http.MethodGet, "/api/v1/products?page=2&limit=5", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["products"], 5)

	for _, q := range []string{"page=0", "limit=101", "limit=abc"} {
		w = s.do(t, http.MethodGet, "/api/v1/products?"+q, nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}

	w = s.do(t, http.MethodGet, "/api/v1/products/1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Desk", decode(t, w)["name"])

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/products/999", nil, "").Code)
}

func TestUserEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	reg := gin.H{"name": "Ana", "email": "ana@example.com", "password": "hunter22"}
	w := s.do(t, http.MethodPost, "/api/v1/users/register", reg, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	userID := int64(decode(t, w)["user_id"].(float64))

	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/api/v1/users/register", reg, "").Code)
	assert.Equal(t, http.StatusBadRequest,
		s.do(t, http.MethodPost, "/api/v1/users/register", gin.H{"name": "x", "email": "bad", "password": "hunter22"}, "").Code)

	w = s.do(t, http.MethodPost, "/api/v1/users/login", gin.H{"email": "ana@example.com", "password": "hunter22"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	token := decode(t, w)["token"].(string)
	assert.NotEmpty(t, token)

	assert.Equal(t, http.StatusUnauthorized,
		s.do(t, http.MethodPost, "/api/v1/users/login", gin.H{"email": "ana@example.com", "password": "wrong-one"}, "").Code)

	path := fmt.Sprintf("/api/v1/users/%d", userID)
	w = s.do(t, http.MethodGet, path, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ana@example.com", decode(t, w)["email"])
	_, leaked := decode(t, w)["password_hash"]
	assert.False(t, leaked)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPut, path, gin.H{"name": "Eve"}, s.token(t, userID+1)).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPut, path, gin.H{"name": "Ana B"}, token).Code)

	w = s.do(t, http.MethodGet, path, nil, "")
	assert.Equal(t, "Ana B", decode(t, w)["name"])

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodDelete, path, nil, "").Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, path, nil, token).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, path, nil, "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, path, nil, token).Code)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/users/abc", nil, "").Code)
}
