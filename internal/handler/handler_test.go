package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/sales-core/internal/domain/auth"
	"github.com/xenking/sales-core/internal/domain/catalog"
	"github.com/xenking/sales-core/internal/domain/coupon"
	"github.com/xenking/sales-core/internal/domain/errcode"
	"github.com/xenking/sales-core/internal/domain/order"
	"github.com/xenking/sales-core/internal/storage/memory"
	"github.com/xenking/sales-core/pkg/httpmiddleware"
)

var pepper = []byte("test-pepper")

const (
	writerKey = "sk_writer"
	readerKey = "sk_reader"
	otherKey  = "sk_other_store"
)

type fakeKeys map[string]*auth.APIKey

func (f fakeKeys) FindByHash(_ context.Context, hash string) (*auth.APIKey, error) {
	if k, ok := f[hash]; ok {
		return k, nil
	}
	return nil, auth.ErrNotFound
}

func (f fakeKeys) add(id int64, key string, store int64, scopes ...string) {
	hash := auth.HashKey(pepper, key)
	f[hash] = &auth.APIKey{ID: id, KeyHash: hash, Name: key, StoreID: store, Scopes: scopes}
}

func testKeys() fakeKeys {
	keys := fakeKeys{}
	keys.add(1, writerKey, 1, auth.ScopeOrdersRead, auth.ScopeOrdersWrite, auth.ScopeCoupons)
	keys.add(2, readerKey, 1, auth.ScopeOrdersRead)
	keys.add(3, otherKey, 2, auth.ScopeOrdersRead, auth.ScopeOrdersWrite)
	return keys
}

func newEngine(t *testing.T, tx order.Transactor) *gin.Engine {
	t.Helper()
	svc, err := order.NewService(tx)
	require.NoError(t, err)
	return New(svc, auth.NewAuthenticator(testKeys(), pepper)).Engine()
}

// conflictingTx fails the next n transactions the way the PostgreSQL
// transactor reports a lock timeout.
type conflictingTx struct {
	tx order.Transactor
	n  int
}

func (c *conflictingTx) InTx(ctx context.Context, fn func(ctx context.Context, uow order.UnitOfWork) error) error {
	if c.n > 0 {
		c.n--
		return errors.Wrapf(errcode.ErrConcurrencyConflict, "%s (%s)", "canceling statement due to lock timeout", "55P03")
	}
	return c.tx.InTx(ctx, fn)
}

type testAPI struct {
	t       *testing.T
	store   *memory.Store
	engine  *gin.Engine
	variant catalog.Variant
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.New()
	p := store.SeedProduct(catalog.Product{StoreID: 1, Name: "Hoodie", HasVariants: true, Active: true})
	v := store.SeedVariant(catalog.Variant{
		ProductID: p.ID,
		SKU:       "HOODIE-M",
		Price:     decimal.RequireFromString("25.00"),
		Stock:     5,
		Active:    true,
	})
	now := time.Now()
	store.SeedCoupon(coupon.Coupon{
		Code:        "SAVE10",
		Kind:        coupon.KindPercentage,
		Value:       decimal.NewFromInt(10),
		MinPurchase: decimal.NewFromInt(30),
		ValidFrom:   now.Add(-time.Hour),
		ValidUntil:  now.Add(time.Hour),
		Active:      true,
	})

	return &testAPI{
		t:       t,
		store:   store,
		engine:  newEngine(t, store),
		variant: v,
	}
}

func (a *testAPI) do(method, path, key string, body any) (*httptest.ResponseRecorder, map[string]any) {
	a.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(httpmiddleware.APIKeyHeader, key)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func (a *testAPI) placeOrder(qty int, extra map[string]any) (*httptest.ResponseRecorder, map[string]any) {
	body := map[string]any{
		"customer":       map[string]any{"name": "Ada", "email": "ada@example.com"},
		"payment_method": "cod",
		"items":          []map[string]any{{"variant_id": a.variant.ID, "quantity": qty}},
	}
	for k, v := range extra {
		body[k] = v
	}
	return a.do(http.MethodPost, "/api/orders", writerKey, body)
}

func orderPath(o map[string]any, suffix string) string {
	return fmt.Sprintf("/api/orders/%d%s", int64(o["id"].(float64)), suffix)
}

func TestAuth(t *testing.T) {
	api := newTestAPI(t)

	w, body := api.do(http.MethodGet, "/api/orders/1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", body["code"])

	w, _ = api.do(http.MethodGet, "/api/orders/1", "sk_unknown", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body = api.do(http.MethodPost, "/api/orders", readerKey, map[string]any{})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", body["code"])

	w, _ = api.do(http.MethodPost, "/api/coupons/validate", readerKey, map[string]any{"code": "SAVE10"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPlaceOrder(t *testing.T) {
	api := newTestAPI(t)

	w, o := api.placeOrder(2, map[string]any{"coupon_code": "save10"})
	require.Equal(t, http.StatusCreated, w.Code, o)

	assert.Equal(t, "pending", o["status"])
	assert.Equal(t, "cod", o["payment_method"])
	assert.Equal(t, "pending", o["payment_status"])
	assert.Equal(t, "SAVE10", o["coupon_code"])
	assert.Equal(t, "5.00", o["discount"])
	assert.Equal(t, "45.00", o["total"])

	items := o["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "25.00", item["unit_price"])
	assert.Equal(t, "50.00", item["subtotal"])

	history := o["history"].([]any)
	require.Len(t, history, 1)
	assert.Equal(t, "Order created.", history[0].(map[string]any)["note"])

	assert.Equal(t, 3, api.store.Stock(api.variant.ID))

	w, got := api.do(http.MethodGet, orderPath(o, ""), readerKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, o["total"], got["total"])
}

func TestPlaceOrder_Errors(t *testing.T) {
	api := newTestAPI(t)

	t.Run("InsufficientStock", func(t *testing.T) {
		w, body := api.placeOrder(6, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "insufficient_stock", body["code"])
		details := body["details"].(map[string]any)
		assert.Equal(t, float64(5), details["available"])
		assert.Equal(t, float64(6), details["requested"])
		assert.Equal(t, 5, api.store.Stock(api.variant.ID))
	})
	t.Run("CouponBelowMinimum", func(t *testing.T) {
		w, body := api.placeOrder(1, map[string]any{"coupon_code": "SAVE10"})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, "coupon_invalid", body["code"])
		details := body["details"].(map[string]any)
		assert.Equal(t, "below_minimum", details["reason"])
		assert.Equal(t, "30.00", details["min_purchase"])
	})
	t.Run("UnknownVariant", func(t *testing.T) {
		w, body := api.do(http.MethodPost, "/api/orders", writerKey, map[string]any{
			"customer":       map[string]any{"name": "Ada"},
			"payment_method": "online",
			"items":          []map[string]any{{"variant_id": 9999, "quantity": 1}},
		})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, "variant_mismatch", body["code"])
	})
	t.Run("Validation", func(t *testing.T) {
		w, body := api.do(http.MethodPost, "/api/orders", writerKey, map[string]any{
			"customer":       map[string]any{"name": "Ada"},
			"payment_method": "barter",
			"items":          []map[string]any{{"variant_id": api.variant.ID, "quantity": 1}},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_request", body["code"])
	})
	t.Run("QuantityOutOfRange", func(t *testing.T) {
		for _, items := range [][]map[string]any{
			{{"variant_id": api.variant.ID, "quantity": 2147483648}},
			{{"variant_id": api.variant.ID, "quantity": -1}},
			{
				{"variant_id": api.variant.ID, "quantity": 2147483647},
				{"variant_id": api.variant.ID, "quantity": 1},
			},
		} {
			w, body := api.do(http.MethodPost, "/api/orders", writerKey, map[string]any{
				"customer":       map[string]any{"name": "Ada"},
				"payment_method": "online",
				"items":          items,
			})
			assert.Equal(t, http.StatusBadRequest, w.Code, body)
			assert.Equal(t, "invalid_request", body["code"])
		}
		assert.Equal(t, 5, api.store.Stock(api.variant.ID))
	})
	t.Run("OtherStore", func(t *testing.T) {
		w, body := api.do(http.MethodPost, "/api/orders", otherKey, map[string]any{
			"customer":       map[string]any{"name": "Eve"},
			"payment_method": "online",
			"items":          []map[string]any{{"variant_id": api.variant.ID, "quantity": 1}},
		})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, "wrong_store", body["details"].(map[string]any)["reason"])
	})
}

func TestItems(t *testing.T) {
	api := newTestAPI(t)
	_, o := api.placeOrder(1, nil)

	w, res := api.do(http.MethodPost, orderPath(o, "/items"), writerKey, map[string]any{
		"variant_id": api.variant.ID, "quantity": 2,
	})
	require.Equal(t, http.StatusCreated, w.Code, res)
	assert.Equal(t, "75.00", res["order"].(map[string]any)["total"])
	itemID := int64(res["item"].(map[string]any)["id"].(float64))
	itemPath := fmt.Sprintf("/api/order-items/%d", itemID)
	assert.Equal(t, 2, api.store.Stock(api.variant.ID))

	w, res = api.do(http.MethodPatch, itemPath, writerKey, map[string]any{"quantity": 5})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "insufficient_stock", res["code"])

	w, res = api.do(http.MethodPatch, itemPath, writerKey, map[string]any{"quantity": 1})
	require.Equal(t, http.StatusOK, w.Code, res)
	assert.Equal(t, "50.00", res["order"].(map[string]any)["total"])
	assert.Equal(t, 3, api.store.Stock(api.variant.ID))

	w, res = api.do(http.MethodDelete, itemPath, otherKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, res)

	w, res = api.do(http.MethodDelete, itemPath, writerKey, nil)
	require.Equal(t, http.StatusOK, w.Code, res)
	assert.Equal(t, "25.00", res["order"].(map[string]any)["total"])
	assert.Equal(t, 4, api.store.Stock(api.variant.ID))

	w, res = api.do(http.MethodPatch, "/api/order-items/abc", writerKey, map[string]any{"quantity": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", res["code"])
}

func TestStatusAndPayment(t *testing.T) {
	api := newTestAPI(t)
	_, o := api.placeOrder(1, nil)

	w, res := api.do(http.MethodPost, orderPath(o, "/status"), writerKey, map[string]any{"status": "teleported"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "invalid_status", res["code"])

	w, res = api.do(http.MethodPost, orderPath(o, "/status"), writerKey, map[string]any{
		"status": "out_for_delivery", "note": "Courier picked up",
	})
	require.Equal(t, http.StatusCreated, w.Code, res)
	assert.Equal(t, "out_for_delivery", res["status"])
	assert.Equal(t, false, res["automatic"])

	w, res = api.do(http.MethodPost, orderPath(o, "/cod-paid"), writerKey, nil)
	require.Equal(t, http.StatusOK, w.Code, res)
	assert.Equal(t, "paid", res["payment_status"])
	assert.NotEmpty(t, res["paid_at"])

	w, res = api.do(http.MethodGet, orderPath(o, ""), readerKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "out_for_delivery", res["status"])
	assert.Len(t, res["history"], 2)

	w, res = api.do(http.MethodGet, orderPath(o, ""), otherKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", res["code"])
}

func TestMarkPaid_OnlineOrder(t *testing.T) {
	api := newTestAPI(t)
	_, o := api.placeOrder(1, map[string]any{"payment_method": "online"})

	w, res := api.do(http.MethodPost, orderPath(o, "/cod-paid"), writerKey, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_operation", res["code"])
}

func TestRecompute(t *testing.T) {
	api := newTestAPI(t)
	_, o := api.placeOrder(2, map[string]any{"coupon_code": "SAVE10"})

	w, res := api.do(http.MethodPost, orderPath(o, "/recompute"), writerKey, nil)
	require.Equal(t, http.StatusOK, w.Code, res)
	assert.Equal(t, "5.00", res["discount"])
	assert.Equal(t, "45.00", res["total"])

	w, _ = api.do(http.MethodPost, orderPath(o, "/recompute"), readerKey, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestConcurrencyConflict(t *testing.T) {
	api := newTestAPI(t)
	_, o := api.placeOrder(1, nil)

	api.engine = newEngine(t, &conflictingTx{tx: api.store, n: 1})

	w, res := api.do(http.MethodPost, orderPath(o, "/status"), writerKey, map[string]any{"status": "processing"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, "concurrency_conflict", res["code"])

	w, res = api.do(http.MethodPost, orderPath(o, "/status"), writerKey, map[string]any{"status": "processing"})
	require.Equal(t, http.StatusCreated, w.Code, res)
	assert.Empty(t, w.Header().Get("Retry-After"))
}

func TestValidateCoupon(t *testing.T) {
	api := newTestAPI(t)

	w, res := api.do(http.MethodPost, "/api/coupons/validate", writerKey, map[string]any{
		"code": "save10", "subtotal": "80",
	})
	require.Equal(t, http.StatusOK, w.Code, res)
	assert.Equal(t, "SAVE10", res["code"])
	assert.Equal(t, "8.00", res["discount"])
	assert.Equal(t, "72.00", res["final_total"])

	w, res = api.do(http.MethodPost, "/api/coupons/validate", writerKey, map[string]any{
		"code": "NOPE", "subtotal": 80,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "not_found", res["details"].(map[string]any)["reason"])
}

func TestNoRoute(t *testing.T) {
	api := newTestAPI(t)
	w, res := api.do(http.MethodGet, "/api/nothing-here", writerKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", res["code"])
}
