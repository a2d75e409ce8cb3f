//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
)

func TestPlaceOrder_NoAuth(t *testing.T) {
	resp := do(t, http.MethodPost, "/api/orders", orderRequest{
		Items: []lineRequest{{VariantID: variantTeeS, Quantity: 1}},
	}, "")
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusUnauthorized)
}

func TestPlaceOrder_InvalidKey(t *testing.T) {
	resp := do(t, http.MethodPost, "/api/orders", orderRequest{
		Items: []lineRequest{{VariantID: variantTeeS, Quantity: 1}},
	}, "wrong-key")
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusUnauthorized)
}

func TestPlaceOrder_EmptyItems(t *testing.T) {
	resp := doAuth(t, http.MethodPost, "/api/orders", orderRequest{
		Customer:      map[string]string{"name": "Integration"},
		PaymentMethod: "online",
		Items:         []lineRequest{},
	})
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestPlaceOrder_UnknownVariant(t *testing.T) {
	resp := doAuth(t, http.MethodPost, "/api/orders", orderRequest{
		Customer:      map[string]string{"name": "Integration"},
		PaymentMethod: "online",
		Items:         []lineRequest{{VariantID: 9999, Quantity: 1}},
	})
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusUnprocessableEntity)

	if body := decodeJSON[errorResponse](t, resp); body.Code != "variant_mismatch" {
		t.Errorf("code: got %q, want variant_mismatch", body.Code)
	}
}

func TestPlaceOrder_ProductWithVariantsNeedsVariant(t *testing.T) {
	resp := doAuth(t, http.MethodPost, "/api/orders", orderRequest{
		Customer:      map[string]string{"name": "Integration"},
		PaymentMethod: "online",
		Items:         []lineRequest{{ProductID: productHoodie, Quantity: 1}},
	})
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusUnprocessableEntity)

	body := decodeJSON[errorResponse](t, resp)
	if body.Details["reason"] != "variant_required" {
		t.Errorf("reason: got %v, want variant_required", body.Details["reason"])
	}
}

func TestPlaceOrder_WithCoupon(t *testing.T) {
	// 2 x 19.99 + 12.50 = 52.48, 10% off = 5.248 -> 5.25
	o := placeOrder(t, orderRequest{
		CouponCode: "welcome10",
		Items: []lineRequest{
			{VariantID: variantTeeM, Quantity: 2},
			{ProductID: productTote, Quantity: 1},
		},
	})

	if o.Status != "pending" {
		t.Errorf("status: got %q, want pending", o.Status)
	}
	if o.Discount != "5.25" || o.Total != "47.23" {
		t.Errorf("discount/total: got %s/%s, want 5.25/47.23", o.Discount, o.Total)
	}
	if len(o.Items) != 2 {
		t.Fatalf("items: got %d, want 2", len(o.Items))
	}
	if len(o.History) != 1 || o.History[0].Note != "Order created." || !o.History[0].Automatic {
		t.Errorf("history: got %+v", o.History)
	}
}

func TestOrderLifecycle(t *testing.T) {
	o := placeOrder(t, orderRequest{
		PaymentMethod: "cod",
		Items:         []lineRequest{{VariantID: variantTeeS, Quantity: 1}},
	})

	// Add a hoodie line.
	resp := doAuth(t, http.MethodPost, fmt.Sprintf("/api/orders/%d/items", o.ID), lineRequest{
		VariantID: variantHoodieM, Quantity: 1,
	})
	expectStatus(t, resp, http.StatusCreated)
	added := decodeJSON[itemChangeResponse](t, resp)
	resp.Body.Close()
	if added.Order.Total != "73.99" {
		t.Errorf("total after add: got %s, want 73.99", added.Order.Total)
	}

	// Grow it beyond the remaining stock: rejected, nothing changes.
	itemPath := fmt.Sprintf("/api/order-items/%d", added.Item.ID)
	resp = doAuth(t, http.MethodPatch, itemPath, map[string]int{"quantity": 100})
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = doAuth(t, http.MethodPatch, itemPath, map[string]int{"quantity": 2})
	expectStatus(t, resp, http.StatusOK)
	updated := decodeJSON[itemChangeResponse](t, resp)
	resp.Body.Close()
	if updated.Order.Total != "127.99" {
		t.Errorf("total after update: got %s, want 127.99", updated.Order.Total)
	}

	resp = doAuth(t, http.MethodDelete, itemPath, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = doAuth(t, http.MethodPost, fmt.Sprintf("/api/orders/%d/status", o.ID), map[string]string{
		"status": "delivered", "note": "Signed by customer",
	})
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = doAuth(t, http.MethodPost, fmt.Sprintf("/api/orders/%d/cod-paid", o.ID), nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = doAuth(t, http.MethodGet, fmt.Sprintf("/api/orders/%d", o.ID), nil)
	expectStatus(t, resp, http.StatusOK)
	got := decodeJSON[orderResponse](t, resp)
	resp.Body.Close()

	if got.Total != "19.99" || len(got.Items) != 1 {
		t.Errorf("final order: total %s with %d items", got.Total, len(got.Items))
	}
	if got.PaymentStatus != "paid" || got.PaidAt == nil {
		t.Errorf("payment: %s at %v", got.PaymentStatus, got.PaidAt)
	}
	if len(got.History) != 2 || got.History[1].Status != "delivered" || got.History[1].Automatic {
		t.Errorf("history: %+v", got.History)
	}
}

func TestMarkPaid_OnlineOrderRejected(t *testing.T) {
	o := placeOrder(t, orderRequest{Items: []lineRequest{{VariantID: variantTeeS, Quantity: 1}}})

	resp := doAuth(t, http.MethodPost, fmt.Sprintf("/api/orders/%d/cod-paid", o.ID), nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusConflict)
}

func TestSetStatus_Invalid(t *testing.T) {
	o := placeOrder(t, orderRequest{Items: []lineRequest{{VariantID: variantTeeS, Quantity: 1}}})

	resp := doAuth(t, http.MethodPost, fmt.Sprintf("/api/orders/%d/status", o.ID), map[string]string{"status": "lost"})
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusUnprocessableEntity)
}

// Concurrent orders for the last units of a variant never oversell.
func TestPlaceOrder_ConcurrentNoOversell(t *testing.T) {
	const workers = 12

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[int]int{}
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := request(context.Background(), http.MethodPost, "/api/orders", orderRequest{
				Customer:      map[string]string{"name": "Racer"},
				PaymentMethod: "online",
				Items:         []lineRequest{{VariantID: variantPrintLtd, Quantity: 1}},
			}, testAPIKey)
			if err != nil {
				t.Errorf("place order: %v", err)
				return
			}
			resp.Body.Close()
			mu.Lock()
			statuses[resp.StatusCode]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if statuses[http.StatusCreated] != printLtdStock {
		t.Fatalf("created: got %d, want %d (all statuses %v)", statuses[http.StatusCreated], printLtdStock, statuses)
	}
	if statuses[http.StatusConflict] != workers-printLtdStock {
		t.Fatalf("conflicts: got %d, want %d (all statuses %v)", statuses[http.StatusConflict], workers-printLtdStock, statuses)
	}
}
