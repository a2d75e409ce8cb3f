//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestValidateCoupon(t *testing.T) {
	for _, tt := range []struct {
		name     string
		code     string
		subtotal string
		status   int
		discount string
		reason   string
	}{
		{"PercentageCapped", "WELCOME10", "500", http.StatusOK, "20.00", ""},
		{"Fixed", "fiveoff", "40", http.StatusOK, "5.00", ""},
		{"BelowMinimum", "FIVEOFF", "39.99", http.StatusUnprocessableEntity, "", "below_minimum"},
		{"Unknown", "NOSUCHCODE", "10", http.StatusUnprocessableEntity, "", "not_found"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			resp := doAuth(t, http.MethodPost, "/api/coupons/validate", map[string]string{
				"code": tt.code, "subtotal": tt.subtotal,
			})
			defer resp.Body.Close()
			expectStatus(t, resp, tt.status)

			if tt.status == http.StatusOK {
				q := decodeJSON[quoteResponse](t, resp)
				if q.Discount != tt.discount {
					t.Errorf("discount: got %s, want %s", q.Discount, tt.discount)
				}
				return
			}
			body := decodeJSON[errorResponse](t, resp)
			if body.Code != "coupon_invalid" || body.Details["reason"] != tt.reason {
				t.Errorf("got %s/%v, want coupon_invalid/%s", body.Code, body.Details["reason"], tt.reason)
			}
		})
	}
}
