package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/sales-core/internal/domain/coupon"
	"github.com/xenking/sales-core/internal/domain/errcode"
	"github.com/xenking/sales-core/internal/domain/order"
	"github.com/xenking/sales-core/internal/domain/stock"
	"github.com/xenking/sales-core/pkg/httpmiddleware"
)

// Transport level failures that do not come from the domain.
var (
	errUnauthorized = &httpError{status: http.StatusUnauthorized, code: "unauthorized", msg: "missing or invalid API key"}
	errForbidden    = &httpError{status: http.StatusForbidden, code: "forbidden", msg: "API key lacks the required scope"}
	errNoRoute      = &httpError{status: http.StatusNotFound, code: errcode.NotFound, msg: "route not found"}
)

type httpError struct {
	status int
	code   string
	msg    string
}

func (e *httpError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &httpError{status: http.StatusBadRequest, code: errcode.InvalidRequest, msg: msg}
}

// statusFor maps error codes to HTTP statuses.
var statusFor = map[string]int{
	errcode.InsufficientStock:   http.StatusConflict,
	errcode.InvalidOperation:    http.StatusConflict,
	errcode.ConcurrencyConflict: http.StatusConflict,
	errcode.VariantMismatch:     http.StatusUnprocessableEntity,
	errcode.InvalidStatus:       http.StatusUnprocessableEntity,
	errcode.CouponInvalid:       http.StatusUnprocessableEntity,
	errcode.NotFound:            http.StatusNotFound,
	errcode.InvalidRequest:      http.StatusBadRequest,
}

type errorResponse struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// abort renders err and stops the handler chain. Errors without a code are
// logged and reported as a generic internal error.
func abort(c *gin.Context, err error) {
	ctx := c.Request.Context()
	resp := errorResponse{RequestID: httpmiddleware.RequestIDFromContext(ctx)}

	var he *httpError
	if errors.As(err, &he) {
		resp.Code, resp.Message = he.code, he.msg
		c.AbortWithStatusJSON(he.status, resp)
		return
	}

	resp.Code = errcode.Of(err)
	status, ok := statusFor[resp.Code]
	if !ok {
		zctx.From(ctx).Error("Request failed", zap.String("route", c.FullPath()), zap.Error(err))
		resp.Code = errcode.Internal
		resp.Message = "internal server error"
		c.AbortWithStatusJSON(http.StatusInternalServerError, resp)
		return
	}

	var coder errcode.Coder
	errors.As(err, &coder)
	resp.Message = coder.(error).Error()
	resp.Details = details(err)
	if resp.Code == errcode.ConcurrencyConflict {
		c.Header("Retry-After", "1")
	}
	c.AbortWithStatusJSON(status, resp)
}

// details exposes the structured fields of domain errors.
func details(err error) map[string]any {
	var (
		stockErr    *stock.InsufficientStockError
		couponErr   *coupon.InvalidError
		mismatchErr *order.VariantMismatchError
		opErr       *order.InvalidOperationError
	)
	switch {
	case errors.As(err, &stockErr):
		return map[string]any{
			"variant_id": stockErr.VariantID,
			"available":  stockErr.Available,
			"requested":  stockErr.Requested,
		}
	case errors.As(err, &couponErr):
		d := map[string]any{"reason": string(couponErr.Reason)}
		if couponErr.Reason == coupon.ReasonBelowMinimum {
			d["min_purchase"] = couponErr.MinPurchase.StringFixed(2)
		}
		return d
	case errors.As(err, &mismatchErr):
		return map[string]any{
			"variant_id": mismatchErr.VariantID,
			"product_id": mismatchErr.ProductID,
			"reason":     mismatchErr.Reason,
		}
	case errors.As(err, &opErr):
		return map[string]any{"operation": opErr.Op, "reason": opErr.Reason}
	}
	return nil
}
