package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xenking/sales-core/internal/domain/order"
)

func (h *Handler) validateCoupon(c *gin.Context) {
	var req validateCouponRequest
	if !bind(c, &req) {
		return
	}
	q, err := h.orders.ValidateCoupon(c.Request.Context(), order.ValidateCouponRequest{
		Code:     req.Code,
		Subtotal: req.Subtotal,
	})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, toQuote(q))
}
