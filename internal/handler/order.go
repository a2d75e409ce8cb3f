package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xenking/sales-core/internal/domain/order"
)

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		abort(c, badRequest("id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		abort(c, badRequest(err.Error()))
		return false
	}
	return true
}

func (h *Handler) placeOrder(c *gin.Context) {
	var req placeOrderRequest
	if !bind(c, &req) {
		return
	}
	lines := make([]order.Line, len(req.Items))
	for i, l := range req.Items {
		lines[i] = l.line()
	}

	o, err := h.orders.PlaceOrder(c.Request.Context(), order.PlaceOrderRequest{
		StoreID: storeID(c),
		Customer: order.Customer{
			Name:            req.Customer.Name,
			Email:           req.Customer.Email,
			Phone:           req.Customer.Phone,
			ShippingAddress: req.Customer.ShippingAddress,
		},
		PaymentMethod: order.PaymentMethod(req.PaymentMethod),
		CouponCode:    req.CouponCode,
		Notes:         req.Notes,
		Lines:         lines,
	})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, toOrder(o))
}

func (h *Handler) getOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	o, err := h.orders.GetOrder(c.Request.Context(), storeID(c), id)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrder(o))
}

func (h *Handler) addItem(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req lineRequest
	if !bind(c, &req) {
		return
	}

	res, err := h.orders.AddOrderItem(c.Request.Context(), order.AddItemRequest{
		StoreID: storeID(c),
		OrderID: id,
		Line:    req.line(),
	})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"item": toItem(*res.Item), "order": toOrder(res.Order)})
}

func (h *Handler) updateItem(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req updateItemRequest
	if !bind(c, &req) {
		return
	}

	res, err := h.orders.UpdateOrderItem(c.Request.Context(), order.UpdateItemRequest{
		StoreID:  storeID(c),
		ItemID:   id,
		Quantity: req.Quantity,
	})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": toItem(*res.Item), "order": toOrder(res.Order)})
}

func (h *Handler) removeItem(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	o, err := h.orders.RemoveOrderItem(c.Request.Context(), storeID(c), id)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": toOrder(o)})
}

func (h *Handler) setStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req setStatusRequest
	if !bind(c, &req) {
		return
	}

	u, err := h.orders.SetOrderStatus(c.Request.Context(), order.SetStatusRequest{
		StoreID: storeID(c),
		OrderID: id,
		Status:  req.Status,
		Note:    req.Note,
	})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, toStatusUpdate(*u))
}

func (h *Handler) markPaid(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	o, err := h.orders.MarkCashOnDeliveryPaid(c.Request.Context(), storeID(c), id)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrder(o))
}

func (h *Handler) recompute(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	o, err := h.orders.Recompute(c.Request.Context(), storeID(c), id)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrder(o))
}
