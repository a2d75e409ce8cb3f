// Package handler exposes the order service over a JSON HTTP API built on
// gin.
package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xenking/sales-core/internal/domain/auth"
	"github.com/xenking/sales-core/internal/domain/order"
)

// Handler serves the /api routes.
type Handler struct {
	orders *order.Service
	auth   *auth.Authenticator
}

// New creates a Handler.
func New(orders *order.Service, authn *auth.Authenticator) *Handler {
	return &Handler{orders: orders, auth: authn}
}

// Engine returns a gin engine with all API routes mounted under /api.
// Panic recovery, request IDs and logging are left to the net/http
// middleware chain in front of it.
func (h *Handler) Engine() *gin.Engine {
	e := gin.New()
	e.HandleMethodNotAllowed = true
	e.NoRoute(func(c *gin.Context) {
		abort(c, errNoRoute)
	})
	h.Register(e.Group("/api"))
	return e
}

// Register mounts the API routes on r.
func (h *Handler) Register(r *gin.RouterGroup) {
	r.Use(h.authenticate)

	read := r.Group("", requireScope(auth.ScopeOrdersRead))
	read.GET("/orders/:id", h.getOrder)

	write := r.Group("", requireScope(auth.ScopeOrdersWrite))
	write.POST("/orders", h.placeOrder)
	write.POST("/orders/:id/items", h.addItem)
	write.PATCH("/order-items/:id", h.updateItem)
	write.DELETE("/order-items/:id", h.removeItem)
	write.POST("/orders/:id/status", h.setStatus)
	write.POST("/orders/:id/cod-paid", h.markPaid)
	write.POST("/orders/:id/recompute", h.recompute)

	r.POST("/coupons/validate", requireScope(auth.ScopeCoupons), h.validateCoupon)
}
