package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/sales-core/internal/domain/auth"
	"github.com/xenking/sales-core/pkg/httpmiddleware"
)

func (h *Handler) authenticate(c *gin.Context) {
	ctx := c.Request.Context()
	key, err := h.auth.Authenticate(ctx, c.GetHeader(httpmiddleware.APIKeyHeader))
	if err != nil {
		if !errors.Is(err, auth.ErrUnauthorized) {
			zctx.From(ctx).Error("Authenticate", zap.Error(err))
		}
		abort(c, errUnauthorized)
		return
	}
	ctx = zctx.With(ctx, zap.Int64("store_id", key.StoreID), zap.Int64("api_key_id", key.ID))
	c.Request = c.Request.WithContext(auth.WithKey(ctx, key))
	c.Next()
}

func requireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := auth.KeyFrom(c.Request.Context())
		if !ok || !key.Allows(scope) {
			abort(c, errForbidden)
			return
		}
		c.Next()
	}
}

// storeID returns the store the authenticated key belongs to.
func storeID(c *gin.Context) int64 {
	key, _ := auth.KeyFrom(c.Request.Context())
	return key.StoreID
}
