// Package notify delivers committed order events to downstream consumers.
package notify

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xenking/sales-core/internal/domain/order"
)

// streamAdder is the subset of redis.Cmdable used by Stream.
type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Stream appends order events to a Redis stream. The stream is trimmed
// approximately to MaxLen entries when MaxLen is positive.
type Stream struct {
	rdb    streamAdder
	name   string
	maxLen int64
}

// NewStream creates a Stream notifier writing to the named stream.
func NewStream(rdb streamAdder, name string, maxLen int64) *Stream {
	return &Stream{rdb: rdb, name: name, maxLen: maxLen}
}

// Notify implements order.Notifier.
func (s *Stream) Notify(ctx context.Context, e order.Event) error {
	args := &redis.XAddArgs{
		Stream: s.name,
		Values: Fields(e),
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.rdb.XAdd(ctx, args).Err(); err != nil {
		return errors.Wrapf(err, "xadd %s", s.name)
	}
	return nil
}

// Fields flattens e into stream entry fields.
func Fields(e order.Event) map[string]any {
	f := map[string]any{
		"type":     string(e.Type),
		"order_id": strconv.FormatInt(e.OrderID, 10),
		"store_id": strconv.FormatInt(e.StoreID, 10),
		"status":   string(e.Status),
		"total":    e.Total.StringFixed(2),
		"at":       e.At.UTC().Format(time.RFC3339Nano),
	}
	if e.Note != "" {
		f["note"] = e.Note
	}
	return f
}

// Log writes order events to the context logger.
type Log struct{}

// Notify implements order.Notifier.
func (Log) Notify(ctx context.Context, e order.Event) error {
	zctx.From(ctx).Info("Order event",
		zap.String("event", string(e.Type)),
		zap.Int64("order_id", e.OrderID),
		zap.Int64("store_id", e.StoreID),
		zap.String("status", string(e.Status)),
		zap.Stringer("total", e.Total),
	)
	return nil
}

// Fanout delivers every event to all notifiers and combines their errors.
type Fanout []order.Notifier

// Notify implements order.Notifier.
func (f Fanout) Notify(ctx context.Context, e order.Event) error {
	var err error
	for _, n := range f {
		err = multierr.Append(err, n.Notify(ctx, e))
	}
	return err
}
