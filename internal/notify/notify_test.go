package notify

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/sales-core/internal/domain/order"
)

type fakeStream struct {
	added []*redis.XAddArgs
	err   error
}

func (f *fakeStream) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	f.added = append(f.added, a)
	return redis.NewStringResult("1700000000000-0", nil)
}

func sampleEvent() order.Event {
	return order.Event{
		Type:    order.EventStatusChanged,
		OrderID: 42,
		StoreID: 7,
		Status:  order.StatusDelivered,
		Note:    "left at door",
		Total:   decimal.RequireFromString("38"),
		At:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestStream_Notify(t *testing.T) {
	rdb := &fakeStream{}
	s := NewStream(rdb, "orders.events", 1000)

	require.NoError(t, s.Notify(context.Background(), sampleEvent()))
	require.Len(t, rdb.added, 1)

	args := rdb.added[0]
	assert.Equal(t, "orders.events", args.Stream)
	assert.Equal(t, int64(1000), args.MaxLen)
	assert.True(t, args.Approx)
	assert.Equal(t, map[string]any{
		"type":     "order.status_changed",
		"order_id": "42",
		"store_id": "7",
		"status":   "delivered",
		"note":     "left at door",
		"total":    "38.00",
		"at":       "2026-03-01T10:00:00Z",
	}, args.Values)
}

func TestStream_NoTrim(t *testing.T) {
	rdb := &fakeStream{}
	require.NoError(t, NewStream(rdb, "s", 0).Notify(context.Background(), sampleEvent()))
	assert.Zero(t, rdb.added[0].MaxLen)
	assert.False(t, rdb.added[0].Approx)
}

func TestStream_Error(t *testing.T) {
	s := NewStream(&fakeStream{err: errors.New("READONLY")}, "s", 0)
	err := s.Notify(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xadd s")
}

func TestLog_Notify(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ctx := zctx.Base(context.Background(), zap.New(core))

	require.NoError(t, Log{}.Notify(ctx, sampleEvent()))

	entries := logs.FilterMessage("Order event").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "order.status_changed", fields["event"])
	assert.Equal(t, int64(42), fields["order_id"])
}

func TestFanout(t *testing.T) {
	ok := &fakeStream{}
	broken := &fakeStream{err: errors.New("down")}
	f := Fanout{NewStream(broken, "a", 0), NewStream(ok, "b", 0), Log{}}

	err := f.Notify(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Len(t, ok.added, 1, "a failing notifier does not stop the others")
}
