package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/sales-core/internal/domain/coupon"
	"github.com/xenking/sales-core/internal/domain/errcode"
	"github.com/xenking/sales-core/internal/domain/stock"
)

// EventType names a committed order change.
type EventType string

const (
	EventOrderPlaced     EventType = "order.placed"
	EventStatusChanged   EventType = "order.status_changed"
	EventPaymentReceived EventType = "order.payment_received"
)

// Event describes a committed order change for downstream consumers.
type Event struct {
	Type    EventType
	OrderID int64
	StoreID int64
	Status  Status
	Note    string
	Total   decimal.Decimal
	At      time.Time
}

// Notifier publishes order events. It is called after the transaction that
// produced the event has committed; failures are logged and never undo the
// change.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) error { return nil }

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the notifier that receives order events.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTracerProvider sets the tracer provider used for operation spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider used for order metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// Service exposes the order operations. Every operation runs in a single
// transaction obtained from the Transactor.
type Service struct {
	tx       Transactor
	notifier Notifier
	now      func() time.Time

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	tracer         trace.Tracer

	placed    metric.Int64Counter
	rejected  metric.Int64Counter
	redeemed  metric.Int64Counter
	conflicts metric.Int64Counter
}

// NewService creates an order Service on top of tx.
func NewService(tx Transactor, opts ...Option) (*Service, error) {
	s := &Service{
		tx:             tx,
		notifier:       nopNotifier{},
		now:            time.Now,
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
	}
	for _, o := range opts {
		o(s)
	}

	const name = "github.com/xenking/sales-core/internal/domain/order"
	s.tracer = s.tracerProvider.Tracer(name)
	meter := s.meterProvider.Meter(name)

	var err error
	if s.placed, err = meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders placed successfully"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.placed")
	}
	if s.rejected, err = meter.Int64Counter("stock.reservations.rejected",
		metric.WithDescription("Operations rejected for insufficient stock"),
	); err != nil {
		return nil, errors.Wrap(err, "stock.reservations.rejected")
	}
	if s.redeemed, err = meter.Int64Counter("coupons.redeemed",
		metric.WithDescription("Coupon uses consumed by placed orders"),
	); err != nil {
		return nil, errors.Wrap(err, "coupons.redeemed")
	}
	if s.conflicts, err = meter.Int64Counter("tx.conflicts",
		metric.WithDescription("Transactions aborted by lock timeouts or deadlocks"),
	); err != nil {
		return nil, errors.Wrap(err, "tx.conflicts")
	}
	return s, nil
}

func (s *Service) inTx(ctx context.Context, op string, fn func(ctx context.Context, uow UnitOfWork) error) error {
	ctx, span := s.tracer.Start(ctx, "order."+op)
	defer span.End()

	err := s.tx.InTx(ctx, fn)
	if err == nil {
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	attrs := metric.WithAttributes(attribute.String("op", op))
	switch errcode.Of(err) {
	case errcode.ConcurrencyConflict:
		s.conflicts.Add(ctx, 1, attrs)
	case errcode.InsufficientStock:
		s.rejected.Add(ctx, 1, attrs)
		zctx.From(ctx).Debug("Stock reservation rejected", zap.String("op", op), zap.Error(err))
	}
	return err
}

func (s *Service) notify(ctx context.Context, e Event) {
	if err := s.notifier.Notify(ctx, e); err != nil {
		zctx.From(ctx).Warn("Order notification failed",
			zap.String("event", string(e.Type)),
			zap.Int64("order_id", e.OrderID),
			zap.Error(err),
		)
	}
}

func lockOrder(ctx context.Context, uow UnitOfWork, storeID, orderID int64) (*Order, error) {
	o, err := uow.Orders().GetForUpdate(ctx, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "lock order %d", orderID)
	}
	if o.StoreID != storeID {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

func (s *Service) appendStatus(ctx context.Context, uow UnitOfWork, o *Order, st Status, note string, automatic bool) (*StatusUpdate, error) {
	u := &StatusUpdate{
		OrderID:   o.ID,
		Status:    st,
		Note:      note,
		Automatic: automatic,
		CreatedAt: s.now(),
	}
	if err := uow.Orders().AppendStatus(ctx, u); err != nil {
		return nil, errors.Wrap(err, "append status")
	}
	o.History = append(o.History, *u)
	return u, nil
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	StoreID       int64
	Customer      Customer
	PaymentMethod PaymentMethod
	CouponCode    string
	Notes         string
	Lines         []Line
}

// PlaceOrder creates an order from lines. Stock for every line is reserved
// in ascending variant order and the coupon, if any, is redeemed in the same
// transaction. The call is all-or-nothing.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	if len(req.Lines) == 0 {
		return nil, ErrEmptyItems
	}
	for _, l := range req.Lines {
		if err := validateLine(l); err != nil {
			return nil, err
		}
	}
	method := req.PaymentMethod
	if method == "" {
		method = PaymentOnline
	}
	if !method.Valid() {
		return nil, &InvalidRequestError{Field: "payment_method", Reason: "must be online or cod"}
	}

	var o *Order
	err := s.inTx(ctx, "PlaceOrder", func(ctx context.Context, uow UnitOfWork) error {
		variants, err := resolveLines(ctx, uow, req.StoreID, req.Lines)
		if err != nil {
			return err
		}

		reserve := make([]stock.Line, len(req.Lines))
		for i, l := range req.Lines {
			reserve[i] = stock.Line{VariantID: variants[i].ID, Quantity: l.Quantity}
		}
		reserve, err = stock.SortLines(reserve)
		if err != nil {
			var qErr *stock.QuantityError
			if errors.As(err, &qErr) {
				return &InvalidQuantityError{VariantID: qErr.VariantID, Quantity: qErr.Quantity}
			}
			return err
		}

		byID := variantsByID(variants)
		subtotal := decimal.Zero
		for _, l := range reserve {
			subtotal = subtotal.Add(byID[l.VariantID].Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
		}

		engine := coupon.NewEngine(uow.Coupons()).WithClock(s.now)
		var c *coupon.Coupon
		if code := strings.TrimSpace(req.CouponCode); code != "" {
			if c, err = engine.Lookup(ctx, code); err != nil {
				return err
			}
			if err := c.CheckMinimum(subtotal); err != nil {
				return err
			}
		}

		now := s.now()
		o = &Order{
			StoreID:       req.StoreID,
			Customer:      req.Customer,
			Status:        StatusPending,
			PaymentMethod: method,
			PaymentStatus: PaymentPending,
			Total:         decimal.Zero,
			Discount:      decimal.Zero,
			Notes:         req.Notes,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if c != nil {
			o.CouponID = &c.ID
			o.CouponCode = c.Code
		}
		if err := uow.Orders().Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}

		if err := stock.NewLedger(uow.Stock()).ReserveAll(ctx, reserve); err != nil {
			return err
		}
		for _, l := range reserve {
			it := NewItem(o.ID, byID[l.VariantID], l.Quantity)
			if err := uow.Orders().InsertItem(ctx, &it); err != nil {
				return errors.Wrap(err, "insert item")
			}
		}

		if c != nil {
			if err := engine.Redeem(ctx, c); err != nil {
				return err
			}
		}
		if err := s.recompute(ctx, uow, o); err != nil {
			return err
		}
		_, err = s.appendStatus(ctx, uow, o, StatusPending, noteOrderCreated, true)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.placed.Add(ctx, 1)
	if o.CouponID != nil {
		s.redeemed.Add(ctx, 1)
	}
	s.notify(ctx, Event{
		Type:    EventOrderPlaced,
		OrderID: o.ID,
		StoreID: o.StoreID,
		Status:  o.Status,
		Note:    noteOrderCreated,
		Total:   o.Total,
		At:      o.CreatedAt,
	})
	return o, nil
}

// GetOrder returns the order with its items and status history.
func (s *Service) GetOrder(ctx context.Context, storeID, orderID int64) (*Order, error) {
	var o *Order
	err := s.inTx(ctx, "GetOrder", func(ctx context.Context, uow UnitOfWork) error {
		var err error
		if o, err = uow.Orders().Get(ctx, orderID); err != nil {
			return errors.Wrapf(err, "get order %d", orderID)
		}
		if o.StoreID != storeID {
			return ErrOrderNotFound
		}
		if o.Items, err = uow.Orders().Items(ctx, orderID); err != nil {
			return errors.Wrap(err, "load items")
		}
		if o.History, err = uow.Orders().History(ctx, orderID); err != nil {
			return errors.Wrap(err, "load history")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Recompute reprices the order from its current items and coupon. Calling it
// again without item changes yields the same totals.
func (s *Service) Recompute(ctx context.Context, storeID, orderID int64) (*Order, error) {
	var o *Order
	err := s.inTx(ctx, "Recompute", func(ctx context.Context, uow UnitOfWork) error {
		var err error
		if o, err = lockOrder(ctx, uow, storeID, orderID); err != nil {
			return err
		}
		return s.recompute(ctx, uow, o)
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// SetStatusRequest holds the input for a status change.
type SetStatusRequest struct {
	StoreID   int64
	OrderID   int64
	Status    string
	Note      string
	Automatic bool
}

// SetOrderStatus moves the order to the requested status and appends a
// history entry. Any recognized status may follow any other.
func (s *Service) SetOrderStatus(ctx context.Context, req SetStatusRequest) (*StatusUpdate, error) {
	st, err := ParseStatus(req.Status)
	if err != nil {
		return nil, err
	}

	var (
		o *Order
		u *StatusUpdate
	)
	err = s.inTx(ctx, "SetOrderStatus", func(ctx context.Context, uow UnitOfWork) error {
		var err error
		if o, err = lockOrder(ctx, uow, req.StoreID, req.OrderID); err != nil {
			return err
		}
		if err := uow.Orders().UpdateStatus(ctx, o.ID, st); err != nil {
			return errors.Wrap(err, "update status")
		}
		o.Status = st
		u, err = s.appendStatus(ctx, uow, o, st, req.Note, req.Automatic)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, Event{
		Type:    EventStatusChanged,
		OrderID: o.ID,
		StoreID: o.StoreID,
		Status:  st,
		Note:    u.Note,
		Total:   o.Total,
		At:      u.CreatedAt,
	})
	return u, nil
}

// MarkCashOnDeliveryPaid records payment of a cash-on-delivery order. Marking
// an already paid order again keeps the original payment time.
func (s *Service) MarkCashOnDeliveryPaid(ctx context.Context, storeID, orderID int64) (*Order, error) {
	var (
		o           *Order
		alreadyPaid bool
	)
	err := s.inTx(ctx, "MarkCashOnDeliveryPaid", func(ctx context.Context, uow UnitOfWork) error {
		var err error
		if o, err = lockOrder(ctx, uow, storeID, orderID); err != nil {
			return err
		}
		if o.PaymentMethod != PaymentCashOnDelivery {
			return &InvalidOperationError{
				OrderID: o.ID,
				Op:      "mark cash on delivery paid",
				Reason:  "payment method is " + string(o.PaymentMethod),
			}
		}
		if o.PaymentStatus == PaymentPaid {
			alreadyPaid = true
			return nil
		}

		now := s.now()
		if err := uow.Orders().UpdatePayment(ctx, o.ID, PaymentPaid, &now); err != nil {
			return errors.Wrap(err, "update payment")
		}
		o.PaymentStatus = PaymentPaid
		o.PaidAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !alreadyPaid {
		s.notify(ctx, Event{
			Type:    EventPaymentReceived,
			OrderID: o.ID,
			StoreID: o.StoreID,
			Status:  o.Status,
			Total:   o.Total,
			At:      *o.PaidAt,
		})
	}
	return o, nil
}

// ValidateCouponRequest holds the input for a coupon check.
type ValidateCouponRequest struct {
	Code     string
	Subtotal decimal.Decimal
}

// ValidateCoupon reports the discount code would grant on subtotal without
// redeeming it.
func (s *Service) ValidateCoupon(ctx context.Context, req ValidateCouponRequest) (*coupon.Quote, error) {
	if req.Subtotal.IsNegative() {
		return nil, &InvalidRequestError{Field: "subtotal", Reason: "must not be negative"}
	}

	var q *coupon.Quote
	err := s.inTx(ctx, "ValidateCoupon", func(ctx context.Context, uow UnitOfWork) error {
		var err error
		q, err = coupon.NewEngine(uow.Coupons()).WithClock(s.now).Validate(ctx, req.Code, req.Subtotal)
		return err
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}
