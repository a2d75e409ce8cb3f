// Package order implements the order consistency core: item management with
// stock reservation, total recomputation and the status machine.
package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/sales-core/internal/domain/catalog"
	"github.com/xenking/sales-core/internal/domain/coupon"
	"github.com/xenking/sales-core/internal/domain/stock"
)

// PaymentMethod is how the customer pays for an order.
type PaymentMethod string

const (
	PaymentOnline         PaymentMethod = "online"
	PaymentCashOnDelivery PaymentMethod = "cod"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	return m == PaymentOnline || m == PaymentCashOnDelivery
}

// PaymentStatus tracks whether an order has been paid.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// Customer holds the contact and delivery details captured at checkout.
type Customer struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	ShippingAddress string `json:"shipping_address"`
}

// Order is a store's order with its pricing and payment state.
type Order struct {
	ID            int64
	StoreID       int64
	Customer      Customer
	Status        Status
	PaymentMethod PaymentMethod
	PaymentStatus PaymentStatus
	PaidAt        *time.Time
	Total         decimal.Decimal
	Discount      decimal.Decimal
	// CouponID is nil when no coupon was redeemed for the order.
	CouponID   *int64
	CouponCode string
	Notes      string
	CreatedAt  time.Time
	UpdatedAt  time.Time

	Items   []Item
	History []StatusUpdate
}

// Item is a single order line. The unit price is captured from the variant
// when the item is created and cannot be changed afterwards.
type Item struct {
	ID        int64
	OrderID   int64
	ProductID int64
	VariantID int64
	SKU       string
	Quantity  int
	CreatedAt time.Time

	unitPrice decimal.Decimal
}

// NewItem creates an order line for v, snapshotting its current price.
func NewItem(orderID int64, v catalog.Variant, qty int) Item {
	return Item{
		OrderID:   orderID,
		ProductID: v.ProductID,
		VariantID: v.ID,
		SKU:       v.SKU,
		Quantity:  qty,
		unitPrice: v.Price,
	}
}

// RestoreItem rebuilds a persisted item together with its stored snapshot
// price. Only storage implementations should call it.
func RestoreItem(it Item, unitPrice decimal.Decimal) Item {
	it.unitPrice = unitPrice
	return it
}

// UnitPrice returns the price snapshot taken when the item was created.
func (i Item) UnitPrice() decimal.Decimal {
	return i.unitPrice
}

// Subtotal returns quantity * unit price.
func (i Item) Subtotal() decimal.Decimal {
	return i.unitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// StatusUpdate is one entry of the append-only status history of an order.
type StatusUpdate struct {
	ID        int64
	OrderID   int64
	Status    Status
	Note      string
	Automatic bool
	CreatedAt time.Time
}

// Repository defines persistence operations for orders, their items and
// status history. Item and totals writes never touch variant stock.
type Repository interface {
	// Create inserts o and assigns its ID and timestamps.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id int64) (*Order, error)
	// GetForUpdate reads the order and holds an exclusive lock on it until
	// the transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*Order, error)
	Items(ctx context.Context, orderID int64) ([]Item, error)
	GetItem(ctx context.Context, id int64) (*Item, error)
	// InsertItem persists it and assigns its ID.
	InsertItem(ctx context.Context, it *Item) error
	UpdateItemQuantity(ctx context.Context, id int64, qty int) error
	DeleteItem(ctx context.Context, id int64) error
	UpdateTotals(ctx context.Context, orderID int64, total, discount decimal.Decimal) error
	UpdateStatus(ctx context.Context, orderID int64, status Status) error
	UpdatePayment(ctx context.Context, orderID int64, status PaymentStatus, paidAt *time.Time) error
	// AppendStatus adds u to the history and assigns its ID. History entries
	// are never updated or deleted.
	AppendStatus(ctx context.Context, u *StatusUpdate) error
	History(ctx context.Context, orderID int64) ([]StatusUpdate, error)
}

// UnitOfWork exposes the repositories bound to one transaction.
type UnitOfWork interface {
	Orders() Repository
	Catalog() catalog.Repository
	Stock() stock.Store
	Coupons() coupon.Repository
}

// Transactor runs fn inside a single transaction. The transaction commits
// when fn returns nil and rolls back otherwise.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error
}
