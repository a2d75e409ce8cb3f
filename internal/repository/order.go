package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/sales-core/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (store_id, customer_name, customer_email, customer_phone,
		shipping_address, status, payment_method, payment_status, total, discount, coupon_id,
		notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`

	orderColumns = `o.id, o.store_id, o.customer_name, o.customer_email, o.customer_phone,
		o.shipping_address, o.status, o.payment_method, o.payment_status, o.paid_at,
		o.total, o.discount, o.coupon_id, COALESCE(c.code, ''), o.notes, o.created_at, o.updated_at`

	getOrderSQL = `SELECT ` + orderColumns + `
		FROM orders o LEFT JOIN coupons c ON c.id = o.coupon_id
		WHERE o.id = $1`

	getOrderForUpdateSQL = getOrderSQL + ` FOR UPDATE OF o`

	listItemsSQL = `SELECT i.id, i.order_id, i.product_id, i.variant_id, v.sku, i.quantity, i.unit_price, i.created_at
		FROM order_items i JOIN product_variants v ON v.id = i.variant_id
		WHERE i.order_id = $1 ORDER BY i.id`

	getItemSQL = `SELECT i.id, i.order_id, i.product_id, i.variant_id, v.sku, i.quantity, i.unit_price, i.created_at
		FROM order_items i JOIN product_variants v ON v.id = i.variant_id
		WHERE i.id = $1`

	insertItemSQL = `INSERT INTO order_items (order_id, product_id, variant_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	updateItemQuantitySQL = `UPDATE order_items SET quantity = $2 WHERE id = $1`

	deleteItemSQL = `DELETE FROM order_items WHERE id = $1`

	updateTotalsSQL = `UPDATE orders SET total = $2, discount = $3, updated_at = now() WHERE id = $1`

	updateStatusSQL = `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`

	updatePaymentSQL = `UPDATE orders SET payment_status = $2, paid_at = $3, updated_at = now() WHERE id = $1`

	appendStatusSQL = `INSERT INTO order_status_updates (order_id, status, note, automatic, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	listHistorySQL = `SELECT id, order_id, status, note, automatic, created_at
		FROM order_status_updates WHERE order_id = $1 ORDER BY id`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	db DBTX
}

// NewOrderRepository returns an OrderRepository that uses the given db.
func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create persists a new order and assigns its ID.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	err := r.db.QueryRow(ctx, createOrderSQL,
		o.StoreID, o.Customer.Name, o.Customer.Email, o.Customer.Phone,
		o.Customer.ShippingAddress, o.Status, o.PaymentMethod, o.PaymentStatus,
		o.Total, o.Discount, o.CouponID, o.Notes, o.CreatedAt, o.UpdatedAt,
	).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("creating order: %w", err)
	}
	return nil
}

// Get returns the order row without items or history.
func (r *OrderRepository) Get(ctx context.Context, id int64) (*order.Order, error) {
	return r.getOrder(ctx, getOrderSQL, id)
}

// GetForUpdate is Get with a row lock held until the transaction ends.
func (r *OrderRepository) GetForUpdate(ctx context.Context, id int64) (*order.Order, error) {
	return r.getOrder(ctx, getOrderForUpdateSQL, id)
}

func (r *OrderRepository) getOrder(ctx context.Context, sql string, id int64) (*order.Order, error) {
	rows, err := r.db.Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}
	return &o, nil
}

// Items returns the items of an order in creation order.
func (r *OrderRepository) Items(ctx context.Context, orderID int64) ([]order.Item, error) {
	rows, err := r.db.Query(ctx, listItemsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing items of order %d: %w", orderID, err)
	}
	return pgx.CollectRows(rows, scanItem)
}

// GetItem returns a single item.
func (r *OrderRepository) GetItem(ctx context.Context, id int64) (*order.Item, error) {
	rows, err := r.db.Query(ctx, getItemSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting item %d: %w", id, err)
	}

	it, err := pgx.CollectExactlyOneRow(rows, scanItem)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrItemNotFound
		}
		return nil, fmt.Errorf("getting item %d: %w", id, err)
	}
	return &it, nil
}

// InsertItem persists it with its snapshot price.
func (r *OrderRepository) InsertItem(ctx context.Context, it *order.Item) error {
	err := r.db.QueryRow(ctx, insertItemSQL,
		it.OrderID, it.ProductID, it.VariantID, it.Quantity, it.UnitPrice(),
	).Scan(&it.ID, &it.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting item for order %d: %w", it.OrderID, err)
	}
	return nil
}

// UpdateItemQuantity sets the quantity of an item.
func (r *OrderRepository) UpdateItemQuantity(ctx context.Context, id int64, qty int) error {
	return r.execOne(ctx, "updating item quantity", order.ErrItemNotFound, updateItemQuantitySQL, id, qty)
}

// DeleteItem removes an item.
func (r *OrderRepository) DeleteItem(ctx context.Context, id int64) error {
	return r.execOne(ctx, "deleting item", order.ErrItemNotFound, deleteItemSQL, id)
}

// UpdateTotals stores the recomputed total and discount.
func (r *OrderRepository) UpdateTotals(ctx context.Context, orderID int64, total, discount decimal.Decimal) error {
	return r.execOne(ctx, "updating order totals", order.ErrOrderNotFound, updateTotalsSQL, orderID, total, discount)
}

// UpdateStatus stores the current status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID int64, status order.Status) error {
	return r.execOne(ctx, "updating order status", order.ErrOrderNotFound, updateStatusSQL, orderID, status)
}

// UpdatePayment stores the payment status and time.
func (r *OrderRepository) UpdatePayment(ctx context.Context, orderID int64, status order.PaymentStatus, paidAt *time.Time) error {
	return r.execOne(ctx, "updating order payment", order.ErrOrderNotFound, updatePaymentSQL, orderID, status, paidAt)
}

func (r *OrderRepository) execOne(ctx context.Context, what string, notFound error, sql string, args ...any) error {
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound
	}
	return nil
}

// AppendStatus inserts a history entry.
func (r *OrderRepository) AppendStatus(ctx context.Context, u *order.StatusUpdate) error {
	err := r.db.QueryRow(ctx, appendStatusSQL,
		u.OrderID, u.Status, u.Note, u.Automatic, u.CreatedAt,
	).Scan(&u.ID)
	if err != nil {
		return fmt.Errorf("appending status to order %d: %w", u.OrderID, err)
	}
	return nil
}

// History returns the status history of an order, oldest first.
func (r *OrderRepository) History(ctx context.Context, orderID int64) ([]order.StatusUpdate, error) {
	rows, err := r.db.Query(ctx, listHistorySQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing history of order %d: %w", orderID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.StatusUpdate, error) {
		var (
			u      order.StatusUpdate
			status string
		)
		err := row.Scan(&u.ID, &u.OrderID, &status, &u.Note, &u.Automatic, &u.CreatedAt)
		u.Status = order.Status(status)
		return u, err
	})
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                             order.Order
		status, method, paymentStatus string
	)
	err := row.Scan(
		&o.ID, &o.StoreID, &o.Customer.Name, &o.Customer.Email, &o.Customer.Phone,
		&o.Customer.ShippingAddress, &status, &method, &paymentStatus, &o.PaidAt,
		&o.Total, &o.Discount, &o.CouponID, &o.CouponCode, &o.Notes, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	o.PaymentMethod = order.PaymentMethod(method)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	return o, err
}

func scanItem(row pgx.CollectableRow) (order.Item, error) {
	var (
		it    order.Item
		price decimal.Decimal
	)
	err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.VariantID, &it.SKU, &it.Quantity, &price, &it.CreatedAt)
	return order.RestoreItem(it, price), err
}
