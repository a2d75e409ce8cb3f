// Package memory is an in-process implementation of the order storage
// contracts. Transactions are serialized and applied to a copy of the state
// that replaces the live state on commit.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/sales-core/internal/domain/catalog"
	"github.com/xenking/sales-core/internal/domain/coupon"
	"github.com/xenking/sales-core/internal/domain/order"
	"github.com/xenking/sales-core/internal/domain/stock"
)

type state struct {
	nextID   int64
	products map[int64]catalog.Product
	variants map[int64]catalog.Variant
	coupons  map[int64]coupon.Coupon
	orders   map[int64]order.Order
	items    map[int64]order.Item
	history  []order.StatusUpdate
}

func (s *state) clone() *state {
	return &state{
		nextID:   s.nextID,
		products: maps.Clone(s.products),
		variants: maps.Clone(s.variants),
		coupons:  maps.Clone(s.coupons),
		orders:   maps.Clone(s.orders),
		items:    maps.Clone(s.items),
		history:  slices.Clone(s.history),
	}
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// Store holds the whole data set in memory.
type Store struct {
	mu sync.Mutex
	st *state
}

var _ order.Transactor = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{st: &state{
		products: map[int64]catalog.Product{},
		variants: map[int64]catalog.Variant{},
		coupons:  map[int64]coupon.Coupon{},
		orders:   map[int64]order.Order{},
		items:    map[int64]order.Item{},
	}}
}

// InTx runs fn with exclusive access to a copy of the state. The copy
// becomes the live state only when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, uow order.UnitOfWork) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{st: s.st.clone()}
	if err := fn(ctx, t); err != nil {
		return err
	}
	s.st = t.st
	return nil
}

// SeedProduct stores p, assigning an ID when it has none.
func (s *Store) SeedProduct(p catalog.Product) catalog.Product {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == 0 {
		p.ID = s.st.id()
	}
	s.st.products[p.ID] = p
	return p
}

// SeedVariant stores v under its product, assigning an ID when it has none.
func (s *Store) SeedVariant(v catalog.Variant) catalog.Variant {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.ID == 0 {
		v.ID = s.st.id()
	}
	if p, ok := s.st.products[v.ProductID]; ok {
		v.StoreID = p.StoreID
		v.ProductActive = p.Active
	}
	s.st.variants[v.ID] = v
	return v
}

// SeedCoupon stores c, assigning an ID when it has none.
func (s *Store) SeedCoupon(c coupon.Coupon) coupon.Coupon {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == 0 {
		c.ID = s.st.id()
	}
	s.st.coupons[c.ID] = c
	return c
}

// SetPrice changes the current price of a variant.
func (s *Store) SetPrice(variantID int64, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.st.variants[variantID]
	v.Price = price
	s.st.variants[variantID] = v
}

// Stock returns the committed stock of a variant.
func (s *Store) Stock(variantID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.variants[variantID].Stock
}

// Coupon returns the committed state of a coupon.
func (s *Store) Coupon(id int64) coupon.Coupon {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.coupons[id]
}

// Order returns the committed order row without items or history.
func (s *Store) Order(id int64) (order.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orders[id]
	return o, ok
}

// OrderCount returns the number of committed orders.
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.orders)
}

type tx struct {
	st *state
}

func (t *tx) Orders() order.Repository { return t }

func (t *tx) Catalog() catalog.Repository { return t }

func (t *tx) Stock() stock.Store { return t }

func (t *tx) Coupons() coupon.Repository { return t }

// Catalog.

func (t *tx) GetProduct(_ context.Context, id int64) (*catalog.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &p, nil
}

func (t *tx) GetVariants(_ context.Context, ids []int64) ([]catalog.Variant, error) {
	out := make([]catalog.Variant, 0, len(ids))
	for _, id := range ids {
		if v, ok := t.st.variants[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (t *tx) DefaultVariant(_ context.Context, productID int64) (*catalog.Variant, error) {
	var found *catalog.Variant
	for _, v := range t.st.variants {
		if v.ProductID != productID || !v.Active {
			continue
		}
		if found == nil || v.ID < found.ID {
			found = &v
		}
	}
	if found == nil {
		return nil, catalog.ErrNotFound
	}
	return found, nil
}

// Stock.

func (t *tx) DecrementIfAvailable(_ context.Context, variantID int64, qty int) (int, bool, error) {
	v, ok := t.st.variants[variantID]
	if !ok {
		return 0, false, stock.ErrUnknownVariant
	}
	if v.Stock < qty {
		return v.Stock, false, nil
	}
	v.Stock -= qty
	t.st.variants[variantID] = v
	return v.Stock, true, nil
}

func (t *tx) Increment(_ context.Context, variantID int64, qty int) error {
	v, ok := t.st.variants[variantID]
	if !ok {
		return stock.ErrUnknownVariant
	}
	v.Stock += qty
	t.st.variants[variantID] = v
	return nil
}

// Coupons.

func (t *tx) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	for _, c := range t.st.coupons {
		if strings.EqualFold(c.Code, code) {
			return &c, nil
		}
	}
	return nil, coupon.ErrNotFound
}

func (t *tx) FindByID(_ context.Context, id int64) (*coupon.Coupon, error) {
	c, ok := t.st.coupons[id]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return &c, nil
}

func (t *tx) IncrementUsage(_ context.Context, id int64) (bool, error) {
	c, ok := t.st.coupons[id]
	if !ok {
		return false, coupon.ErrNotFound
	}
	if c.HasUsageLimit() && c.UsageCount >= c.UsageLimit {
		return false, nil
	}
	c.UsageCount++
	t.st.coupons[id] = c
	return true, nil
}

// Orders.

func (t *tx) Create(_ context.Context, o *order.Order) error {
	o.ID = t.st.id()
	row := *o
	row.Items, row.History = nil, nil
	t.st.orders[o.ID] = row
	return nil
}

func (t *tx) Get(_ context.Context, id int64) (*order.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return &o, nil
}

func (t *tx) GetForUpdate(ctx context.Context, id int64) (*order.Order, error) {
	return t.Get(ctx, id)
}

func (t *tx) Items(_ context.Context, orderID int64) ([]order.Item, error) {
	var out []order.Item
	for _, it := range t.st.items {
		if it.OrderID == orderID {
			out = append(out, it)
		}
	}
	slices.SortFunc(out, func(a, b order.Item) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (t *tx) GetItem(_ context.Context, id int64) (*order.Item, error) {
	it, ok := t.st.items[id]
	if !ok {
		return nil, order.ErrItemNotFound
	}
	return &it, nil
}

func (t *tx) InsertItem(_ context.Context, it *order.Item) error {
	it.ID = t.st.id()
	t.st.items[it.ID] = *it
	return nil
}

func (t *tx) UpdateItemQuantity(_ context.Context, id int64, qty int) error {
	it, ok := t.st.items[id]
	if !ok {
		return order.ErrItemNotFound
	}
	it.Quantity = qty
	t.st.items[id] = it
	return nil
}

func (t *tx) DeleteItem(_ context.Context, id int64) error {
	if _, ok := t.st.items[id]; !ok {
		return order.ErrItemNotFound
	}
	delete(t.st.items, id)
	return nil
}

func (t *tx) updateOrder(id int64, fn func(o *order.Order)) error {
	o, ok := t.st.orders[id]
	if !ok {
		return order.ErrOrderNotFound
	}
	fn(&o)
	o.UpdatedAt = time.Now()
	t.st.orders[id] = o
	return nil
}

func (t *tx) UpdateTotals(_ context.Context, orderID int64, total, discount decimal.Decimal) error {
	return t.updateOrder(orderID, func(o *order.Order) {
		o.Total = total
		o.Discount = discount
	})
}

func (t *tx) UpdateStatus(_ context.Context, orderID int64, status order.Status) error {
	return t.updateOrder(orderID, func(o *order.Order) {
		o.Status = status
	})
}

func (t *tx) UpdatePayment(_ context.Context, orderID int64, status order.PaymentStatus, paidAt *time.Time) error {
	return t.updateOrder(orderID, func(o *order.Order) {
		o.PaymentStatus = status
		o.PaidAt = paidAt
	})
}

func (t *tx) AppendStatus(_ context.Context, u *order.StatusUpdate) error {
	if _, ok := t.st.orders[u.OrderID]; !ok {
		return order.ErrOrderNotFound
	}
	u.ID = t.st.id()
	t.st.history = append(t.st.history, *u)
	return nil
}

func (t *tx) History(_ context.Context, orderID int64) ([]order.StatusUpdate, error) {
	var out []order.StatusUpdate
	for _, u := range t.st.history {
		if u.OrderID == orderID {
			out = append(out, u)
		}
	}
	return out, nil
}
