package order

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/sales-core/internal/domain/catalog"
	"github.com/xenking/sales-core/internal/domain/stock"
)

// Line is one requested order line. A line naming only ProductID refers to a
// simple product and resolves to that product's single variant.
type Line struct {
	VariantID int64
	ProductID int64
	Quantity  int
}

func validateLine(l Line) error {
	if l.VariantID == 0 && l.ProductID == 0 {
		return &InvalidRequestError{Field: "variant_id", Reason: "variant or product required"}
	}
	if l.Quantity <= 0 || l.Quantity > stock.MaxQuantity {
		return &InvalidQuantityError{VariantID: l.VariantID, Quantity: int64(l.Quantity)}
	}
	return nil
}

// resolveLines returns the variant for every line, in line order, after
// checking it can be sold by storeID.
func resolveLines(ctx context.Context, uow UnitOfWork, storeID int64, lines []Line) ([]catalog.Variant, error) {
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		if l.VariantID != 0 {
			ids = append(ids, l.VariantID)
		}
	}

	var byID map[int64]catalog.Variant
	if len(ids) > 0 {
		fetched, err := uow.Catalog().GetVariants(ctx, ids)
		if err != nil {
			return nil, errors.Wrap(err, "get variants")
		}
		byID = variantsByID(fetched)
	}

	out := make([]catalog.Variant, len(lines))
	for i, l := range lines {
		if l.VariantID == 0 {
			v, err := resolveProduct(ctx, uow.Catalog(), storeID, l.ProductID)
			if err != nil {
				return nil, err
			}
			out[i] = *v
			continue
		}

		v, ok := byID[l.VariantID]
		if !ok {
			return nil, &VariantMismatchError{VariantID: l.VariantID, ProductID: l.ProductID, Reason: MismatchNotFound}
		}
		if err := checkVariant(v, storeID, l.ProductID); err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func resolveProduct(ctx context.Context, cat catalog.Repository, storeID, productID int64) (*catalog.Variant, error) {
	p, err := cat.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, &VariantMismatchError{ProductID: productID, Reason: MismatchNotFound}
		}
		return nil, errors.Wrapf(err, "get product %d", productID)
	}
	switch {
	case p.StoreID != storeID:
		return nil, &VariantMismatchError{ProductID: productID, Reason: MismatchWrongStore}
	case !p.Active:
		return nil, &VariantMismatchError{ProductID: productID, Reason: MismatchInactive}
	case p.HasVariants:
		return nil, &VariantMismatchError{ProductID: productID, Reason: MismatchVariantRequired}
	}

	v, err := cat.DefaultVariant(ctx, productID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, &VariantMismatchError{ProductID: productID, Reason: MismatchNotFound}
		}
		return nil, errors.Wrapf(err, "default variant of product %d", productID)
	}
	if err := checkVariant(*v, storeID, productID); err != nil {
		return nil, err
	}
	return v, nil
}

func checkVariant(v catalog.Variant, storeID, productID int64) error {
	switch {
	case v.StoreID != storeID:
		return &VariantMismatchError{VariantID: v.ID, ProductID: v.ProductID, Reason: MismatchWrongStore}
	case productID != 0 && v.ProductID != productID:
		return &VariantMismatchError{VariantID: v.ID, ProductID: productID, Reason: MismatchWrongProduct}
	case !v.Sellable():
		return &VariantMismatchError{VariantID: v.ID, ProductID: v.ProductID, Reason: MismatchInactive}
	}
	return nil
}

func variantsByID(vs []catalog.Variant) map[int64]catalog.Variant {
	m := make(map[int64]catalog.Variant, len(vs))
	for _, v := range vs {
		m[v.ID] = v
	}
	return m
}

func (s *Service) addItem(ctx context.Context, uow UnitOfWork, o *Order, v catalog.Variant, qty int) (*Item, error) {
	if err := stock.NewLedger(uow.Stock()).Reserve(ctx, v.ID, qty); err != nil {
		return nil, err
	}
	it := NewItem(o.ID, v, qty)
	if err := uow.Orders().InsertItem(ctx, &it); err != nil {
		return nil, errors.Wrap(err, "insert item")
	}
	return &it, nil
}

func (s *Service) updateItemQuantity(ctx context.Context, uow UnitOfWork, it *Item, qty int) error {
	ledger := stock.NewLedger(uow.Stock())
	switch delta := qty - it.Quantity; {
	case delta > 0:
		if err := ledger.Reserve(ctx, it.VariantID, delta); err != nil {
			return err
		}
	case delta < 0:
		if err := ledger.Release(ctx, it.VariantID, -delta); err != nil {
			return err
		}
	default:
		return nil
	}

	if err := uow.Orders().UpdateItemQuantity(ctx, it.ID, qty); err != nil {
		return errors.Wrap(err, "update item quantity")
	}
	it.Quantity = qty
	return nil
}

func (s *Service) removeItem(ctx context.Context, uow UnitOfWork, it *Item) error {
	if err := stock.NewLedger(uow.Stock()).Release(ctx, it.VariantID, it.Quantity); err != nil {
		return err
	}
	if err := uow.Orders().DeleteItem(ctx, it.ID); err != nil {
		return errors.Wrap(err, "delete item")
	}
	return nil
}

// lockItem locks the order owning itemID and then reads the item, so the
// quantity it returns cannot change until the transaction ends.
func lockItem(ctx context.Context, uow UnitOfWork, storeID, itemID int64) (*Item, *Order, error) {
	peek, err := uow.Orders().GetItem(ctx, itemID)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "get item %d", itemID)
	}
	o, err := lockOrder(ctx, uow, storeID, peek.OrderID)
	if err != nil {
		return nil, nil, err
	}
	it, err := uow.Orders().GetItem(ctx, itemID)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "get item %d", itemID)
	}
	return it, o, nil
}

// ItemResult is an item change together with the repriced order.
type ItemResult struct {
	Item  *Item
	Order *Order
}

// AddItemRequest holds the input for adding a line to an existing order.
type AddItemRequest struct {
	StoreID int64
	OrderID int64
	Line
}

// AddOrderItem reserves stock and appends a new line to the order. Adding a
// variant the order already contains creates a separate line with the
// current price.
func (s *Service) AddOrderItem(ctx context.Context, req AddItemRequest) (*ItemResult, error) {
	if err := validateLine(req.Line); err != nil {
		return nil, err
	}

	var res ItemResult
	err := s.inTx(ctx, "AddOrderItem", func(ctx context.Context, uow UnitOfWork) error {
		o, err := lockOrder(ctx, uow, req.StoreID, req.OrderID)
		if err != nil {
			return err
		}
		variants, err := resolveLines(ctx, uow, o.StoreID, []Line{req.Line})
		if err != nil {
			return err
		}
		it, err := s.addItem(ctx, uow, o, variants[0], req.Quantity)
		if err != nil {
			return err
		}
		if err := s.recompute(ctx, uow, o); err != nil {
			return err
		}
		res = ItemResult{Item: it, Order: o}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// UpdateItemRequest holds the input for changing a line quantity.
type UpdateItemRequest struct {
	StoreID  int64
	ItemID   int64
	Quantity int
}

// UpdateOrderItem changes the quantity of a line, reserving or releasing the
// difference. When the extra stock is unavailable the line is left as is.
func (s *Service) UpdateOrderItem(ctx context.Context, req UpdateItemRequest) (*ItemResult, error) {
	var res ItemResult
	err := s.inTx(ctx, "UpdateOrderItem", func(ctx context.Context, uow UnitOfWork) error {
		it, o, err := lockItem(ctx, uow, req.StoreID, req.ItemID)
		if err != nil {
			return err
		}
		if req.Quantity <= 0 || req.Quantity > stock.MaxQuantity {
			return &InvalidQuantityError{VariantID: it.VariantID, Quantity: int64(req.Quantity)}
		}
		if err := s.updateItemQuantity(ctx, uow, it, req.Quantity); err != nil {
			return err
		}
		if err := s.recompute(ctx, uow, o); err != nil {
			return err
		}
		res = ItemResult{Item: it, Order: o}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// RemoveOrderItem deletes a line and returns its stock.
func (s *Service) RemoveOrderItem(ctx context.Context, storeID, itemID int64) (*Order, error) {
	var o *Order
	err := s.inTx(ctx, "RemoveOrderItem", func(ctx context.Context, uow UnitOfWork) error {
		it, locked, err := lockItem(ctx, uow, storeID, itemID)
		if err != nil {
			return err
		}
		if err := s.removeItem(ctx, uow, it); err != nil {
			return err
		}
		o = locked
		return s.recompute(ctx, uow, o)
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}
