package order

import (
	"fmt"

	"github.com/xenking/sales-core/internal/domain/errcode"
	"github.com/xenking/sales-core/internal/domain/stock"
)

// Sentinel errors for order operations.
var (
	ErrEmptyItems    = errcode.New(errcode.InvalidRequest, "items required")
	ErrOrderNotFound = errcode.New(errcode.NotFound, "order not found")
	ErrItemNotFound  = errcode.New(errcode.NotFound, "order item not found")
)

// InvalidRequestError reports malformed input that never reached storage.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ErrorCode implements errcode.Coder.
func (e *InvalidRequestError) ErrorCode() string { return errcode.InvalidRequest }

// InvalidQuantityError indicates a line quantity, or the merged quantity of
// several lines for one variant, outside 1..stock.MaxQuantity.
type InvalidQuantityError struct {
	VariantID int64
	Quantity  int64
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity for variant %d must be between 1 and %d, got %d",
		e.VariantID, stock.MaxQuantity, e.Quantity)
}

// ErrorCode implements errcode.Coder.
func (e *InvalidQuantityError) ErrorCode() string { return errcode.InvalidRequest }

// Reasons carried by VariantMismatchError.
const (
	MismatchNotFound        = "not_found"
	MismatchWrongStore      = "wrong_store"
	MismatchWrongProduct    = "wrong_product"
	MismatchInactive        = "inactive"
	MismatchVariantRequired = "variant_required"
)

// VariantMismatchError indicates a line that does not fit the store or
// product context of the order.
type VariantMismatchError struct {
	VariantID int64
	ProductID int64
	Reason    string
}

func (e *VariantMismatchError) Error() string {
	switch e.Reason {
	case MismatchVariantRequired:
		return fmt.Sprintf("product %d requires a variant", e.ProductID)
	case MismatchNotFound:
		if e.VariantID == 0 {
			return fmt.Sprintf("product %d not found", e.ProductID)
		}
		return fmt.Sprintf("variant %d not found", e.VariantID)
	default:
		return fmt.Sprintf("variant %d cannot be ordered: %s", e.VariantID, e.Reason)
	}
}

// ErrorCode implements errcode.Coder.
func (e *VariantMismatchError) ErrorCode() string { return errcode.VariantMismatch }

// InvalidStatusError indicates an unrecognized status value.
type InvalidStatusError struct {
	Status string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid order status %q", e.Status)
}

// ErrorCode implements errcode.Coder.
func (e *InvalidStatusError) ErrorCode() string { return errcode.InvalidStatus }

// InvalidOperationError indicates an operation that the order's current
// state does not allow.
type InvalidOperationError struct {
	OrderID int64
	Op      string
	Reason  string
}

func (e *InvalidOperationError) Error() string {
	return fmt.Sprintf("%s on order %d: %s", e.Op, e.OrderID, e.Reason)
}

// ErrorCode implements errcode.Coder.
func (e *InvalidOperationError) ErrorCode() string { return errcode.InvalidOperation }
