// Package stock implements the per-variant available-quantity ledger.
//
// The ledger never reads stock and decides in application code: every
// reservation is delegated to Store.DecrementIfAvailable, which must perform
// the check and the decrement as one indivisible step at the storage layer.
package stock

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/go-faster/errors"

	"github.com/xenking/sales-core/internal/domain/errcode"
)

// MaxQuantity is the largest quantity a single reservation may carry. It
// matches the INTEGER stock and quantity columns.
const MaxQuantity = math.MaxInt32

// ErrInvalidQuantity is returned when a reservation or release is requested
// for a quantity outside 1..MaxQuantity.
var ErrInvalidQuantity = errcode.New(errcode.InvalidRequest, "stock quantity out of range")

// QuantityError reports a line quantity, or the merged quantity of several
// lines for one variant, outside 1..MaxQuantity.
type QuantityError struct {
	VariantID int64
	Quantity  int64
}

func (e *QuantityError) Error() string {
	return fmt.Sprintf("quantity %d for variant %d is outside 1..%d", e.Quantity, e.VariantID, MaxQuantity)
}

// ErrorCode implements errcode.Coder.
func (e *QuantityError) ErrorCode() string { return errcode.InvalidRequest }

// Is makes QuantityError match ErrInvalidQuantity.
func (e *QuantityError) Is(target error) bool { return target == ErrInvalidQuantity }

func validQuantity(qty int) bool {
	return qty > 0 && qty <= MaxQuantity
}

// ErrUnknownVariant is returned when the variant row does not exist.
var ErrUnknownVariant = errcode.New(errcode.NotFound, "variant not found")

// InsufficientStockError reports that fewer units were available than
// requested at the moment of the atomic step.
type InsufficientStockError struct {
	VariantID int64
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %d: only %d left, %d requested",
		e.VariantID, e.Available, e.Requested)
}

// ErrorCode implements errcode.Coder.
func (e *InsufficientStockError) ErrorCode() string { return errcode.InsufficientStock }

// Store is the storage primitive behind the ledger. Implementations must make
// DecrementIfAvailable atomic with respect to every other writer of the same
// variant row.
type Store interface {
	// DecrementIfAvailable subtracts qty from the variant stock only if the
	// stock is at least qty. When ok is false nothing was written and
	// available holds the stock observed at that moment. When ok is true
	// available holds the stock left after the decrement.
	DecrementIfAvailable(ctx context.Context, variantID int64, qty int) (available int, ok bool, err error)
	// Increment adds qty to the variant stock.
	Increment(ctx context.Context, variantID int64, qty int) error
}

// Line is one (variant, quantity) pair to reserve.
type Line struct {
	VariantID int64
	Quantity  int
}

// Ledger is the only code path allowed to change variant stock.
type Ledger struct {
	store Store
}

// NewLedger returns a Ledger backed by the given Store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Reserve atomically takes qty units of the variant.
func (l *Ledger) Reserve(ctx context.Context, variantID int64, qty int) error {
	if !validQuantity(qty) {
		return ErrInvalidQuantity
	}
	available, ok, err := l.store.DecrementIfAvailable(ctx, variantID, qty)
	if err != nil {
		return errors.Wrapf(err, "reserve variant %d", variantID)
	}
	if !ok {
		return &InsufficientStockError{VariantID: variantID, Available: available, Requested: qty}
	}
	return nil
}

// Release atomically returns qty units of the variant.
func (l *Ledger) Release(ctx context.Context, variantID int64, qty int) error {
	if !validQuantity(qty) {
		return ErrInvalidQuantity
	}
	if err := l.store.Increment(ctx, variantID, qty); err != nil {
		return errors.Wrapf(err, "release variant %d", variantID)
	}
	return nil
}

// ReserveAll reserves every line in ascending variant ID order, so that
// concurrent multi-line reservations always lock rows in the same sequence.
// If any line fails, the lines already reserved by this call are released
// before the error is returned.
func (l *Ledger) ReserveAll(ctx context.Context, lines []Line) error {
	sorted, err := SortLines(lines)
	if err != nil {
		return err
	}

	reserved := make([]Line, 0, len(sorted))
	for _, line := range sorted {
		if err := l.Reserve(ctx, line.VariantID, line.Quantity); err != nil {
			if rerr := l.releaseAll(ctx, reserved); rerr != nil {
				return errors.Wrap(rerr, "release after failed reservation")
			}
			return err
		}
		reserved = append(reserved, line)
	}
	return nil
}

func (l *Ledger) releaseAll(ctx context.Context, lines []Line) error {
	for i := len(lines) - 1; i >= 0; i-- {
		if err := l.Release(ctx, lines[i].VariantID, lines[i].Quantity); err != nil {
			return err
		}
	}
	return nil
}

// SortLines returns a copy of lines ordered by variant ID, with lines for the
// same variant merged into one. It fails with *QuantityError when a line, or
// a merged sum, falls outside 1..MaxQuantity.
func SortLines(lines []Line) ([]Line, error) {
	merged := make(map[int64]int64, len(lines))
	for _, line := range lines {
		if !validQuantity(line.Quantity) {
			return nil, &QuantityError{VariantID: line.VariantID, Quantity: int64(line.Quantity)}
		}
		// Both terms are at most MaxQuantity, so the sum fits in int64.
		sum := merged[line.VariantID] + int64(line.Quantity)
		if sum > MaxQuantity {
			return nil, &QuantityError{VariantID: line.VariantID, Quantity: sum}
		}
		merged[line.VariantID] = sum
	}
	out := make([]Line, 0, len(merged))
	for id, qty := range merged {
		out = append(out, Line{VariantID: id, Quantity: int(qty)})
	}
	slices.SortFunc(out, func(a, b Line) int {
		return cmp.Compare(a.VariantID, b.VariantID)
	})
	return out, nil
}
