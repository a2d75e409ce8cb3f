package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/sales-core/internal/domain/stock"
)

const (
	// The WHERE clause makes check and decrement one statement, so two
	// writers can never both pass the check on the same row.
	decrementStockSQL = `UPDATE product_variants SET stock = stock - $2
		WHERE id = $1 AND stock >= $2
		RETURNING stock`

	getStockSQL = `SELECT stock FROM product_variants WHERE id = $1`

	incrementStockSQL = `UPDATE product_variants SET stock = stock + $2 WHERE id = $1`
)

var _ stock.Store = (*StockRepository)(nil)

// StockRepository implements stock.Store with conditional updates.
type StockRepository struct {
	db DBTX
}

// NewStockRepository returns a StockRepository that uses the given db.
func NewStockRepository(db DBTX) *StockRepository {
	return &StockRepository{db: db}
}

// DecrementIfAvailable implements stock.Store.
func (r *StockRepository) DecrementIfAvailable(ctx context.Context, variantID int64, qty int) (int, bool, error) {
	var left int
	err := r.db.QueryRow(ctx, decrementStockSQL, variantID, qty).Scan(&left)
	if err == nil {
		return left, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("decrementing stock of variant %d: %w", variantID, err)
	}

	var available int
	if err := r.db.QueryRow(ctx, getStockSQL, variantID).Scan(&available); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, stock.ErrUnknownVariant
		}
		return 0, false, fmt.Errorf("reading stock of variant %d: %w", variantID, err)
	}
	return available, false, nil
}

// Increment implements stock.Store.
func (r *StockRepository) Increment(ctx context.Context, variantID int64, qty int) error {
	tag, err := r.db.Exec(ctx, incrementStockSQL, variantID, qty)
	if err != nil {
		return fmt.Errorf("incrementing stock of variant %d: %w", variantID, err)
	}
	if tag.RowsAffected() == 0 {
		return stock.ErrUnknownVariant
	}
	return nil
}
