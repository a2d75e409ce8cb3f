// Package repository implements the storage contracts on PostgreSQL with
// hand-written pgx queries.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/sales-core/db"
	"github.com/xenking/sales-core/internal/domain/catalog"
	"github.com/xenking/sales-core/internal/domain/coupon"
	"github.com/xenking/sales-core/internal/domain/errcode"
	"github.com/xenking/sales-core/internal/domain/order"
	"github.com/xenking/sales-core/internal/domain/stock"
)

// PostgreSQL error codes that mean the transaction lost a race and may be
// retried as a whole.
const (
	codeLockNotAvailable     = "55P03"
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
	codeUniqueViolation      = "23505"
)

// DBTX is the subset of pgx shared by pools, connections and transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPool creates a pgxpool.Pool configured with shopspring/decimal support
// for NUMERIC columns.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	return pool, nil
}

// RunMigrations executes the embedded DDL schema against the pool.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, db.Schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

var _ order.Transactor = (*Transactor)(nil)

// Transactor runs units of work in READ COMMITTED transactions. Every
// transaction sets a local lock_timeout so a blocked row lock surfaces as
// errcode.ErrConcurrencyConflict instead of waiting forever.
type Transactor struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewTransactor returns a Transactor over pool. A zero lockTimeout keeps the
// server default.
func NewTransactor(pool *pgxpool.Pool, lockTimeout time.Duration) *Transactor {
	return &Transactor{pool: pool, lockTimeout: lockTimeout}
}

// InTx implements order.Transactor.
func (t *Transactor) InTx(ctx context.Context, fn func(ctx context.Context, uow order.UnitOfWork) error) (rerr error) {
	tx, err := t.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) && rerr == nil {
			rerr = errors.Wrap(err, "rollback")
		}
	}()

	if t.lockTimeout > 0 {
		sql := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", t.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, sql); err != nil {
			return errors.Wrap(err, "set lock_timeout")
		}
	}

	if err := fn(ctx, Unit(tx)); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(errors.Wrap(err, "commit"))
	}
	return nil
}

// classify maps lock timeouts, deadlocks and serialization failures to
// errcode.ErrConcurrencyConflict. Other errors pass through unchanged.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure:
		return errors.Wrapf(errcode.ErrConcurrencyConflict, "%s (%s)", pgErr.Message, pgErr.Code)
	default:
		return err
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

type unit struct {
	db DBTX
}

// Unit returns an order.UnitOfWork whose repositories all run on db.
func Unit(db DBTX) order.UnitOfWork {
	return unit{db: db}
}

func (u unit) Orders() order.Repository { return NewOrderRepository(u.db) }

func (u unit) Catalog() catalog.Repository { return NewCatalogRepository(u.db) }

func (u unit) Stock() stock.Store { return NewStockRepository(u.db) }

func (u unit) Coupons() coupon.Repository { return NewCouponRepository(u.db) }
