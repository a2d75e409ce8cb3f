// Command coupon-import bulk loads coupon codes from gzip files, one code per
// line. Every imported code gets the discount rules given on the command line.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/sales-core/internal/couponimport"
	"github.com/xenking/sales-core/internal/domain/coupon"
	"github.com/xenking/sales-core/internal/repository"
)

type flags struct {
	databaseURL string
	pattern     string

	kind        string
	value       string
	minPurchase string
	maxDiscount string
	usageLimit  int
	validDays   int
	description string

	capacity  uint
	batchSize int
}

func main() {
	var f flags
	flag.StringVar(&f.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&f.pattern, "files", "data/coupons*.gz", "glob of gzip files with one code per line")
	flag.StringVar(&f.kind, "kind", string(coupon.KindPercentage), "discount kind: percentage or fixed")
	flag.StringVar(&f.value, "value", "10", "discount value (percent or amount)")
	flag.StringVar(&f.minPurchase, "min-purchase", "0", "minimum subtotal required")
	flag.StringVar(&f.maxDiscount, "max-discount", "", "cap for percentage discounts (empty for none)")
	flag.IntVar(&f.usageLimit, "usage-limit", 1, "redemptions allowed per code (0 for unlimited)")
	flag.IntVar(&f.validDays, "valid-days", 365, "days the codes stay valid from today")
	flag.StringVar(&f.description, "description", "Imported promo code", "coupon description")
	flag.UintVar(&f.capacity, "capacity", 0, "expected number of distinct codes (0 for default)")
	flag.IntVar(&f.batchSize, "batch-size", 0, "rows per COPY batch (0 for default)")
	flag.Parse()

	lg, _ := zap.NewDevelopment()
	defer func() { _ = lg.Sync() }()

	if f.databaseURL == "" {
		f.databaseURL = os.Getenv("DATABASE_URL")
	}
	if f.databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, f); err != nil {
		lg.Fatal("Coupon import failed", zap.Error(err))
	}
}

func (f flags) template(now time.Time) (coupon.Coupon, error) {
	kind := coupon.Kind(f.kind)
	if !kind.Valid() {
		return coupon.Coupon{}, errors.Errorf("unknown kind %q", f.kind)
	}
	value, err := decimal.NewFromString(f.value)
	if err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "parse value")
	}
	minPurchase, err := decimal.NewFromString(f.minPurchase)
	if err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "parse min purchase")
	}
	var maxDiscount decimal.NullDecimal
	if f.maxDiscount != "" {
		d, err := decimal.NewFromString(f.maxDiscount)
		if err != nil {
			return coupon.Coupon{}, errors.Wrap(err, "parse max discount")
		}
		maxDiscount = decimal.NewNullDecimal(d)
	}

	start := now.UTC().Truncate(24 * time.Hour)
	return coupon.Coupon{
		Description: f.description,
		Kind:        kind,
		Value:       value,
		MinPurchase: minPurchase,
		MaxDiscount: maxDiscount,
		UsageLimit:  f.usageLimit,
		ValidFrom:   start,
		ValidUntil:  start.AddDate(0, 0, f.validDays),
		Active:      true,
	}, nil
}

func run(ctx context.Context, lg *zap.Logger, f flags) error {
	tmpl, err := f.template(time.Now())
	if err != nil {
		return err
	}
	files, err := filepath.Glob(f.pattern)
	if err != nil {
		return errors.Wrap(err, "match files")
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %q", f.pattern)
	}

	pool, err := repository.NewPool(ctx, f.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	lg.Info("Importing coupons", zap.Strings("files", files), zap.String("kind", f.kind), zap.String("value", f.value))
	start := time.Now()

	imp := couponimport.New(repository.NewCouponImporter(pool), tmpl, couponimport.Options{
		Capacity:  f.capacity,
		BatchSize: f.batchSize,
		Logger:    lg,
	})
	st, err := imp.Run(ctx, files)
	lg.Info("Import finished",
		zap.Int64("read", st.Read),
		zap.Int64("copied", st.Copied),
		zap.Int64("inserted", st.Inserted),
		zap.Int64("skipped", st.Skipped),
		zap.Int64("rejected", st.Rejected),
		zap.Duration("took", time.Since(start)),
	)
	return err
}
