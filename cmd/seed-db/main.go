package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/sales-core/internal/domain/auth"
	"github.com/xenking/sales-core/internal/domain/catalog"
	"github.com/xenking/sales-core/internal/domain/coupon"
	"github.com/xenking/sales-core/internal/repository"
)

type seedFile struct {
	Store struct {
		Name string `json:"name"`
		Slug string `json:"slug"`
	} `json:"store"`
	Products []struct {
		Name     string `json:"name"`
		Variants []struct {
			SKU   string          `json:"sku"`
			Price decimal.Decimal `json:"price"`
			Stock int             `json:"stock"`
		} `json:"variants"`
	} `json:"products"`
	Coupons []struct {
		Code        string              `json:"code"`
		Description string              `json:"description"`
		Kind        coupon.Kind         `json:"kind"`
		Value       decimal.Decimal     `json:"value"`
		MinPurchase decimal.Decimal     `json:"min_purchase"`
		MaxDiscount decimal.NullDecimal `json:"max_discount"`
		UsageLimit  int                 `json:"usage_limit"`
		ValidDays   int                 `json:"valid_days"`
	} `json:"coupons"`
}

func main() {
	var (
		databaseURL  string
		seedPath     string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "db/seed/catalog.json", "path to the catalog seed JSON file")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or SALES_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SALES_API_KEY_PEPPER env)")
	flag.Parse()

	lg, _ := zap.NewDevelopment()
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if apiKey == "" {
		apiKey = os.Getenv("SALES_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("SALES_API_KEY_PEPPER")
	}
	switch {
	case databaseURL == "":
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	case apiKey == "":
		lg.Fatal("API key is required: set --api-key or SALES_SEED_API_KEY")
	case apiKeyPepper == "":
		lg.Fatal("API key pepper is required: set --api-key-pepper or SALES_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, seedPath, apiKey, apiKeyPepper); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, seedPath, apiKey, pepper string) error {
	data, err := os.ReadFile(seedPath)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse seed file")
	}

	lg.Info("Connecting to database")
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	seeder := repository.NewSeeder(pool)

	storeID, err := seeder.UpsertStore(ctx, seed.Store.Name, seed.Store.Slug)
	if err != nil {
		return err
	}
	lg.Info("Upserted store", zap.Int64("id", storeID), zap.String("slug", seed.Store.Slug))

	for _, p := range seed.Products {
		productID, err := seeder.UpsertProduct(ctx, catalog.Product{
			StoreID:     storeID,
			Name:        p.Name,
			HasVariants: len(p.Variants) > 1,
			Active:      true,
		})
		if err != nil {
			return err
		}
		for _, v := range p.Variants {
			if _, err := seeder.UpsertVariant(ctx, catalog.Variant{
				ProductID: productID,
				SKU:       v.SKU,
				Price:     v.Price,
				Stock:     v.Stock,
				Active:    true,
			}); err != nil {
				return err
			}
		}
		lg.Info("Upserted product", zap.Int64("id", productID), zap.String("name", p.Name), zap.Int("variants", len(p.Variants)))
	}

	now := time.Now().UTC().Truncate(24 * time.Hour)
	for _, c := range seed.Coupons {
		if !c.Kind.Valid() {
			return errors.Errorf("coupon %s: unknown kind %q", c.Code, c.Kind)
		}
		id, err := seeder.UpsertCoupon(ctx, coupon.Coupon{
			Code:        c.Code,
			Description: c.Description,
			Kind:        c.Kind,
			Value:       c.Value,
			MinPurchase: c.MinPurchase,
			MaxDiscount: c.MaxDiscount,
			UsageLimit:  c.UsageLimit,
			ValidFrom:   now,
			ValidUntil:  now.AddDate(0, 0, c.ValidDays),
			Active:      true,
		})
		if err != nil {
			return err
		}
		lg.Info("Upserted coupon", zap.Int64("id", id), zap.String("code", c.Code))
	}

	keyID, err := seeder.UpsertAPIKey(ctx, storeID, "Default key", auth.HashKey([]byte(pepper), apiKey), []string{
		auth.ScopeOrdersRead, auth.ScopeOrdersWrite, auth.ScopeCoupons,
	})
	if err != nil {
		return err
	}
	lg.Info("Upserted API key", zap.Int64("id", keyID), zap.Int64("store_id", storeID))
	return nil
}
