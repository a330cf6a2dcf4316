// Command seed-db loads the demo merchants, products and coupons into
// PostgreSQL. It is idempotent.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/marketplace/internal/repository"
	"github.com/xenking/marketplace/internal/seed"
)

func main() {
	var databaseURL string
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL string) error {
	slog.Info("connecting to database")
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")
	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	db := repository.NewDB(pool)
	data := seed.Demo(time.Now())

	return db.WithinTx(ctx, func(ctx context.Context) error {
		merchants := repository.NewMerchantRepository(db)
		for _, m := range data.Merchants {
			if err := merchants.Upsert(ctx, m); err != nil {
				return err
			}
			slog.Info("upserted merchant", slog.String("id", m.ID), slog.Bool("active", m.Active))
		}

		products := repository.NewProductRepository(db)
		for _, p := range data.Products {
			if err := products.Upsert(ctx, p); err != nil {
				return err
			}
		}
		slog.Info("upserted products", slog.Int("count", len(data.Products)))

		if err := repository.NewCouponRepository(db).UpsertBatch(ctx, data.Coupons); err != nil {
			return errors.Wrap(err, "seed coupons")
		}
		for _, c := range data.Coupons {
			slog.Info("upserted coupon", slog.String("code", c.Code), slog.String("type", string(c.DiscountType)))
		}
		return nil
	})
}
