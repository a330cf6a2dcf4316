// Command coupon-import bulk loads coupons from a gzip-compressed CSV file:
//
//	code,discount_type,value,min_order,max_uses,valid_from,valid_until[,merchant_id]
//
// Codes repeated within the file are imported once (first occurrence wins).
// Existing codes are updated in place, keeping their usage counters.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/repository"
)

func main() {
	var (
		file        string
		databaseURL string
		batchSize   int
		workers     int
		dryRun      bool
	)
	flag.StringVar(&file, "file", "coupons.csv.gz", "gzip-compressed CSV file to import")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&batchSize, "batch-size", 500, "coupons per upsert batch")
	flag.IntVar(&workers, "workers", 4, "concurrent upsert batches")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and validate only, write nothing")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, file, databaseURL, batchSize, workers, dryRun); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

type discardSink struct{}

func (discardSink) UpsertBatch(context.Context, []coupon.Coupon) error { return nil }

func run(ctx context.Context, file, databaseURL string, batchSize, workers int, dryRun bool) error {
	if _, err := os.Stat(file); err != nil {
		return errors.Wrapf(err, "check file %s", file)
	}

	var sink batchSink = discardSink{}
	if !dryRun {
		pool, err := repository.NewPool(ctx, databaseURL)
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		defer pool.Close()
		sink = repository.NewCouponRepository(repository.NewDB(pool))
	}

	im := &importer{
		sink:      sink,
		batchSize: batchSize,
		workers:   workers,
		now:       time.Now,
	}
	st, err := im.Run(ctx, file)
	slog.Info("coupon import finished",
		slog.Int64("rows", st.Rows),
		slog.Int64("imported", st.Imported),
		slog.Int64("duplicates", st.Duplicates),
		slog.Int64("invalid", st.Invalid),
		slog.Bool("dry_run", dryRun),
	)
	return err
}
