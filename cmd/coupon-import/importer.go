package main

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/marketplace/internal/domain/coupon"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 100_000
)

// CSV columns.
const (
	colCode = iota
	colType
	colValue
	colMinOrder
	colMaxUses
	colValidFrom
	colValidUntil
	colMerchant
	minColumns = colValidUntil + 1
)

type batchSink interface {
	UpsertBatch(ctx context.Context, coupons []coupon.Coupon) error
}

type stats struct {
	Rows       int64
	Imported   int64
	Duplicates int64
	Invalid    int64
}

type importer struct {
	sink      batchSink
	batchSize int
	workers   int
	now       func() time.Time
}

// Run imports path in two passes. The first pass feeds every code through a
// bloom filter and remembers the codes that hit it; only those can be
// repeated. The second pass confirms repeats exactly against that small set
// while parsing, validating and upserting batches concurrently.
func (im *importer) Run(ctx context.Context, path string) (stats, error) {
	suspects, err := im.findSuspects(ctx, path)
	if err != nil {
		return stats{}, errors.Wrap(err, "pass 1")
	}
	slog.Info("pass 1 complete", slog.Int("possible_duplicates", len(suspects)))

	st, err := im.load(ctx, path, suspects)
	if err != nil {
		return st, errors.Wrap(err, "pass 2")
	}
	return st, nil
}

func (im *importer) findSuspects(ctx context.Context, path string) (map[string]struct{}, error) {
	filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
	suspects := make(map[string]struct{})

	err := streamCSV(ctx, path, func(_ int64, rec []string) error {
		code := coupon.NormalizeCode(rec[colCode])
		if filter.TestOrAddString(code) {
			suspects[code] = struct{}{}
		}
		return nil
	})
	return suspects, err
}

func (im *importer) load(ctx context.Context, path string, suspects map[string]struct{}) (stats, error) {
	var (
		st       stats
		imported atomic.Int64
		seen     = make(map[string]struct{}, len(suspects))
		batch    = make([]coupon.Coupon, 0, im.batchSize)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(im.workers, 1))
	flush := func() {
		if len(batch) == 0 {
			return
		}
		b := batch
		batch = make([]coupon.Coupon, 0, im.batchSize)
		g.Go(func() error {
			if err := im.sink.UpsertBatch(gctx, b); err != nil {
				return errors.Wrapf(err, "upsert batch starting at %s", b[0].Code)
			}
			imported.Add(int64(len(b)))
			return nil
		})
	}

	now := im.now().UTC()
	err := streamCSV(gctx, path, func(line int64, rec []string) error {
		st.Rows++
		if st.Rows%progressEvery == 0 {
			slog.Info("pass 2 progress", slog.Int64("rows", st.Rows))
		}

		code := coupon.NormalizeCode(rec[colCode])
		if _, ok := suspects[code]; ok {
			if _, dup := seen[code]; dup {
				st.Duplicates++
				return nil
			}
			seen[code] = struct{}{}
		}

		c, err := parseRecord(rec, now)
		if err != nil {
			st.Invalid++
			slog.Warn("skipping invalid row", slog.Int64("line", line), slog.String("code", code), slog.String("error", err.Error()))
			return nil
		}
		batch = append(batch, c)
		if len(batch) >= im.batchSize {
			flush()
		}
		return nil
	})
	if err == nil {
		flush()
	}
	if werr := g.Wait(); err == nil {
		err = werr
	}
	st.Imported = imported.Load()
	return st, err
}

// parseRecord turns a CSV record into a coupon and applies the same rules
// as coupon creation through the API.
func parseRecord(rec []string, now time.Time) (coupon.Coupon, error) {
	field := func(i int) string {
		if i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	c := coupon.Coupon{
		ID:                 uuid.NewString(),
		Code:               coupon.NormalizeCode(field(colCode)),
		MerchantID:         field(colMerchant),
		DiscountType:       coupon.DiscountType(strings.ToLower(field(colType))),
		MaxUsesPerUser:     1,
		ValidFrom:          now,
		IsActive:           true,
		TotalDiscountGiven: decimal.Zero,
		CreatedAt:          now,
	}

	var err error
	if c.DiscountValue, err = decimal.NewFromString(field(colValue)); err != nil {
		return c, errors.Wrap(err, "value")
	}
	c.MinOrderAmount = decimal.Zero
	if v := field(colMinOrder); v != "" {
		if c.MinOrderAmount, err = decimal.NewFromString(v); err != nil {
			return c, errors.Wrap(err, "min_order")
		}
	}
	if v := field(colMaxUses); v != "" {
		if c.MaxUses, err = strconv.Atoi(v); err != nil {
			return c, errors.Wrap(err, "max_uses")
		}
	}
	if v := field(colValidFrom); v != "" {
		if c.ValidFrom, err = parseTime(v); err != nil {
			return c, errors.Wrap(err, "valid_from")
		}
	}
	if v := field(colValidUntil); v != "" {
		if c.ValidUntil, err = parseTime(v); err != nil {
			return c, errors.Wrap(err, "valid_until")
		}
	}

	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// parseTime accepts RFC 3339 timestamps and plain dates (midnight UTC).
func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, v)
}

// streamCSV calls fn for every data record of the gzip-compressed CSV file,
// skipping an optional header row.
func streamCSV(ctx context.Context, path string, fn func(line int64, rec []string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	r := csv.NewReader(gz)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	var line int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		line++
		if err != nil {
			return errors.Wrapf(err, "read line %d", line)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[colCode]), "code") {
			continue
		}
		if len(rec) < minColumns {
			slog.Warn("skipping short row", slog.Int64("line", line), slog.Int("columns", len(rec)))
			continue
		}
		if err := fn(line, rec); err != nil {
			return err
		}
	}
}
