//go:build integration

package repository

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/domain/merchant"
	"github.com/xenking/marketplace/internal/domain/order"
	"github.com/xenking/marketplace/internal/domain/pricing"
	"github.com/xenking/marketplace/internal/seed"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "marketplace",
				"POSTGRES_PASSWORD": "marketplace",
				"POSTGRES_DB":       "marketplace",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := container.Terminate(context.Background()); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://marketplace:marketplace@%s:%s/marketplace?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	if _, err := testPool.Exec(ctx, `INSERT INTO merchants (id, name, commission_rate) VALUES ('m1', 'Diner', 0.10)`); err != nil {
		log.Fatalf("seed merchant: %v", err)
	}
	if _, err := testPool.Exec(ctx, `INSERT INTO products (id, merchant_id, name, price, available)
		VALUES ('burger', 'm1', 'Burger', 10.00, TRUE), ('soup', 'm1', 'Soup', 6.00, FALSE)`); err != nil {
		log.Fatalf("seed products: %v", err)
	}

	return m.Run()
}

func newTestCoupon(t *testing.T, repo *CouponRepository, mutate func(*coupon.Coupon)) *coupon.Coupon {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	c := &coupon.Coupon{
		ID:                 uuid.NewString(),
		Code:               "T" + uuid.NewString()[:8],
		DiscountType:       coupon.DiscountPercentage,
		DiscountValue:      decimal.RequireFromString("20"),
		MaxDiscountAmount:  decimal.NewNullDecimal(decimal.RequireFromString("10")),
		MinOrderAmount:     decimal.RequireFromString("15"),
		MaxUsesPerUser:     1,
		ValidFrom:          now.Add(-time.Hour),
		ValidUntil:         now.Add(time.Hour),
		IsActive:           true,
		TotalDiscountGiven: decimal.Zero,
		CreatedAt:          now,
	}
	if mutate != nil {
		mutate(c)
	}
	require.NoError(t, repo.Create(context.Background(), c))
	return c
}

func TestCouponRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewCouponRepository(NewDB(testPool))
	c := newTestCoupon(t, repo, func(c *coupon.Coupon) { c.MerchantID = "m1"; c.MaxUses = 5 })

	got, err := repo.FindByCode(ctx, c.Code)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, "m1", got.MerchantID)
	assert.Equal(t, 5, got.MaxUses)
	assert.True(t, got.MaxDiscountAmount.Valid)
	assert.True(t, got.MaxDiscountAmount.Decimal.Equal(decimal.RequireFromString("10")))
	assert.True(t, got.ValidFrom.Equal(c.ValidFrom))

	err = repo.Create(ctx, c)
	require.ErrorIs(t, err, coupon.ErrDuplicateCode)

	_, err = repo.FindByCode(ctx, "DOES-NOT-EXIST")
	require.ErrorIs(t, err, coupon.ErrNotFound)
}

func TestCouponRepository_RecordUsageIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewCouponRepository(NewDB(testPool))
	c := newTestCoupon(t, repo, nil)

	u := coupon.Usage{
		ID: uuid.NewString(), CouponID: c.ID, OrderID: "order-1", UserID: "u1",
		DiscountAmount: decimal.RequireFromString("4.50"), CreatedAt: time.Now(),
	}
	ok, err := repo.RecordUsage(ctx, u)
	require.NoError(t, err)
	assert.True(t, ok)

	u.ID = uuid.NewString()
	ok, err = repo.RecordUsage(ctx, u)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.FindByCode(ctx, c.Code)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TimesUsed)
	assert.Equal(t, "4.50", got.TotalDiscountGiven.StringFixed(2))

	n, err := repo.CountUserUsage(ctx, c.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	u.ID, u.OrderID = uuid.NewString(), "order-2"
	_, err = repo.RecordUsage(ctx, u)
	require.ErrorIs(t, err, coupon.ErrUserLimitReached)
}

func TestCouponRepository_ConcurrentRedemptions(t *testing.T) {
	ctx := context.Background()
	repo := NewCouponRepository(NewDB(testPool))
	c := newTestCoupon(t, repo, func(c *coupon.Coupon) { c.MaxUses = 5; c.MaxUsesPerUser = 0 })

	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
	)
	for i := range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.RecordUsage(ctx, coupon.Usage{
				ID: uuid.NewString(), CouponID: c.ID, OrderID: fmt.Sprintf("order-%d", i),
				DiscountAmount: decimal.RequireFromString("1"), CreatedAt: time.Now(),
			})
			if err == nil && ok {
				accepted.Add(1)
			} else if err != nil {
				assert.ErrorIs(t, err, coupon.ErrFullyUsed)
			}
		}()
	}
	wg.Wait()

	got, err := repo.FindByCode(ctx, c.Code)
	require.NoError(t, err)
	assert.EqualValues(t, 5, accepted.Load())
	assert.Equal(t, 5, got.TimesUsed)
}

func TestCouponRepository_Retire(t *testing.T) {
	ctx := context.Background()
	repo := NewCouponRepository(NewDB(testPool))

	unused := newTestCoupon(t, repo, nil)
	deleted, err := repo.DeleteUnused(ctx, unused.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	used := newTestCoupon(t, repo, nil)
	_, err = repo.RecordUsage(ctx, coupon.Usage{
		ID: uuid.NewString(), CouponID: used.ID, OrderID: "o", DiscountAmount: decimal.Zero, CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	deleted, err = repo.DeleteUnused(ctx, used.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
	require.NoError(t, repo.Deactivate(ctx, used.ID))

	got, err := repo.FindByCode(ctx, used.Code)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestCouponRepository_UpsertBatch(t *testing.T) {
	ctx := context.Background()
	repo := NewCouponRepository(NewDB(testPool))
	existing := newTestCoupon(t, repo, nil)

	now := time.Now().UTC()
	updated := *existing
	updated.ID = uuid.NewString()
	updated.DiscountValue = decimal.RequireFromString("30")
	fresh := coupon.Coupon{
		ID: uuid.NewString(), Code: "BATCH" + uuid.NewString()[:6], DiscountType: coupon.DiscountFixedAmount,
		DiscountValue: decimal.RequireFromString("5"), MinOrderAmount: decimal.Zero, MaxUsesPerUser: 1,
		ValidFrom: now, ValidUntil: now.Add(time.Hour), IsActive: true, TotalDiscountGiven: decimal.Zero, CreatedAt: now,
	}
	require.NoError(t, repo.UpsertBatch(ctx, []coupon.Coupon{updated, fresh}))

	got, err := repo.FindByCode(ctx, existing.Code)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, got.ID)
	assert.Equal(t, "30.00", got.DiscountValue.StringFixed(2))

	_, err = repo.FindByCode(ctx, fresh.Code)
	require.NoError(t, err)
}

func TestMerchantAndProductRepositories(t *testing.T) {
	ctx := context.Background()
	db := NewDB(testPool)

	m, err := NewMerchantRepository(db).GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "0.10", m.CommissionRate.StringFixed(2))
	assert.True(t, m.Active)

	_, err = NewMerchantRepository(db).GetByID(ctx, "nope")
	require.ErrorIs(t, err, merchant.ErrNotFound)

	products, err := NewProductRepository(db).GetByIDs(ctx, []string{"burger", "soup", "ghost"})
	require.NoError(t, err)
	require.Len(t, products, 2)
}

func TestSeedDemoData(t *testing.T) {
	ctx := context.Background()
	db := NewDB(testPool)
	data := seed.Demo(time.Now())

	for range 2 {
		for _, m := range data.Merchants {
			require.NoError(t, NewMerchantRepository(db).Upsert(ctx, m))
		}
		for _, p := range data.Products {
			require.NoError(t, NewProductRepository(db).Upsert(ctx, p))
		}
		require.NoError(t, NewCouponRepository(db).UpsertBatch(ctx, data.Coupons))
	}

	m, err := NewMerchantRepository(db).GetByID(ctx, "m-closed-cafe")
	require.NoError(t, err)
	assert.False(t, m.Active)

	c, err := NewCouponRepository(db).FindByCode(ctx, "welcome10")
	require.NoError(t, err)
	require.True(t, c.MaxDiscountAmount.Valid)
	assert.Equal(t, "5.00", c.MaxDiscountAmount.Decimal.StringFixed(2))
}

func newTestOrder(now time.Time) *order.Order {
	return &order.Order{
		ID:               uuid.NewString(),
		OrderNumber:      "ORD-TEST-" + uuid.NewString()[:8],
		MerchantID:       "m1",
		OrderType:        pricing.DineIn,
		Items:            []order.Item{{ProductID: "burger", Name: "Burger", UnitPrice: decimal.RequireFromString("10.00"), Quantity: 2}},
		Subtotal:         decimal.RequireFromString("20.00"),
		TaxAmount:        decimal.RequireFromString("2.00"),
		Total:            decimal.RequireFromString("22.00"),
		CommissionRate:   decimal.RequireFromString("0.10"),
		CommissionAmount: decimal.RequireFromString("2.20"),
		MerchantPayout:   decimal.RequireFromString("19.80"),
		Status:           order.StatusPending,
		PaymentStatus:    order.PaymentPending,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestOrderRepository_CreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(NewDB(testPool))
	now := time.Now().UTC().Truncate(time.Microsecond)
	o := newTestOrder(now)

	require.NoError(t, repo.Create(ctx, o))

	got, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.OrderNumber, got.OrderNumber)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Burger", got.Items[0].Name)
	assert.Equal(t, "22.00", got.Total.StringFixed(2))
	assert.Nil(t, got.ConfirmedAt)

	got.Status = order.StatusConfirmed
	got.ConfirmedAt = &now
	got.Version = 2
	require.NoError(t, repo.Update(ctx, got, 1))

	stale := *got
	stale.Version = 2
	require.ErrorIs(t, repo.Update(ctx, &stale, 1), order.ErrConflict)

	_, err = repo.GetByID(ctx, uuid.NewString())
	require.ErrorIs(t, err, order.ErrNotFound)
	require.ErrorIs(t, repo.Update(ctx, newTestOrder(now), 1), order.ErrNotFound)
}

func TestOrderRepository_NextNumber(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(NewDB(testPool))
	day := time.Date(2030, 1, 1, 15, 0, 0, 0, time.UTC)

	first, err := repo.NextNumber(ctx, day)
	require.NoError(t, err)
	second, err := repo.NextNumber(ctx, day.Add(time.Hour))
	require.NoError(t, err)
	other, err := repo.NextNumber(ctx, day.AddDate(0, 0, 1))
	require.NoError(t, err)

	assert.EqualValues(t, 1, first)
	assert.EqualValues(t, 2, second)
	assert.EqualValues(t, 1, other)
}

func TestDB_WithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	db := NewDB(testPool)
	repo := NewOrderRepository(db)
	o := newTestOrder(time.Now().UTC())

	err := db.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, repo.Create(ctx, o))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	_, err = repo.GetByID(ctx, o.ID)
	require.ErrorIs(t, err, order.ErrNotFound)
}
