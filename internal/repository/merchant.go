package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/marketplace/internal/domain/merchant"
)

const (
	getMerchantSQL = `SELECT id, name, commission_rate, active FROM merchants WHERE id = $1`

	upsertMerchantSQL = `INSERT INTO merchants (id, name, commission_rate, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			commission_rate = EXCLUDED.commission_rate,
			active = EXCLUDED.active`
)

var _ merchant.Repository = (*MerchantRepository)(nil)

// MerchantRepository implements merchant.Repository backed by PostgreSQL.
type MerchantRepository struct {
	db *DB
}

// NewMerchantRepository returns a MerchantRepository.
func NewMerchantRepository(db *DB) *MerchantRepository {
	return &MerchantRepository{db: db}
}

// GetByID returns the merchant or merchant.ErrNotFound.
func (r *MerchantRepository) GetByID(ctx context.Context, id string) (*merchant.Merchant, error) {
	var m merchant.Merchant
	err := r.db.conn(ctx).QueryRow(ctx, getMerchantSQL, id).Scan(&m.ID, &m.Name, &m.CommissionRate, &m.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, merchant.ErrNotFound
		}
		return nil, fmt.Errorf("getting merchant %q: %w", id, err)
	}
	return &m, nil
}

// Upsert inserts the merchant or overwrites an existing one with the same ID.
func (r *MerchantRepository) Upsert(ctx context.Context, m merchant.Merchant) error {
	if _, err := r.db.conn(ctx).Exec(ctx, upsertMerchantSQL, m.ID, m.Name, m.CommissionRate, m.Active); err != nil {
		return fmt.Errorf("upserting merchant %q: %w", m.ID, err)
	}
	return nil
}
