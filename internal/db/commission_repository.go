package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type CommissionRepository struct {
	pool *pgxpool.Pool
}

func NewCommissionRepository(pool *pgxpool.Pool) *CommissionRepository {
	return &CommissionRepository{pool: pool}
}

// Create inserts the settlement breakdown for an order. The unique index on
// order_id backs up the orchestrator's idempotency guard.
func (r *CommissionRepository) Create(ctx context.Context, tx pgx.Tx, entity *CommissionRecordEntity) error {
	query := `INSERT INTO commission_record (id, order_id, vendor_id, platform_fee, processing_fee, vendor_net, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := tx.Exec(ctx, query,
		entity.ID, entity.OrderID, entity.VendorID, entity.PlatformFee,
		entity.ProcessingFee, entity.VendorNet, entity.CreatedAt,
	)
	return errors.Wrap(err, "inserting commission record")
}

func (r *CommissionRepository) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*CommissionRecordEntity, error) {
	query := `SELECT id, order_id, vendor_id, platform_fee, processing_fee, vendor_net, created_at
	          FROM commission_record WHERE order_id = $1`
	var entity CommissionRecordEntity
	err := r.pool.QueryRow(ctx, query, orderID).Scan(
		&entity.ID, &entity.OrderID, &entity.VendorID, &entity.PlatformFee,
		&entity.ProcessingFee, &entity.VendorNet, &entity.CreatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "fetching commission record")
	}
	return &entity, nil
}

func (r *CommissionRepository) CountByOrderID(ctx context.Context, orderID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM commission_record WHERE order_id = $1`, orderID).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "counting commission records")
	}
	return count, nil
}
