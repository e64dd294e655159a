package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

const orderColumns = `id, customer_id, vendor_id, total, currency, payment_status, refund_status, created_at, updated_at`

func (r *OrderRepository) Create(ctx context.Context, entity *OrderEntity) (*OrderEntity, error) {
	query := `INSERT INTO orders (` + orderColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`
	err := r.pool.QueryRow(ctx, query,
		entity.ID, entity.CustomerID, entity.VendorID, entity.Total, entity.Currency,
		entity.PaymentStatus, entity.RefundStatus, entity.CreatedAt, entity.UpdatedAt,
	).Scan(&entity.ID)
	if err != nil {
		return nil, errors.Wrap(err, "inserting order")
	}
	return entity, nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*OrderEntity, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	var entity OrderEntity
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&entity.ID, &entity.CustomerID, &entity.VendorID, &entity.Total, &entity.Currency,
		&entity.PaymentStatus, &entity.RefundStatus, &entity.CreatedAt, &entity.UpdatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "fetching order")
	}
	return &entity, nil
}

func (r *OrderRepository) UpdatePaymentStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error {
	query := `UPDATE orders SET payment_status = $2, updated_at = now() WHERE id = $1`
	_, err := tx.Exec(ctx, query, id, status)
	return errors.Wrap(err, "updating order payment status")
}

func (r *OrderRepository) UpdateRefundStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error {
	query := `UPDATE orders SET refund_status = $2, updated_at = now() WHERE id = $1`
	_, err := tx.Exec(ctx, query, id, status)
	return errors.Wrap(err, "updating order refund status")
}
