package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type RefundRepository struct {
	pool *pgxpool.Pool
}

func NewRefundRepository(pool *pgxpool.Pool) *RefundRepository {
	return &RefundRepository{pool: pool}
}

func (r *RefundRepository) Create(ctx context.Context, tx pgx.Tx, entity *RefundRecordEntity) error {
	query := `INSERT INTO refund_record (id, payment_id, refund_ref, amount, reason, status, method, processed_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := tx.Exec(ctx, query,
		entity.ID, entity.PaymentID, entity.RefundRef, entity.Amount, entity.Reason,
		entity.Status, entity.Method, entity.ProcessedAt,
	)
	return errors.Wrap(err, "inserting refund record")
}

// SumByPaymentID totals prior refunds for a payment. Called with the intent
// row already locked, so concurrent refunds of the same payment serialize.
func (r *RefundRepository) SumByPaymentID(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM refund_record WHERE payment_id = $1`
	var sum decimal.Decimal
	if err := tx.QueryRow(ctx, query, paymentID).Scan(&sum); err != nil {
		return decimal.Zero, errors.Wrap(err, "summing refunds")
	}
	return sum, nil
}

func (r *RefundRepository) GetByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]*RefundRecordEntity, error) {
	query := `SELECT id, payment_id, refund_ref, amount, reason, status, method, processed_at
	          FROM refund_record WHERE payment_id = $1 ORDER BY processed_at ASC`
	rows, err := r.pool.Query(ctx, query, paymentID)
	if err != nil {
		return nil, errors.Wrap(err, "fetching refund records")
	}
	defer rows.Close()

	var result []*RefundRecordEntity
	for rows.Next() {
		var entity RefundRecordEntity
		err := rows.Scan(
			&entity.ID, &entity.PaymentID, &entity.RefundRef, &entity.Amount, &entity.Reason,
			&entity.Status, &entity.Method, &entity.ProcessedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "scanning refund record")
		}
		result = append(result, &entity)
	}
	return result, rows.Err()
}
