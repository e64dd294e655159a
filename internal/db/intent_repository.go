package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"payment-service/internal/payment"
)

type IntentRepository struct {
	pool *pgxpool.Pool
}

func NewIntentRepository(pool *pgxpool.Pool) *IntentRepository {
	return &IntentRepository{pool: pool}
}

func (r *IntentRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const intentColumns = `id, provider_ref, amount, currency, status, method, order_id, customer_id,
	vendor_id, items, fail_reason, created_at, expires_at, confirmed_at`

func (r *IntentRepository) Create(ctx context.Context, entity *PaymentIntentEntity) (*PaymentIntentEntity, error) {
	query := `INSERT INTO payment_intent (` + intentColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14) RETURNING id`
	err := r.pool.QueryRow(ctx, query,
		entity.ID, entity.ProviderRef, entity.Amount, entity.Currency, entity.Status, entity.Method,
		entity.OrderID, entity.CustomerID, entity.VendorID, entity.Items, entity.FailReason,
		entity.CreatedAt, entity.ExpiresAt, entity.ConfirmedAt,
	).Scan(&entity.ID)
	if err != nil {
		return nil, errors.Wrap(err, "inserting payment intent")
	}
	return entity, nil
}

func (r *IntentRepository) GetByID(ctx context.Context, id uuid.UUID) (*PaymentIntentEntity, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intent WHERE id = $1`
	return r.scanIntent(r.pool.QueryRow(ctx, query, id))
}

func (r *IntentRepository) GetByProviderRef(ctx context.Context, providerRef string) (*PaymentIntentEntity, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intent WHERE provider_ref = $1`
	return r.scanIntent(r.pool.QueryRow(ctx, query, providerRef))
}

func (r *IntentRepository) SelectForUpdateByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*PaymentIntentEntity, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intent WHERE id = $1 FOR UPDATE`
	return r.scanIntent(tx.QueryRow(ctx, query, id))
}

// MarkTerminal transitions an intent into an absorbing status, but only if it
// is still pending or processing. The guard makes concurrent confirmations and
// duplicate webhook deliveries race safely: exactly one caller sees true.
func (r *IntentRepository) MarkTerminal(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string, failReason *string, confirmedAt *time.Time) (bool, error) {
	query := `UPDATE payment_intent
	          SET status = $2, fail_reason = $3, confirmed_at = $4
	          WHERE id = $1 AND status IN ('pending', 'processing')`
	tag, err := tx.Exec(ctx, query, id, status, failReason, confirmedAt)
	if err != nil {
		return false, errors.Wrap(err, "updating payment intent status")
	}
	return tag.RowsAffected() == 1, nil
}

// GetOverdue returns non-terminal intents whose expiry window has passed.
func (r *IntentRepository) GetOverdue(ctx context.Context, now time.Time, limit int) ([]*PaymentIntentEntity, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intent
	          WHERE status IN ('pending', 'processing') AND expires_at IS NOT NULL AND expires_at <= $1
	          ORDER BY expires_at ASC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "fetching overdue intents")
	}
	defer rows.Close()

	var result []*PaymentIntentEntity
	for rows.Next() {
		entity, err := r.scanIntent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, entity)
	}
	return result, rows.Err()
}

func (r *IntentRepository) scanIntent(row pgx.Row) (*PaymentIntentEntity, error) {
	var entity PaymentIntentEntity
	err := row.Scan(
		&entity.ID, &entity.ProviderRef, &entity.Amount, &entity.Currency, &entity.Status,
		&entity.Method, &entity.OrderID, &entity.CustomerID, &entity.VendorID, &entity.Items,
		&entity.FailReason, &entity.CreatedAt, &entity.ExpiresAt, &entity.ConfirmedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, payment.ErrPaymentNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scanning payment intent")
	}
	return &entity, nil
}
