package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// EventRepository is the payment event outbox. Rows are written in the same
// transaction as the state change they describe and published asynchronously.
type EventRepository struct {
	pool *pgxpool.Pool
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

func (r *EventRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const eventColumns = `id, payment_id, event_type, payload, created_at, scheduled_at, published_at, publish_attempts, error`

func (r *EventRepository) Create(ctx context.Context, tx pgx.Tx, entity *PaymentEventEntity) error {
	query := `INSERT INTO payment_event (` + eventColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := tx.Exec(ctx, query,
		entity.ID, entity.PaymentID, entity.EventType, entity.Payload, entity.CreatedAt,
		entity.ScheduledAt, entity.PublishedAt, entity.PublishAttempts, entity.Error,
	)
	return errors.Wrap(err, "inserting payment event")
}

// GetUnpublished fetches due outbox rows and locks them for the polling run.
// SKIP LOCKED lets concurrent instances drain disjoint batches.
func (r *EventRepository) GetUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]*PaymentEventEntity, error) {
	query := `SELECT ` + eventColumns + ` FROM payment_event
	          WHERE published_at IS NULL AND scheduled_at IS NOT NULL AND scheduled_at <= now()
	          ORDER BY scheduled_at ASC LIMIT $1
	          FOR UPDATE SKIP LOCKED`
	rows, err := tx.Query(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "fetching unpublished events")
	}
	defer rows.Close()

	var result []*PaymentEventEntity
	for rows.Next() {
		var entity PaymentEventEntity
		err := rows.Scan(
			&entity.ID, &entity.PaymentID, &entity.EventType, &entity.Payload, &entity.CreatedAt,
			&entity.ScheduledAt, &entity.PublishedAt, &entity.PublishAttempts, &entity.Error,
		)
		if err != nil {
			return nil, errors.Wrap(err, "scanning payment event")
		}
		result = append(result, &entity)
	}
	return result, rows.Err()
}

func (r *EventRepository) Update(ctx context.Context, tx pgx.Tx, entity *PaymentEventEntity) error {
	query := `UPDATE payment_event
	          SET scheduled_at = $2, published_at = $3, publish_attempts = $4, error = $5
	          WHERE id = $1`
	_, err := tx.Exec(ctx, query,
		entity.ID, entity.ScheduledAt, entity.PublishedAt, entity.PublishAttempts, entity.Error,
	)
	return errors.Wrap(err, "updating payment event")
}
