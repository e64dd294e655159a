package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"payment-service/internal/payment"
)

type WalletRepository struct {
	pool *pgxpool.Pool
}

func NewWalletRepository(pool *pgxpool.Pool) *WalletRepository {
	return &WalletRepository{pool: pool}
}

func (r *WalletRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const walletColumns = `id, owner_id, owner_type, balance, currency, status, created_at, updated_at`

func (r *WalletRepository) Create(ctx context.Context, entity *WalletEntity) (*WalletEntity, error) {
	query := `INSERT INTO wallet (` + walletColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`
	err := r.pool.QueryRow(ctx, query,
		entity.ID, entity.OwnerID, entity.OwnerType, entity.Balance, entity.Currency,
		entity.Status, entity.CreatedAt, entity.UpdatedAt,
	).Scan(&entity.ID)
	if err != nil {
		return nil, errors.Wrap(err, "inserting wallet")
	}
	return entity, nil
}

func (r *WalletRepository) GetByID(ctx context.Context, id uuid.UUID) (*WalletEntity, error) {
	query := `SELECT ` + walletColumns + ` FROM wallet WHERE id = $1`
	return r.scanWallet(r.pool.QueryRow(ctx, query, id))
}

func (r *WalletRepository) GetByOwner(ctx context.Context, ownerID uuid.UUID, ownerType string) (*WalletEntity, error) {
	query := `SELECT ` + walletColumns + ` FROM wallet WHERE owner_id = $1 AND owner_type = $2`
	return r.scanWallet(r.pool.QueryRow(ctx, query, ownerID, ownerType))
}

// SelectForUpdateByID locks the wallet row for the lifetime of tx. Every
// balance decision happens against this locked read, never a stale one.
func (r *WalletRepository) SelectForUpdateByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*WalletEntity, error) {
	query := `SELECT ` + walletColumns + ` FROM wallet WHERE id = $1 FOR UPDATE`
	return r.scanWallet(tx.QueryRow(ctx, query, id))
}

func (r *WalletRepository) UpdateBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, balance decimal.Decimal) error {
	query := `UPDATE wallet SET balance = $2, updated_at = now() WHERE id = $1`
	_, err := tx.Exec(ctx, query, id, balance)
	return errors.Wrap(err, "updating wallet balance")
}

const walletTxColumns = `id, wallet_id, type, amount, balance_after, description, reference, status, created_at`

func (r *WalletRepository) InsertTransaction(ctx context.Context, tx pgx.Tx, entity *WalletTransactionEntity) error {
	query := `INSERT INTO wallet_transaction (` + walletTxColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := tx.Exec(ctx, query,
		entity.ID, entity.WalletID, entity.Type, entity.Amount, entity.BalanceAfter,
		entity.Description, entity.Reference, entity.Status, entity.CreatedAt,
	)
	return errors.Wrap(err, "inserting wallet transaction")
}

func (r *WalletRepository) GetTransactions(ctx context.Context, walletID uuid.UUID, limit int) ([]*WalletTransactionEntity, error) {
	query := `SELECT ` + walletTxColumns + ` FROM wallet_transaction
	          WHERE wallet_id = $1 ORDER BY created_at ASC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, walletID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "fetching wallet transactions")
	}
	defer rows.Close()
	return r.collectTransactions(rows)
}

func (r *WalletRepository) GetTransactionByID(ctx context.Context, id uuid.UUID) (*WalletTransactionEntity, error) {
	query := `SELECT ` + walletTxColumns + ` FROM wallet_transaction WHERE id = $1`
	return r.scanTransaction(r.pool.QueryRow(ctx, query, id))
}

func (r *WalletRepository) SelectTransactionForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*WalletTransactionEntity, error) {
	query := `SELECT ` + walletTxColumns + ` FROM wallet_transaction WHERE id = $1 FOR UPDATE`
	return r.scanTransaction(tx.QueryRow(ctx, query, id))
}

func (r *WalletRepository) UpdateTransactionStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `UPDATE wallet_transaction SET status = $2 WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id, status)
	return errors.Wrap(err, "updating wallet transaction status")
}

func (r *WalletRepository) UpdateTransactionStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error {
	query := `UPDATE wallet_transaction SET status = $2 WHERE id = $1`
	_, err := tx.Exec(ctx, query, id, status)
	return errors.Wrap(err, "updating wallet transaction status")
}

// GetTransactionsByTypeAndStatus powers the withdrawal reconciliation sweep.
func (r *WalletRepository) GetTransactionsByTypeAndStatus(ctx context.Context, txType, status string, limit int) ([]*WalletTransactionEntity, error) {
	query := `SELECT ` + walletTxColumns + ` FROM wallet_transaction
	          WHERE type = $1 AND status = $2 ORDER BY created_at ASC LIMIT $3`
	rows, err := r.pool.Query(ctx, query, txType, status, limit)
	if err != nil {
		return nil, errors.Wrap(err, "fetching wallet transactions by status")
	}
	defer rows.Close()
	return r.collectTransactions(rows)
}

func (r *WalletRepository) scanWallet(row pgx.Row) (*WalletEntity, error) {
	var entity WalletEntity
	err := row.Scan(
		&entity.ID, &entity.OwnerID, &entity.OwnerType, &entity.Balance, &entity.Currency,
		&entity.Status, &entity.CreatedAt, &entity.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, payment.ErrWalletNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scanning wallet")
	}
	return &entity, nil
}

func (r *WalletRepository) scanTransaction(row pgx.Row) (*WalletTransactionEntity, error) {
	var entity WalletTransactionEntity
	err := row.Scan(
		&entity.ID, &entity.WalletID, &entity.Type, &entity.Amount, &entity.BalanceAfter,
		&entity.Description, &entity.Reference, &entity.Status, &entity.CreatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "scanning wallet transaction")
	}
	return &entity, nil
}

func (r *WalletRepository) collectTransactions(rows pgx.Rows) ([]*WalletTransactionEntity, error) {
	var result []*WalletTransactionEntity
	for rows.Next() {
		entity, err := r.scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, entity)
	}
	return result, rows.Err()
}
