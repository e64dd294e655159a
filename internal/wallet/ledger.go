package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"payment-service/internal/db"
	"payment-service/internal/payment"
)

const defaultPayoutParallelism = 100

var (
	creditCounter             = metrics.GetOrCreateCounter(`wallet_mutations_total{type="credit"}`)
	debitCounter              = metrics.GetOrCreateCounter(`wallet_mutations_total{type="debit"}`)
	withdrawalCounter         = metrics.GetOrCreateCounter(`wallet_mutations_total{type="withdrawal"}`)
	insufficientCounter       = metrics.GetOrCreateCounter(`wallet_mutations_total{type="rejected_insufficient"}`)
	payoutFailedCounter       = metrics.GetOrCreateCounter(`wallet_payout_total{result="failed"}`)
	payoutCompletedCounter    = metrics.GetOrCreateCounter(`wallet_payout_total{result="completed"}`)
	withdrawalReversedCounter = metrics.GetOrCreateCounter(`wallet_payout_total{result="reversed"}`)
)

type PayoutSender interface {
	Send(ctx context.Context, destination string, amount decimal.Decimal, currency, reference string) error
}

// Ledger is the only component that mutates wallet balances. Every mutation is
// one database transaction: the balance row is locked, checked, updated, and
// exactly one wallet_transaction row with the post-mutation balance is written.
type Ledger struct {
	repo   *db.WalletRepository
	payout PayoutSender
	sem    chan struct{}
	logger *slog.Logger
}

func NewLedger(repo *db.WalletRepository, payoutSender PayoutSender, parallelism int, logger *slog.Logger) *Ledger {
	if parallelism <= 0 {
		parallelism = defaultPayoutParallelism
	}
	return &Ledger{
		repo:   repo,
		payout: payoutSender,
		sem:    make(chan struct{}, parallelism),
		logger: logger,
	}
}

func (l *Ledger) Credit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, description, reference string) (*db.WalletTransactionEntity, error) {
	tx, err := l.repo.BeginTx(ctx)
	if err != nil {
		return nil, payment.ErrInternal
	}
	defer tx.Rollback(ctx)

	entry, err := l.CreditTx(ctx, tx, walletID, amount, description, reference)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, payment.ErrInternal
	}
	return entry, nil
}

// CreditTx applies a credit inside a caller-owned transaction so settlement
// can commit the intent transition and the vendor credit as one unit.
func (l *Ledger) CreditTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, amount decimal.Decimal, description, reference string) (*db.WalletTransactionEntity, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, payment.ErrInvalidAmount
	}

	w, err := l.repo.SelectForUpdateByID(ctx, tx, walletID)
	if err != nil {
		return nil, err
	}
	if w.Status != "active" {
		return nil, payment.ErrWalletSuspended
	}

	entry, err := l.apply(ctx, tx, w, payment.TxCredit, amount, w.Balance.Add(amount), description, reference, payment.TxCompleted)
	if err != nil {
		return nil, err
	}
	creditCounter.Inc()
	return entry, nil
}

func (l *Ledger) Debit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, description, reference string) (*db.WalletTransactionEntity, error) {
	entry, _, err := l.withdrawing(ctx, walletID, amount, description, reference, payment.TxDebit, payment.TxCompleted)
	return entry, err
}

// Withdraw debits immediately but records the transaction as pending: the bank
// payout settles asynchronously. The payout call is fired as a bounded
// follow-up after commit; its failure does not roll the debit back, it marks
// the row failed for the reconciliation path.
func (l *Ledger) Withdraw(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, destination string) (*db.WalletTransactionEntity, error) {
	// Once the debit commits nothing may fail the call anymore, so everything
	// the payout needs (the currency) comes out of the locked read.
	entry, w, err := l.withdrawing(ctx, walletID, amount, "Withdrawal to "+destination, destination, payment.TxWithdrawal, payment.TxPending)
	if err != nil {
		return nil, err
	}
	currency := w.Currency

	l.sem <- struct{}{}
	go func() {
		defer func() { <-l.sem }()

		// Detached from the request context: the payout must not be cancelled
		// by the caller hanging up after the debit committed.
		payoutCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if err := l.payout.Send(payoutCtx, destination, amount, currency, entry.ID.String()); err != nil {
			l.logger.Error("Payout failed, withdrawal left for reconciliation", "transactionId", entry.ID, "error", err)
			payoutFailedCounter.Inc()
			if err := l.repo.UpdateTransactionStatus(payoutCtx, entry.ID, string(payment.TxFailed)); err != nil {
				l.logger.Error("Error marking withdrawal failed", "transactionId", entry.ID, "error", err)
			}
			return
		}

		payoutCompletedCounter.Inc()
		if err := l.repo.UpdateTransactionStatus(payoutCtx, entry.ID, string(payment.TxCompleted)); err != nil {
			l.logger.Error("Error marking withdrawal completed", "transactionId", entry.ID, "error", err)
		}
	}()

	return entry, nil
}

func (l *Ledger) withdrawing(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, description, reference string, txType payment.TxType, status payment.TxStatus) (*db.WalletTransactionEntity, *db.WalletEntity, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, nil, payment.ErrInvalidAmount
	}

	tx, err := l.repo.BeginTx(ctx)
	if err != nil {
		return nil, nil, payment.ErrInternal
	}
	defer tx.Rollback(ctx)

	w, err := l.repo.SelectForUpdateByID(ctx, tx, walletID)
	if err != nil {
		return nil, nil, err
	}
	if w.Status != "active" {
		return nil, nil, payment.ErrWalletSuspended
	}
	if w.Balance.LessThan(amount) {
		insufficientCounter.Inc()
		return nil, nil, payment.ErrInsufficientBalance
	}

	entry, err := l.apply(ctx, tx, w, txType, amount, w.Balance.Sub(amount), description, reference, status)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, payment.ErrInternal
	}

	if txType == payment.TxWithdrawal {
		withdrawalCounter.Inc()
	} else {
		debitCounter.Inc()
	}
	return entry, w, nil
}

// FailedWithdrawals lists withdrawals whose payout call failed after the debit
// committed. These need an operator decision: retry externally or reverse.
func (l *Ledger) FailedWithdrawals(ctx context.Context, limit int) ([]*db.WalletTransactionEntity, error) {
	return l.repo.GetTransactionsByTypeAndStatus(ctx, string(payment.TxWithdrawal), string(payment.TxFailed), limit)
}

// ReverseWithdrawal compensates a failed withdrawal: credits the amount back
// and marks the original row reversed, atomically.
func (l *Ledger) ReverseWithdrawal(ctx context.Context, transactionID uuid.UUID) (*db.WalletTransactionEntity, error) {
	tx, err := l.repo.BeginTx(ctx)
	if err != nil {
		return nil, payment.ErrInternal
	}
	defer tx.Rollback(ctx)

	original, err := l.repo.SelectTransactionForUpdate(ctx, tx, transactionID)
	if err != nil {
		return nil, err
	}
	if original.Type != string(payment.TxWithdrawal) || original.Status != string(payment.TxFailed) {
		return nil, fmt.Errorf("%w: transaction is not a failed withdrawal", payment.ErrInvalidRequest)
	}

	w, err := l.repo.SelectForUpdateByID(ctx, tx, original.WalletID)
	if err != nil {
		return nil, err
	}

	entry, err := l.apply(ctx, tx, w, payment.TxRefund, original.Amount, w.Balance.Add(original.Amount),
		"Reversal of failed withdrawal", original.ID.String(), payment.TxCompleted)
	if err != nil {
		return nil, err
	}
	if err := l.repo.UpdateTransactionStatusTx(ctx, tx, original.ID, string(payment.TxReversed)); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, payment.ErrInternal
	}

	withdrawalReversedCounter.Inc()
	return entry, nil
}

func (l *Ledger) apply(ctx context.Context, tx pgx.Tx, w *db.WalletEntity, txType payment.TxType, amount, balanceAfter decimal.Decimal, description, reference string, status payment.TxStatus) (*db.WalletTransactionEntity, error) {
	if err := l.repo.UpdateBalance(ctx, tx, w.ID, balanceAfter); err != nil {
		return nil, err
	}

	var ref *string
	if reference != "" {
		ref = &reference
	}
	entry := &db.WalletTransactionEntity{
		ID:           uuid.New(),
		WalletID:     w.ID,
		Type:         string(txType),
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Description:  description,
		Reference:    ref,
		Status:       string(status),
		CreatedAt:    time.Now(),
	}
	if err := l.repo.InsertTransaction(ctx, tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}
