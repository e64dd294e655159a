package wallet

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"payment-service/internal/db"
	"payment-service/internal/payment"
	"payment-service/internal/wallet"
	"payment-service/tests/testhelpers"
)

type stubPayout struct {
	err          error
	calls        int
	gotCurrency  string
	gotReference string
	done         chan struct{}
}

func (s *stubPayout) Send(ctx context.Context, destination string, amount decimal.Decimal, currency, reference string) error {
	s.calls++
	s.gotCurrency = currency
	s.gotReference = reference
	if s.done != nil {
		defer close(s.done)
	}
	return s.err
}

type LedgerTestSuite struct {
	suite.Suite
	pgContainer *testhelpers.PostgresContainer
	pool        *pgxpool.Pool
	repo        *db.WalletRepository
	payout      *stubPayout
	sut         *wallet.Ledger
	ctx         context.Context
}

func (s *LedgerTestSuite) SetupSuite() {
	time.Local = time.UTC

	s.ctx = context.Background()
	pgContainer, err := testhelpers.CreatePostgresContainer(s.ctx)
	if err != nil {
		log.Fatal(err)
	}
	s.pgContainer = pgContainer

	db.RunMigrations(pgContainer.ConnectionString, "../../../migrations")

	pool, err := db.GetPool(pgContainer.ConnectionString)
	if err != nil {
		log.Fatal(err)
	}

	s.pool = pool
	s.repo = db.NewWalletRepository(pool)
}

func (s *LedgerTestSuite) TearDownSuite() {
	s.pool.Close()

	if err := s.pgContainer.Terminate(s.ctx); err != nil {
		log.Fatalf("error terminating postgres container: %s", err)
	}
}

func (s *LedgerTestSuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx, "DELETE FROM wallet_transaction")
	if err != nil {
		log.Fatalf("error truncating wallet_transaction table: %s", err)
	}
	_, err = s.pool.Exec(s.ctx, "DELETE FROM wallet")
	if err != nil {
		log.Fatalf("error truncating wallet table: %s", err)
	}

	s.payout = &stubPayout{}
	s.sut = wallet.NewLedger(s.repo, s.payout, 4, slog.Default())
}

func (s *LedgerTestSuite) createWallet(status string) *db.WalletEntity {
	entity := &db.WalletEntity{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		OwnerType: "vendor",
		Balance:   decimal.Zero,
		Currency:  "EGP",
		Status:    status,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	created, err := s.repo.Create(s.ctx, entity)
	if err != nil {
		log.Fatal(err)
	}
	return created
}

func (s *LedgerTestSuite) balance(walletID uuid.UUID) decimal.Decimal {
	w, err := s.repo.GetByID(s.ctx, walletID)
	if err != nil {
		log.Fatal(err)
	}
	return w.Balance
}

func (s *LedgerTestSuite) TestCreditThenDebit() {
	t := s.T()
	w := s.createWallet("active")

	_, err := s.sut.Credit(s.ctx, w.ID, decimal.RequireFromString("500"), "Order settlement", "settlement:"+uuid.NewString())
	assert.NoError(t, err)
	_, err = s.sut.Credit(s.ctx, w.ID, decimal.RequireFromString("200"), "Order settlement", "settlement:"+uuid.NewString())
	assert.NoError(t, err)
	assert.True(t, s.balance(w.ID).Equal(decimal.RequireFromString("700")), "balance is %s", s.balance(w.ID))

	_, err = s.sut.Debit(s.ctx, w.ID, decimal.RequireFromString("800"), "Adjustment", "")
	assert.ErrorIs(t, err, payment.ErrInsufficientBalance)
	assert.True(t, s.balance(w.ID).Equal(decimal.RequireFromString("700")))

	entry, err := s.sut.Debit(s.ctx, w.ID, decimal.RequireFromString("300"), "Adjustment", "")
	assert.NoError(t, err)
	assert.True(t, entry.BalanceAfter.Equal(decimal.RequireFromString("400")))
	assert.True(t, s.balance(w.ID).Equal(decimal.RequireFromString("400")))

	// the rejected debit must not have written a transaction row
	transactions, err := s.repo.GetTransactions(s.ctx, w.ID, 10)
	assert.NoError(t, err)
	assert.Len(t, transactions, 3)
}

func (s *LedgerTestSuite) TestCredit_Rejections() {
	t := s.T()

	suspended := s.createWallet("suspended")
	_, err := s.sut.Credit(s.ctx, suspended.ID, decimal.RequireFromString("100"), "", "")
	assert.ErrorIs(t, err, payment.ErrWalletSuspended)

	active := s.createWallet("active")
	_, err = s.sut.Credit(s.ctx, active.ID, decimal.Zero, "", "")
	assert.ErrorIs(t, err, payment.ErrInvalidAmount)

	_, err = s.sut.Credit(s.ctx, uuid.New(), decimal.RequireFromString("100"), "", "")
	assert.ErrorIs(t, err, payment.ErrWalletNotFound)
}

func (s *LedgerTestSuite) TestBalanceAfterChain() {
	t := s.T()
	w := s.createWallet("active")

	amounts := []string{"125.50", "74.50", "300.00"}
	for _, a := range amounts {
		_, err := s.sut.Credit(s.ctx, w.ID, decimal.RequireFromString(a), "Order settlement", "settlement:"+uuid.NewString())
		assert.NoError(t, err)
	}
	_, err := s.sut.Debit(s.ctx, w.ID, decimal.RequireFromString("100.00"), "Adjustment", "")
	assert.NoError(t, err)

	// replaying the transaction log from zero reproduces every BalanceAfter
	transactions, err := s.repo.GetTransactions(s.ctx, w.ID, 10)
	assert.NoError(t, err)
	assert.Len(t, transactions, 4)

	running := decimal.Zero
	for _, entry := range transactions {
		if entry.Type == "credit" {
			running = running.Add(entry.Amount)
		} else {
			running = running.Sub(entry.Amount)
		}
		assert.True(t, running.Equal(entry.BalanceAfter), "expected %s, got %s", running, entry.BalanceAfter)
	}
	assert.True(t, running.Equal(s.balance(w.ID)))
}

func (s *LedgerTestSuite) TestWithdraw_PayoutCompletes() {
	t := s.T()
	w := s.createWallet("active")
	_, err := s.sut.Credit(s.ctx, w.ID, decimal.RequireFromString("1000"), "", "")
	assert.NoError(t, err)

	s.payout.done = make(chan struct{})
	entry, err := s.sut.Withdraw(s.ctx, w.ID, decimal.RequireFromString("600"), "bank:EG123")
	assert.NoError(t, err)
	assert.Equal(t, "pending", entry.Status)
	assert.True(t, s.balance(w.ID).Equal(decimal.RequireFromString("400")), "debit applies before the payout settles")

	<-s.payout.done
	assert.Eventually(t, func() bool {
		updated, err := s.repo.GetTransactionByID(s.ctx, entry.ID)
		return err == nil && updated.Status == "completed"
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, 1, s.payout.calls)

	// the payout is fed from the locked read that made the debit decision
	assert.Equal(t, "EGP", s.payout.gotCurrency)
	assert.Equal(t, entry.ID.String(), s.payout.gotReference)
}

func (s *LedgerTestSuite) TestWithdraw_PayoutFailsThenReversed() {
	t := s.T()
	w := s.createWallet("active")
	_, err := s.sut.Credit(s.ctx, w.ID, decimal.RequireFromString("1000"), "", "")
	assert.NoError(t, err)

	s.payout.err = errors.New("bank unavailable")
	s.payout.done = make(chan struct{})
	entry, err := s.sut.Withdraw(s.ctx, w.ID, decimal.RequireFromString("600"), "bank:EG123")
	assert.NoError(t, err)

	<-s.payout.done
	assert.Eventually(t, func() bool {
		updated, err := s.repo.GetTransactionByID(s.ctx, entry.ID)
		return err == nil && updated.Status == "failed"
	}, 5*time.Second, 50*time.Millisecond)

	// the debit stays applied until an operator reverses it
	assert.True(t, s.balance(w.ID).Equal(decimal.RequireFromString("400")))

	failed, err := s.sut.FailedWithdrawals(s.ctx, 10)
	assert.NoError(t, err)
	assert.Len(t, failed, 1)
	assert.Equal(t, entry.ID, failed[0].ID)

	reversal, err := s.sut.ReverseWithdrawal(s.ctx, entry.ID)
	assert.NoError(t, err)
	assert.True(t, reversal.BalanceAfter.Equal(decimal.RequireFromString("1000")))
	assert.True(t, s.balance(w.ID).Equal(decimal.RequireFromString("1000")))

	original, err := s.repo.GetTransactionByID(s.ctx, entry.ID)
	assert.NoError(t, err)
	assert.Equal(t, "reversed", original.Status)

	// a second reversal of the same withdrawal is rejected
	_, err = s.sut.ReverseWithdrawal(s.ctx, entry.ID)
	assert.ErrorIs(t, err, payment.ErrInvalidRequest)
}

func (s *LedgerTestSuite) TestWithdraw_InsufficientBalance() {
	t := s.T()
	w := s.createWallet("active")
	_, err := s.sut.Credit(s.ctx, w.ID, decimal.RequireFromString("100"), "", "")
	assert.NoError(t, err)

	_, err = s.sut.Withdraw(s.ctx, w.ID, decimal.RequireFromString("200"), "bank:EG123")
	assert.ErrorIs(t, err, payment.ErrInsufficientBalance)
	assert.Equal(t, 0, s.payout.calls)
	assert.True(t, s.balance(w.ID).Equal(decimal.RequireFromString("100")))
}

func TestLedgerTestSuite(t *testing.T) {
	suite.Run(t, new(LedgerTestSuite))
}
