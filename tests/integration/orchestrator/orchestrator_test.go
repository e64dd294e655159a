package orchestrator

import (
	"context"
	"log"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"payment-service/internal/config"
	"payment-service/internal/db"
	"payment-service/internal/orchestrator"
	"payment-service/internal/payment"
	"payment-service/internal/provider"
	"payment-service/internal/sweeper"
	"payment-service/internal/wallet"
	"payment-service/tests/testhelpers"
)

type fakeProvider struct {
	verifyStatus provider.VerifyStatus
	refundCalls  int
}

func (f *fakeProvider) Method() payment.Method { return payment.MethodCard }

func (f *fakeProvider) CreatePayment(ctx context.Context, req provider.CreateRequest) (*provider.CreateResult, error) {
	return &provider.CreateResult{
		ProviderRef: "pi_" + uuid.NewString(),
		Status:      payment.IntentPending,
		Action:      &payment.Action{Type: payment.ActionRedirect, URL: "https://gateway.example/3ds"},
	}, nil
}

func (f *fakeProvider) VerifyPayment(ctx context.Context, providerRef string) (*provider.VerifyResult, error) {
	return &provider.VerifyResult{Status: f.verifyStatus, VerifiedAt: time.Now()}, nil
}

func (f *fakeProvider) Refund(ctx context.Context, providerRef string, amount decimal.Decimal) (*provider.RefundResult, error) {
	f.refundCalls++
	return &provider.RefundResult{RefundRef: "re_" + uuid.NewString(), Status: "succeeded"}, nil
}

type OrchestratorTestSuite struct {
	suite.Suite
	pgContainer *testhelpers.PostgresContainer
	pool        *pgxpool.Pool
	intents     *db.IntentRepository
	orders      *db.OrderRepository
	commissions *db.CommissionRepository
	wallets     *db.WalletRepository
	refunds     *db.RefundRepository
	events      *db.EventRepository
	ledger      *wallet.Ledger
	adapter     *fakeProvider
	sut         *orchestrator.Orchestrator
	refundSut   *orchestrator.RefundOrchestrator
	ctx         context.Context
}

func (s *OrchestratorTestSuite) SetupSuite() {
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

	s.intents = db.NewIntentRepository(pool)
	s.orders = db.NewOrderRepository(pool)
	s.commissions = db.NewCommissionRepository(pool)
	s.wallets = db.NewWalletRepository(pool)
	s.refunds = db.NewRefundRepository(pool)
	s.events = db.NewEventRepository(pool)
	s.ledger = wallet.NewLedger(s.wallets, &stubPayout{}, 4, slog.Default())
}

type stubPayout struct{}

func (s *stubPayout) Send(ctx context.Context, destination string, amount decimal.Decimal, currency, reference string) error {
	return nil
}

func (s *OrchestratorTestSuite) TearDownSuite() {
	s.pool.Close()

	if err := s.pgContainer.Terminate(s.ctx); err != nil {
		log.Fatalf("error terminating postgres container: %s", err)
	}
}

func (s *OrchestratorTestSuite) SetupTest() {
	for _, table := range []string{"payment_event", "refund_record", "commission_record", "wallet_transaction", "payment_intent", "wallet", "orders"} {
		if _, err := s.pool.Exec(s.ctx, "DELETE FROM "+table); err != nil {
			log.Fatalf("error truncating %s table: %s", table, err)
		}
	}

	s.adapter = &fakeProvider{verifyStatus: provider.VerifySucceeded}
	registry := provider.NewRegistry(s.adapter)
	schedule := payment.Schedule{
		PlatformRate:       decimal.RequireFromString("0.025"),
		ProcessingRate:     decimal.RequireFromString("0.029"),
		ProcessingFixedFee: decimal.RequireFromString("0.30"),
		MinorUnitDigits:    2,
	}
	s.sut = orchestrator.New(s.intents, s.orders, s.commissions, s.events, s.wallets, s.ledger, registry, schedule, slog.Default())
	s.refundSut = orchestrator.NewRefundOrchestrator(s.intents, s.refunds, s.orders, s.events, registry, slog.Default())
}

func (s *OrchestratorTestSuite) seedOrder(amount string) (*db.OrderEntity, *db.WalletEntity) {
	order := &db.OrderEntity{
		ID:            uuid.New(),
		CustomerID:    uuid.New(),
		VendorID:      uuid.New(),
		Total:         decimal.RequireFromString(amount),
		Currency:      "EGP",
		PaymentStatus: "unpaid",
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if _, err := s.orders.Create(s.ctx, order); err != nil {
		log.Fatal(err)
	}

	vendorWallet := &db.WalletEntity{
		ID:        uuid.New(),
		OwnerID:   order.VendorID,
		OwnerType: "vendor",
		Balance:   decimal.Zero,
		Currency:  "EGP",
		Status:    "active",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if _, err := s.wallets.Create(s.ctx, vendorWallet); err != nil {
		log.Fatal(err)
	}
	return order, vendorWallet
}

func (s *OrchestratorTestSuite) initiate(order *db.OrderEntity) *orchestrator.InitiateResult {
	result, err := s.sut.Initiate(s.ctx, orchestrator.InitiateRequest{
		Amount:     order.Total,
		Currency:   order.Currency,
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		VendorID:   order.VendorID,
		Method:     payment.MethodCard,
	})
	if err != nil {
		log.Fatal(err)
	}
	return result
}

func (s *OrchestratorTestSuite) TestInitiate() {
	t := s.T()
	order, _ := s.seedOrder("1000.00")

	result := s.initiate(order)
	assert.Equal(t, payment.IntentPending, result.Status)
	assert.NotNil(t, result.Action)
	assert.Equal(t, payment.ActionRedirect, result.Action.Type)

	entity, err := s.intents.GetByID(s.ctx, result.IntentID)
	assert.NoError(t, err)
	assert.Equal(t, "pending", entity.Status)
	assert.True(t, entity.Amount.Equal(order.Total))
}

func (s *OrchestratorTestSuite) TestInitiate_Validation() {
	t := s.T()

	_, err := s.sut.Initiate(s.ctx, orchestrator.InitiateRequest{
		Amount: decimal.RequireFromString("-5"), OrderID: uuid.New(), CustomerID: uuid.New(), VendorID: uuid.New(),
		Method: payment.MethodCard,
	})
	assert.ErrorIs(t, err, payment.ErrInvalidAmount)

	_, err = s.sut.Initiate(s.ctx, orchestrator.InitiateRequest{
		Amount: decimal.RequireFromString("100"), CustomerID: uuid.New(), VendorID: uuid.New(),
		Method: payment.MethodCard,
	})
	assert.ErrorIs(t, err, payment.ErrInvalidRequest)

	_, err = s.sut.Initiate(s.ctx, orchestrator.InitiateRequest{
		Amount: decimal.RequireFromString("100"), OrderID: uuid.New(), CustomerID: uuid.New(), VendorID: uuid.New(),
		Method: payment.MethodCash,
	})
	assert.ErrorIs(t, err, payment.ErrMethodNotEnabled)
}

func (s *OrchestratorTestSuite) TestConfirm_Settles() {
	t := s.T()
	order, vendorWallet := s.seedOrder("1000.00")
	result := s.initiate(order)

	confirmed, err := s.sut.Confirm(s.ctx, result.IntentID)
	assert.NoError(t, err)
	assert.Equal(t, payment.IntentSucceeded, confirmed.Status)

	w, err := s.wallets.GetByID(s.ctx, vendorWallet.ID)
	assert.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.RequireFromString("945.70")), "vendor balance is %s", w.Balance)

	record, err := s.commissions.GetByOrderID(s.ctx, order.ID)
	assert.NoError(t, err)
	assert.True(t, record.PlatformFee.Equal(decimal.RequireFromString("25.00")))
	assert.True(t, record.ProcessingFee.Equal(decimal.RequireFromString("29.30")))
	assert.True(t, record.VendorNet.Equal(decimal.RequireFromString("945.70")))

	updated, err := s.orders.GetByID(s.ctx, order.ID)
	assert.NoError(t, err)
	assert.Equal(t, "paid", updated.PaymentStatus)

	tx, err := s.events.BeginTx(s.ctx)
	assert.NoError(t, err)
	defer tx.Rollback(s.ctx)
	events, err := s.events.GetUnpublished(s.ctx, tx, 10)
	assert.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, "payment.succeeded", events[0].EventType)
}

func (s *OrchestratorTestSuite) TestConfirm_DuplicateDeliveries() {
	t := s.T()
	order, vendorWallet := s.seedOrder("1000.00")
	result := s.initiate(order)

	for i := 0; i < 3; i++ {
		confirmed, err := s.sut.Confirm(s.ctx, result.IntentID)
		assert.NoError(t, err)
		assert.Equal(t, payment.IntentSucceeded, confirmed.Status)
	}

	w, err := s.wallets.GetByID(s.ctx, vendorWallet.ID)
	assert.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.RequireFromString("945.70")), "credited exactly once, balance is %s", w.Balance)

	count, err := s.commissions.CountByOrderID(s.ctx, order.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, count)

	transactions, err := s.wallets.GetTransactions(s.ctx, vendorWallet.ID, 10)
	assert.NoError(t, err)
	assert.Len(t, transactions, 1)
}

func (s *OrchestratorTestSuite) TestConfirm_Concurrent() {
	t := s.T()
	order, vendorWallet := s.seedOrder("1000.00")
	result := s.initiate(order)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.sut.Confirm(s.ctx, result.IntentID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	w, err := s.wallets.GetByID(s.ctx, vendorWallet.ID)
	assert.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.RequireFromString("945.70")))

	count, err := s.commissions.CountByOrderID(s.ctx, order.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func (s *OrchestratorTestSuite) TestConfirm_Declined() {
	t := s.T()
	order, vendorWallet := s.seedOrder("1000.00")
	result := s.initiate(order)

	s.adapter.verifyStatus = provider.VerifyFailed
	confirmed, err := s.sut.Confirm(s.ctx, result.IntentID)
	assert.NoError(t, err)
	assert.Equal(t, payment.IntentFailed, confirmed.Status)

	entity, err := s.intents.GetByID(s.ctx, result.IntentID)
	assert.NoError(t, err)
	assert.NotNil(t, entity.FailReason)
	assert.Equal(t, "declined by provider", *entity.FailReason)

	// the order stays payable and the vendor gets nothing
	updated, err := s.orders.GetByID(s.ctx, order.ID)
	assert.NoError(t, err)
	assert.Equal(t, "unpaid", updated.PaymentStatus)

	w, err := s.wallets.GetByID(s.ctx, vendorWallet.ID)
	assert.NoError(t, err)
	assert.True(t, w.Balance.IsZero())
}

func (s *OrchestratorTestSuite) TestConfirm_StillPending() {
	t := s.T()
	order, _ := s.seedOrder("1000.00")
	result := s.initiate(order)

	s.adapter.verifyStatus = provider.VerifyPending
	confirmed, err := s.sut.Confirm(s.ctx, result.IntentID)
	assert.NoError(t, err)
	assert.Equal(t, payment.IntentPending, confirmed.Status)
}

func (s *OrchestratorTestSuite) TestRefund_CapEnforced() {
	t := s.T()
	order, _ := s.seedOrder("1000.00")
	result := s.initiate(order)
	_, err := s.sut.Confirm(s.ctx, result.IntentID)
	assert.NoError(t, err)

	record, err := s.refundSut.Refund(s.ctx, result.IntentID, decimal.RequireFromString("600"), "damaged item")
	assert.NoError(t, err)
	assert.Equal(t, "succeeded", record.Status)

	updated, err := s.orders.GetByID(s.ctx, order.ID)
	assert.NoError(t, err)
	assert.NotNil(t, updated.RefundStatus)
	assert.Equal(t, "partially_refunded", *updated.RefundStatus)

	_, err = s.refundSut.Refund(s.ctx, result.IntentID, decimal.RequireFromString("500"), "changed mind")
	assert.ErrorIs(t, err, payment.ErrRefundExceedsOriginal)

	records, err := s.refunds.GetByPaymentID(s.ctx, result.IntentID)
	assert.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 1, s.adapter.refundCalls)

	record, err = s.refundSut.Refund(s.ctx, result.IntentID, decimal.RequireFromString("400"), "rest of it")
	assert.NoError(t, err)
	assert.True(t, record.Amount.Equal(decimal.RequireFromString("400")))

	updated, err = s.orders.GetByID(s.ctx, order.ID)
	assert.NoError(t, err)
	assert.Equal(t, "refunded", *updated.RefundStatus)
}

func (s *OrchestratorTestSuite) TestRefund_RequiresSucceededIntent() {
	t := s.T()
	order, _ := s.seedOrder("1000.00")
	result := s.initiate(order)

	_, err := s.refundSut.Refund(s.ctx, result.IntentID, decimal.RequireFromString("100"), "too early")
	assert.ErrorIs(t, err, payment.ErrRefundNotSucceeded)

	_, err = s.refundSut.Refund(s.ctx, uuid.New(), decimal.RequireFromString("100"), "no such payment")
	assert.ErrorIs(t, err, payment.ErrPaymentNotFound)

	_, err = s.refundSut.Refund(s.ctx, result.IntentID, decimal.Zero, "zero")
	assert.ErrorIs(t, err, payment.ErrInvalidAmount)
}

func (s *OrchestratorTestSuite) TestSweeper_ResolvesOverdueIntent() {
	t := s.T()
	order, _ := s.seedOrder("1000.00")

	past := time.Now().Add(-time.Hour)
	entity := &db.PaymentIntentEntity{
		ID:          uuid.New(),
		ProviderRef: "tx_" + uuid.NewString(),
		Amount:      order.Total,
		Currency:    order.Currency,
		Status:      "pending",
		Method:      "card",
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		VendorID:    order.VendorID,
		Items:       `[]`,
		CreatedAt:   past,
		ExpiresAt:   &past,
	}
	_, err := s.intents.Create(s.ctx, entity)
	assert.NoError(t, err)

	s.adapter.verifyStatus = provider.VerifyExpired

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	sw := sweeper.New(s.intents, s.sut, config.Sweeper{IntervalMs: 50}, slog.Default())
	sw.Start(ctx)

	assert.Eventually(t, func() bool {
		fetched, err := s.intents.GetByID(s.ctx, entity.ID)
		return err == nil && fetched.Status == "failed"
	}, 5*time.Second, 50*time.Millisecond)

	fetched, err := s.intents.GetByID(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.NotNil(t, fetched.FailReason)
	assert.Equal(t, "expired", *fetched.FailReason)
}

func (s *OrchestratorTestSuite) TestSweeper_FailsIntentStuckPending() {
	t := s.T()
	order, vendorWallet := s.seedOrder("1000.00")

	past := time.Now().Add(-time.Hour)
	entity := &db.PaymentIntentEntity{
		ID:          uuid.New(),
		ProviderRef: "tx_" + uuid.NewString(),
		Amount:      order.Total,
		Currency:    order.Currency,
		Status:      "pending",
		Method:      "card",
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		VendorID:    order.VendorID,
		Items:       `[]`,
		CreatedAt:   past,
		ExpiresAt:   &past,
	}
	_, err := s.intents.Create(s.ctx, entity)
	assert.NoError(t, err)

	// the provider keeps answering pending for the abandoned payment
	s.adapter.verifyStatus = provider.VerifyPending

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	sw := sweeper.New(s.intents, s.sut, config.Sweeper{IntervalMs: 50}, slog.Default())
	sw.Start(ctx)

	assert.Eventually(t, func() bool {
		fetched, err := s.intents.GetByID(s.ctx, entity.ID)
		return err == nil && fetched.Status == "failed"
	}, 5*time.Second, 50*time.Millisecond)

	fetched, err := s.intents.GetByID(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.NotNil(t, fetched.FailReason)
	assert.Equal(t, "expired", *fetched.FailReason)

	// a forced expiry settles nothing and leaves the order payable
	updated, err := s.orders.GetByID(s.ctx, order.ID)
	assert.NoError(t, err)
	assert.Equal(t, "unpaid", updated.PaymentStatus)

	w, err := s.wallets.GetByID(s.ctx, vendorWallet.ID)
	assert.NoError(t, err)
	assert.True(t, w.Balance.IsZero())
}

func (s *OrchestratorTestSuite) TestExpire_AbsorbsTerminalIntent() {
	t := s.T()
	order, vendorWallet := s.seedOrder("1000.00")
	result := s.initiate(order)

	_, err := s.sut.Confirm(s.ctx, result.IntentID)
	assert.NoError(t, err)

	expired, err := s.sut.Expire(s.ctx, result.IntentID)
	assert.NoError(t, err)
	assert.Equal(t, payment.IntentSucceeded, expired.Status)

	w, err := s.wallets.GetByID(s.ctx, vendorWallet.ID)
	assert.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.RequireFromString("945.70")))
}

func TestOrchestratorTestSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorTestSuite))
}
