package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"payment-service/internal/commission"
	"payment-service/internal/db"
	"payment-service/internal/logcontext"
	"payment-service/internal/message"
	"payment-service/internal/payload"
	"payment-service/internal/payment"
	"payment-service/internal/provider"
	"payment-service/internal/wallet"
)

var (
	initiateSucceededCounter = metrics.GetOrCreateCounter(`payment_initiate_total{result="success"}`)
	initiateFailedCounter    = metrics.GetOrCreateCounter(`payment_initiate_total{result="failed"}`)
	settleSucceededCounter   = metrics.GetOrCreateCounter(`payment_confirm_total{result="settled"}`)
	settleFailedCounter      = metrics.GetOrCreateCounter(`payment_confirm_total{result="failed"}`)
	settleDuplicateCounter   = metrics.GetOrCreateCounter(`payment_confirm_total{result="duplicate"}`)
	settlePendingCounter     = metrics.GetOrCreateCounter(`payment_confirm_total{result="still_pending"}`)

	settleDurationHistogram = metrics.GetOrCreateHistogram(`payment_confirm_duration_milliseconds`)
)

// Orchestrator drives the payment intent state machine:
// pending -> processing -> succeeded | failed | cancelled.
// Succeeded and failed are absorbing; settlement side effects are applied at
// most once regardless of how many times a confirmation is delivered.
type Orchestrator struct {
	intents     *db.IntentRepository
	orders      *db.OrderRepository
	commissions *db.CommissionRepository
	events      *db.EventRepository
	wallets     *db.WalletRepository
	ledger      *wallet.Ledger
	registry    *provider.Registry
	schedule    payment.Schedule
	logger      *slog.Logger
}

func New(
	intents *db.IntentRepository,
	orders *db.OrderRepository,
	commissions *db.CommissionRepository,
	events *db.EventRepository,
	wallets *db.WalletRepository,
	ledger *wallet.Ledger,
	registry *provider.Registry,
	schedule payment.Schedule,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		intents:     intents,
		orders:      orders,
		commissions: commissions,
		events:      events,
		wallets:     wallets,
		ledger:      ledger,
		registry:    registry,
		schedule:    schedule,
		logger:      logger,
	}
}

type InitiateRequest struct {
	Amount        decimal.Decimal
	Currency      string
	OrderID       uuid.UUID
	CustomerID    uuid.UUID
	VendorID      uuid.UUID
	Method        payment.Method
	Items         []payment.OrderItem
	CustomerPhone string
}

type InitiateResult struct {
	IntentID uuid.UUID
	Status   payment.IntentStatus
	Action   *payment.Action
}

func (o *Orchestrator) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, payment.ErrInvalidAmount
	}
	if req.OrderID == uuid.Nil || req.CustomerID == uuid.Nil || req.VendorID == uuid.Nil {
		return nil, payment.ErrInvalidRequest
	}

	adapter, ok := o.registry.Get(req.Method)
	if !ok {
		return nil, payment.ErrMethodNotEnabled
	}

	ctx = logcontext.AppendCtx(ctx, slog.String("orderId", req.OrderID.String()))

	created, err := adapter.CreatePayment(ctx, provider.CreateRequest{
		Amount:        req.Amount,
		Currency:      req.Currency,
		OrderID:       req.OrderID,
		CustomerID:    req.CustomerID,
		VendorID:      req.VendorID,
		CustomerPhone: req.CustomerPhone,
	})

	// Artifact delivery failures leave real provider-side state behind, so a
	// failed intent is persisted for audit. Plain adapter failures leave
	// nothing: no dangling intent, the caller retries initiate.
	if errors.Is(err, provider.ErrArtifactDelivery) && created != nil {
		o.persistFailedIntent(ctx, req, created, "artifact delivery failed")
		initiateFailedCounter.Inc()
		return nil, payment.ErrProviderUnavailable
	}
	if err != nil {
		o.logger.ErrorContext(ctx, "Provider create failed", "method", req.Method, "error", err)
		initiateFailedCounter.Inc()
		return nil, err
	}

	entity, err := o.persistIntent(ctx, req, created, string(created.Status), nil)
	if err != nil {
		return nil, payment.ErrInternal
	}

	o.logger.InfoContext(ctx, "Payment intent created", "intentId", entity.ID, "method", req.Method, "status", created.Status)
	initiateSucceededCounter.Inc()

	return &InitiateResult{IntentID: entity.ID, Status: created.Status, Action: created.Action}, nil
}

type ConfirmResult struct {
	IntentID uuid.UUID
	Status   payment.IntentStatus
}

// Confirm advances an intent after a webhook delivery or a verification poll.
// It is safe to call any number of times: terminal intents absorb the call,
// and the status-guarded transition lets exactly one concurrent caller apply
// the settlement side effects.
func (o *Orchestrator) Confirm(ctx context.Context, intentID uuid.UUID) (*ConfirmResult, error) {
	startTime := time.Now()
	defer func() {
		settleDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	ctx = logcontext.AppendCtx(ctx, slog.String("intentId", intentID.String()))

	entity, err := o.intents.GetByID(ctx, intentID)
	if err != nil {
		return nil, err
	}

	if payment.IntentStatus(entity.Status).Terminal() {
		o.logger.InfoContext(ctx, "Confirm on terminal intent, absorbing", "status", entity.Status)
		settleDuplicateCounter.Inc()
		return &ConfirmResult{IntentID: entity.ID, Status: payment.IntentStatus(entity.Status)}, nil
	}

	adapter, ok := o.registry.Get(payment.Method(entity.Method))
	if !ok {
		return nil, payment.ErrMethodNotEnabled
	}

	verified, err := adapter.VerifyPayment(ctx, entity.ProviderRef)
	if err != nil {
		return nil, err
	}

	switch verified.Status {
	case provider.VerifySucceeded:
		return o.settle(ctx, entity, verified.VerifiedAt)
	case provider.VerifyFailed:
		return o.markFailed(ctx, entity, "declined by provider")
	case provider.VerifyExpired:
		return o.markFailed(ctx, entity, "expired")
	default:
		settlePendingCounter.Inc()
		return &ConfirmResult{IntentID: entity.ID, Status: payment.IntentStatus(entity.Status)}, nil
	}
}

// Expire forces an intent to failed when its window has passed but the
// provider still answers pending. Without it an abandoned payment would be
// re-polled forever and its order stay blocked. The guarded transition keeps
// the force safe against a webhook racing in with a real outcome.
func (o *Orchestrator) Expire(ctx context.Context, intentID uuid.UUID) (*ConfirmResult, error) {
	ctx = logcontext.AppendCtx(ctx, slog.String("intentId", intentID.String()))

	entity, err := o.intents.GetByID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if payment.IntentStatus(entity.Status).Terminal() {
		return &ConfirmResult{IntentID: entity.ID, Status: payment.IntentStatus(entity.Status)}, nil
	}

	return o.markFailed(ctx, entity, "expired")
}

// settle applies all success side effects in one database transaction: the
// intent transition, the commission record, the vendor wallet credit and the
// order payment status. Either all of it commits or none of it does.
func (o *Orchestrator) settle(ctx context.Context, entity *db.PaymentIntentEntity, verifiedAt time.Time) (*ConfirmResult, error) {
	breakdown, err := commission.Calculate(entity.Amount, o.schedule)
	if err != nil {
		return nil, err
	}

	vendorWallet, err := o.wallets.GetByOwner(ctx, entity.VendorID, string(payment.OwnerVendor))
	if err != nil {
		return nil, err
	}

	tx, err := o.intents.BeginTx(ctx)
	if err != nil {
		return nil, payment.ErrInternal
	}
	defer tx.Rollback(ctx)

	won, err := o.intents.MarkTerminal(ctx, tx, entity.ID, string(payment.IntentSucceeded), nil, &verifiedAt)
	if err != nil {
		return nil, payment.ErrInternal
	}
	if !won {
		// A concurrent confirmation got there first.
		o.logger.InfoContext(ctx, "Lost settlement race, absorbing")
		settleDuplicateCounter.Inc()
		return &ConfirmResult{IntentID: entity.ID, Status: payment.IntentSucceeded}, nil
	}

	// Keyed by order id: the unique index on wallet_transaction.reference is
	// the database-level backstop against double crediting.
	_, err = o.ledger.CreditTx(ctx, tx, vendorWallet.ID, breakdown.VendorNet,
		"Order settlement", "settlement:"+entity.OrderID.String())
	if err != nil {
		return nil, err
	}

	if err := o.commissions.Create(ctx, tx, &db.CommissionRecordEntity{
		ID:            uuid.New(),
		OrderID:       entity.OrderID,
		VendorID:      entity.VendorID,
		PlatformFee:   breakdown.PlatformFee,
		ProcessingFee: breakdown.ProcessingFee,
		VendorNet:     breakdown.VendorNet,
		CreatedAt:     time.Now(),
	}); err != nil {
		return nil, payment.ErrInternal
	}

	if err := o.orders.UpdatePaymentStatus(ctx, tx, entity.OrderID, "paid"); err != nil {
		return nil, payment.ErrInternal
	}

	if err := o.writeEvent(ctx, tx, entity, message.EventPaymentSucceeded, ""); err != nil {
		return nil, payment.ErrInternal
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, payment.ErrInternal
	}

	o.logger.InfoContext(ctx, "Payment settled",
		"vendorNet", breakdown.VendorNet, "platformFee", breakdown.PlatformFee, "processingFee", breakdown.ProcessingFee)
	settleSucceededCounter.Inc()

	return &ConfirmResult{IntentID: entity.ID, Status: payment.IntentSucceeded}, nil
}

func (o *Orchestrator) markFailed(ctx context.Context, entity *db.PaymentIntentEntity, reason string) (*ConfirmResult, error) {
	tx, err := o.intents.BeginTx(ctx)
	if err != nil {
		return nil, payment.ErrInternal
	}
	defer tx.Rollback(ctx)

	won, err := o.intents.MarkTerminal(ctx, tx, entity.ID, string(payment.IntentFailed), &reason, nil)
	if err != nil {
		return nil, payment.ErrInternal
	}
	if !won {
		settleDuplicateCounter.Inc()
		return &ConfirmResult{IntentID: entity.ID, Status: payment.IntentStatus(entity.Status)}, nil
	}

	// The order's payment status stays untouched so the customer can retry.
	if err := o.writeEvent(ctx, tx, entity, message.EventPaymentFailed, reason); err != nil {
		return nil, payment.ErrInternal
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, payment.ErrInternal
	}

	o.logger.InfoContext(ctx, "Payment marked failed", "reason", reason)
	settleFailedCounter.Inc()

	return &ConfirmResult{IntentID: entity.ID, Status: payment.IntentFailed}, nil
}

func (o *Orchestrator) writeEvent(ctx context.Context, tx pgx.Tx, entity *db.PaymentIntentEntity, eventType, reason string) error {
	now := time.Now()
	status := payment.IntentSucceeded
	if eventType != message.EventPaymentSucceeded {
		status = payment.IntentFailed
	}

	body, err := json.Marshal(payload.Payment{
		ID:        entity.ID,
		OrderID:   entity.OrderID,
		VendorID:  entity.VendorID,
		Amount:    entity.Amount,
		Currency:  entity.Currency,
		Method:    entity.Method,
		Status:    string(status),
		Reason:    reason,
		UpdatedAt: now,
	})
	if err != nil {
		return err
	}

	return o.events.Create(ctx, tx, &db.PaymentEventEntity{
		ID:          uuid.New(),
		PaymentID:   entity.ID,
		EventType:   eventType,
		Payload:     string(body),
		CreatedAt:   now,
		ScheduledAt: &now,
	})
}

func (o *Orchestrator) persistFailedIntent(ctx context.Context, req InitiateRequest, created *provider.CreateResult, reason string) {
	if _, err := o.persistIntent(ctx, req, created, string(payment.IntentFailed), &reason); err != nil {
		o.logger.ErrorContext(ctx, "Error persisting failed intent", "error", err)
	}
}

func (o *Orchestrator) persistIntent(ctx context.Context, req InitiateRequest, created *provider.CreateResult, status string, failReason *string) (*db.PaymentIntentEntity, error) {
	items, err := json.Marshal(req.Items)
	if err != nil {
		return nil, err
	}

	entity := &db.PaymentIntentEntity{
		ID:          uuid.New(),
		ProviderRef: created.ProviderRef,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Status:      status,
		Method:      string(req.Method),
		OrderID:     req.OrderID,
		CustomerID:  req.CustomerID,
		VendorID:    req.VendorID,
		Items:       string(items),
		FailReason:  failReason,
		CreatedAt:   time.Now(),
		ExpiresAt:   created.ExpiresAt,
	}

	if _, err := o.intents.Create(ctx, entity); err != nil {
		o.logger.ErrorContext(ctx, "Error persisting intent", "error", err)
		return nil, err
	}
	return entity, nil
}
