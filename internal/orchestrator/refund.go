package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"payment-service/internal/db"
	"payment-service/internal/logcontext"
	"payment-service/internal/message"
	"payment-service/internal/payload"
	"payment-service/internal/payment"
	"payment-service/internal/provider"
)

var (
	refundSucceededCounter = metrics.GetOrCreateCounter(`payment_refund_total{result="success"}`)
	refundRejectedCounter  = metrics.GetOrCreateCounter(`payment_refund_total{result="rejected"}`)
	refundProviderCounter  = metrics.GetOrCreateCounter(`payment_refund_total{result="provider_failed"}`)
)

// RefundOrchestrator owns RefundRecord creation. Refunds for one payment
// serialize on the intent row lock, so the cap check cannot race.
type RefundOrchestrator struct {
	intents  *db.IntentRepository
	refunds  *db.RefundRepository
	orders   *db.OrderRepository
	events   *db.EventRepository
	registry *provider.Registry
	logger   *slog.Logger
}

func NewRefundOrchestrator(
	intents *db.IntentRepository,
	refunds *db.RefundRepository,
	orders *db.OrderRepository,
	events *db.EventRepository,
	registry *provider.Registry,
	logger *slog.Logger,
) *RefundOrchestrator {
	return &RefundOrchestrator{
		intents:  intents,
		refunds:  refunds,
		orders:   orders,
		events:   events,
		registry: registry,
		logger:   logger,
	}
}

func (o *RefundOrchestrator) Refund(ctx context.Context, paymentID uuid.UUID, amount decimal.Decimal, reason string) (*db.RefundRecordEntity, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, payment.ErrInvalidAmount
	}

	ctx = logcontext.AppendCtx(ctx, slog.String("paymentId", paymentID.String()))

	tx, err := o.intents.BeginTx(ctx)
	if err != nil {
		return nil, payment.ErrInternal
	}
	defer tx.Rollback(ctx)

	intent, err := o.intents.SelectForUpdateByID(ctx, tx, paymentID)
	if err != nil {
		return nil, err
	}
	if intent.Status != string(payment.IntentSucceeded) {
		refundRejectedCounter.Inc()
		return nil, payment.ErrRefundNotSucceeded
	}

	adapter, ok := o.registry.Get(payment.Method(intent.Method))
	if !ok {
		refundRejectedCounter.Inc()
		return nil, payment.ErrRefundNotSupported
	}

	refunded, err := o.refunds.SumByPaymentID(ctx, tx, paymentID)
	if err != nil {
		return nil, payment.ErrInternal
	}
	if refunded.Add(amount).GreaterThan(intent.Amount) {
		o.logger.InfoContext(ctx, "Refund over cap rejected", "requested", amount, "alreadyRefunded", refunded, "original", intent.Amount)
		refundRejectedCounter.Inc()
		return nil, payment.ErrRefundExceedsOriginal
	}

	// Provider call happens under the row lock: concurrent refunds of the same
	// payment queue up behind it instead of both passing the cap check.
	result, err := adapter.Refund(ctx, intent.ProviderRef, amount)
	if err != nil {
		o.logger.ErrorContext(ctx, "Provider refund failed", "error", err)
		refundProviderCounter.Inc()
		return nil, fmt.Errorf("%w: %v", payment.ErrRefundFailed, err)
	}

	record := &db.RefundRecordEntity{
		ID:          uuid.New(),
		PaymentID:   paymentID,
		RefundRef:   result.RefundRef,
		Amount:      amount,
		Reason:      reason,
		Status:      result.Status,
		Method:      intent.Method,
		ProcessedAt: time.Now(),
	}
	if err := o.refunds.Create(ctx, tx, record); err != nil {
		return nil, payment.ErrInternal
	}

	refundStatus := "partially_refunded"
	if refunded.Add(amount).Equal(intent.Amount) {
		refundStatus = "refunded"
	}
	if err := o.orders.UpdateRefundStatus(ctx, tx, intent.OrderID, refundStatus); err != nil {
		return nil, payment.ErrInternal
	}

	if err := o.writeRefundEvent(ctx, tx, intent, amount, reason); err != nil {
		return nil, payment.ErrInternal
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, payment.ErrInternal
	}

	o.logger.InfoContext(ctx, "Refund processed", "amount", amount, "refundRef", result.RefundRef)
	refundSucceededCounter.Inc()

	return record, nil
}

func (o *RefundOrchestrator) writeRefundEvent(ctx context.Context, tx pgx.Tx, intent *db.PaymentIntentEntity, amount decimal.Decimal, reason string) error {
	now := time.Now()
	body, err := json.Marshal(payload.Payment{
		ID:        intent.ID,
		OrderID:   intent.OrderID,
		VendorID:  intent.VendorID,
		Amount:    amount,
		Currency:  intent.Currency,
		Method:    intent.Method,
		Status:    "refunded",
		Reason:    reason,
		UpdatedAt: now,
	})
	if err != nil {
		return err
	}

	return o.events.Create(ctx, tx, &db.PaymentEventEntity{
		ID:          uuid.New(),
		PaymentID:   intent.ID,
		EventType:   message.EventPaymentRefunded,
		Payload:     string(body),
		CreatedAt:   now,
		ScheduledAt: &now,
	})
}
