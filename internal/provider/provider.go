package provider

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payment-service/internal/payment"
)

type VerifyStatus string

const (
	VerifyPending   VerifyStatus = "pending"
	VerifySucceeded VerifyStatus = "succeeded"
	VerifyFailed    VerifyStatus = "failed"
	VerifyExpired   VerifyStatus = "expired"
)

type CreateRequest struct {
	Amount        decimal.Decimal
	Currency      string
	OrderID       uuid.UUID
	CustomerID    uuid.UUID
	VendorID      uuid.UUID
	CustomerPhone string
	Extra         map[string]string
}

type CreateResult struct {
	ProviderRef string
	Status      payment.IntentStatus
	Action      *payment.Action
	ExpiresAt   *time.Time
}

type VerifyResult struct {
	Status     VerifyStatus
	VerifiedAt time.Time
}

type RefundResult struct {
	RefundRef string
	Status    string
}

// Provider is the adapter contract shared by the card processor and both
// mobile-money integrations. Adapters own request signing, amount formatting
// and provider DTOs; none of that leaks past this interface.
type Provider interface {
	Method() payment.Method

	// CreatePayment calls out to the provider. It must not leave partial local
	// state behind; the orchestrator decides what to persist from the result.
	CreatePayment(ctx context.Context, req CreateRequest) (*CreateResult, error)

	// VerifyPayment is idempotent and safe to poll.
	VerifyPayment(ctx context.Context, providerRef string) (*VerifyResult, error)

	Refund(ctx context.Context, providerRef string, amount decimal.Decimal) (*RefundResult, error)
}

// WebhookDecoder is implemented by adapters whose provider pushes
// confirmations over HTTP.
type WebhookDecoder interface {
	VerifyWebhook(signature string, body []byte) error
	DecodeWebhook(body []byte) (providerRef string, status VerifyStatus, err error)
}

type Registry struct {
	providers map[payment.Method]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	m := make(map[payment.Method]Provider, len(providers))
	for _, p := range providers {
		m[p.Method()] = p
	}
	return &Registry{providers: m}
}

func (r *Registry) Get(method payment.Method) (Provider, bool) {
	p, ok := r.providers[method]
	return p, ok
}
