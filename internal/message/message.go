package message

import (
	"github.com/google/uuid"

	"payment-service/internal/payload"
)

// PaymentEvent is the Kafka message published for every terminal payment or
// refund transition. Keyed by payment id so per-payment ordering holds.
type PaymentEvent struct {
	ID      uuid.UUID       `json:"id"`
	Event   string          `json:"event"`
	Payload payload.Payment `json:"payload"`
}

const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
	EventPaymentRefunded  = "payment.refunded"
)
