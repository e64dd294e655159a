package payload

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment is the outward-facing payment snapshot carried in payment events.
type Payment struct {
	ID        uuid.UUID       `json:"id"`
	OrderID   uuid.UUID       `json:"orderId"`
	VendorID  uuid.UUID       `json:"vendorId"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Method    string          `json:"method"`
	Status    string          `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
