package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentIntentEntity struct {
	ID          uuid.UUID
	ProviderRef string
	Amount      decimal.Decimal
	Currency    string
	Status      string
	Method      string
	OrderID     uuid.UUID
	CustomerID  uuid.UUID
	VendorID    uuid.UUID
	Items       string
	FailReason  *string
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	ConfirmedAt *time.Time
}

type WalletEntity struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	OwnerType string
	Balance   decimal.Decimal
	Currency  string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type WalletTransactionEntity struct {
	ID           uuid.UUID
	WalletID     uuid.UUID
	Type         string
	Amount       decimal.Decimal
	BalanceAfter decimal.Decimal
	Description  string
	Reference    *string
	Status       string
	CreatedAt    time.Time
}

type CommissionRecordEntity struct {
	ID            uuid.UUID
	OrderID       uuid.UUID
	VendorID      uuid.UUID
	PlatformFee   decimal.Decimal
	ProcessingFee decimal.Decimal
	VendorNet     decimal.Decimal
	CreatedAt     time.Time
}

type RefundRecordEntity struct {
	ID          uuid.UUID
	PaymentID   uuid.UUID
	RefundRef   string
	Amount      decimal.Decimal
	Reason      string
	Status      string
	Method      string
	ProcessedAt time.Time
}

type OrderEntity struct {
	ID            uuid.UUID
	CustomerID    uuid.UUID
	VendorID      uuid.UUID
	Total         decimal.Decimal
	Currency      string
	PaymentStatus string
	RefundStatus  *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type PaymentEventEntity struct {
	ID              uuid.UUID
	PaymentID       uuid.UUID
	EventType       string
	Payload         string
	CreatedAt       time.Time
	ScheduledAt     *time.Time
	PublishedAt     *time.Time
	PublishAttempts int
	Error           *string
}
