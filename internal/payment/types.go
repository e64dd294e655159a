package payment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Method string

const (
	MethodCard         Method = "card"
	MethodInstaPay     Method = "instapay"
	MethodVodafoneCash Method = "vodacash"
	MethodBankTransfer Method = "bank_transfer"
	MethodCash         Method = "cash"
)

type IntentStatus string

const (
	IntentPending    IntentStatus = "pending"
	IntentProcessing IntentStatus = "processing"
	IntentSucceeded  IntentStatus = "succeeded"
	IntentFailed     IntentStatus = "failed"
	IntentCancelled  IntentStatus = "cancelled"
)

// Terminal reports whether the status is absorbing. Succeeded, failed and
// cancelled intents never change status again; refunds are recorded separately.
func (s IntentStatus) Terminal() bool {
	return s == IntentSucceeded || s == IntentFailed || s == IntentCancelled
}

type Intent struct {
	ID          uuid.UUID
	ProviderRef string
	Amount      decimal.Decimal
	Currency    string
	Status      IntentStatus
	Method      Method
	OrderID     uuid.UUID
	CustomerID  uuid.UUID
	VendorID    uuid.UUID
	Items       []OrderItem
	FailReason  string
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	ConfirmedAt *time.Time
}

type OrderItem struct {
	ProductID uuid.UUID       `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// Action is the consumer-facing artifact returned by Initiate: a redirect URL
// for card 3-D-Secure flows, a QR payload for InstaPay, or a hint that a PIN
// was delivered out-of-band for Vodafone Cash.
type Action struct {
	Type      ActionType `json:"type"`
	URL       string     `json:"url,omitempty"`
	QRPayload string     `json:"qrPayload,omitempty"`
	PINHint   string     `json:"pinHint,omitempty"`
}

type ActionType string

const (
	ActionRedirect   ActionType = "redirect"
	ActionQR         ActionType = "qr"
	ActionPINViaSMS  ActionType = "pin_via_sms"
	ActionNoneNeeded ActionType = "none"
)

type TxType string

const (
	TxCredit     TxType = "credit"
	TxDebit      TxType = "debit"
	TxRefund     TxType = "refund"
	TxWithdrawal TxType = "withdrawal"
)

type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxCompleted TxStatus = "completed"
	TxFailed    TxStatus = "failed"
	TxReversed  TxStatus = "reversed"
)

type OwnerType string

const (
	OwnerCustomer OwnerType = "customer"
	OwnerVendor   OwnerType = "vendor"
)

// Schedule is the commission rate schedule applied on settlement. Loaded from
// config at startup and immutable for the process lifetime.
type Schedule struct {
	PlatformRate       decimal.Decimal
	ProcessingRate     decimal.Decimal
	ProcessingFixedFee decimal.Decimal
	MinorUnitDigits    int32
}

// Breakdown is the result of splitting a gross amount. PlatformFee and
// ProcessingFee are rounded to the currency's minor unit; VendorNet is the
// exact remainder, so the three always sum to the gross amount.
type Breakdown struct {
	PlatformFee   decimal.Decimal
	ProcessingFee decimal.Decimal
	VendorNet     decimal.Decimal
}
