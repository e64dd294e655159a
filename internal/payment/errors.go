package payment

import "errors"

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrMethodNotEnabled = errors.New("payment method not enabled")

	// ErrProviderUnavailable marks transient provider/network failures. Safe to
	// retry from the client side; never retried server-side during initiate to
	// avoid duplicate charges.
	ErrProviderUnavailable = errors.New("provider unavailable")

	ErrPaymentNotFound = errors.New("payment not found")
	ErrWalletNotFound  = errors.New("wallet not found")
	ErrWalletSuspended = errors.New("wallet suspended")

	ErrInsufficientBalance = errors.New("insufficient balance")

	ErrRefundExceedsOriginal = errors.New("refund exceeds original payment amount")
	ErrRefundNotSupported    = errors.New("refund not supported for this method")
	ErrRefundFailed          = errors.New("provider refund failed")
	ErrRefundNotSucceeded    = errors.New("payment is not in succeeded status")

	ErrWebhookSignatureInvalid = errors.New("webhook signature invalid")

	ErrInternal = errors.New("internal error")
)
