package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"payment-service/internal/payment"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// statusFor maps domain errors to HTTP status codes. Anything unmapped is an
// internal error and its detail stays out of the response body.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, payment.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, payment.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, payment.ErrMethodNotEnabled):
		return http.StatusBadRequest, "method_not_enabled"
	case errors.Is(err, payment.ErrWebhookSignatureInvalid):
		return http.StatusBadRequest, "invalid_signature"
	case errors.Is(err, payment.ErrPaymentNotFound):
		return http.StatusNotFound, "payment_not_found"
	case errors.Is(err, payment.ErrWalletNotFound):
		return http.StatusNotFound, "wallet_not_found"
	case errors.Is(err, payment.ErrWalletSuspended):
		return http.StatusConflict, "wallet_suspended"
	case errors.Is(err, payment.ErrRefundNotSucceeded):
		return http.StatusConflict, "payment_not_succeeded"
	case errors.Is(err, payment.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, payment.ErrRefundExceedsOriginal):
		return http.StatusUnprocessableEntity, "refund_exceeds_original"
	case errors.Is(err, payment.ErrRefundNotSupported):
		return http.StatusUnprocessableEntity, "refund_not_supported"
	case errors.Is(err, payment.ErrProviderUnavailable):
		return http.StatusBadGateway, "provider_unavailable"
	case errors.Is(err, payment.ErrRefundFailed):
		return http.StatusBadGateway, "refund_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Success: false, Message: message, Error: code})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
