package server

import (
	"net/http"

	"payment-service/internal/webhook"
)

// NewMux wires the HTTP surface.
func NewMux(handlers *Handlers, webhookHandler *webhook.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /liveness", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /payments/intent", handlers.CreateIntent)
	mux.HandleFunc("POST /payments/{id}/confirm", handlers.ConfirmIntent)
	mux.HandleFunc("POST /payments/webhook/{provider}", webhookHandler.Handle)
	mux.HandleFunc("POST /refunds", handlers.CreateRefund)

	mux.HandleFunc("GET /wallets/{id}", handlers.GetWallet)
	mux.HandleFunc("GET /wallets/{id}/transactions", handlers.GetWalletTransactions)
	mux.HandleFunc("POST /wallets/{id}/withdraw", handlers.Withdraw)

	return mux
}
