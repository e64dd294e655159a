package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payment-service/internal/db"
	"payment-service/internal/orchestrator"
	"payment-service/internal/payment"
	"payment-service/internal/wallet"
)

type Handlers struct {
	orch    *orchestrator.Orchestrator
	refunds *orchestrator.RefundOrchestrator
	ledger  *wallet.Ledger
	wallets *db.WalletRepository
}

func NewHandlers(orch *orchestrator.Orchestrator, refunds *orchestrator.RefundOrchestrator, ledger *wallet.Ledger, wallets *db.WalletRepository) *Handlers {
	return &Handlers{orch: orch, refunds: refunds, ledger: ledger, wallets: wallets}
}

type createIntentRequest struct {
	Amount        decimal.Decimal     `json:"amount"`
	Currency      string              `json:"currency"`
	OrderID       uuid.UUID           `json:"orderId"`
	CustomerID    uuid.UUID           `json:"customerId"`
	VendorID      uuid.UUID           `json:"vendorId"`
	Method        string              `json:"method"`
	Items         []payment.OrderItem `json:"items"`
	CustomerPhone string              `json:"customerPhone,omitempty"`
}

type intentResponse struct {
	Success  bool            `json:"success"`
	IntentID uuid.UUID       `json:"intentId"`
	Status   string          `json:"status"`
	Action   *payment.Action `json:"action,omitempty"`
}

func (h *Handlers) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, payment.ErrInvalidRequest)
		return
	}

	result, err := h.orch.Initiate(r.Context(), orchestrator.InitiateRequest{
		Amount:        req.Amount,
		Currency:      req.Currency,
		OrderID:       req.OrderID,
		CustomerID:    req.CustomerID,
		VendorID:      req.VendorID,
		Method:        payment.Method(req.Method),
		Items:         req.Items,
		CustomerPhone: req.CustomerPhone,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, intentResponse{
		Success:  true,
		IntentID: result.IntentID,
		Status:   string(result.Status),
		Action:   result.Action,
	})
}

func (h *Handlers) ConfirmIntent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, payment.ErrInvalidRequest)
		return
	}

	result, err := h.orch.Confirm(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, intentResponse{Success: true, IntentID: result.IntentID, Status: string(result.Status)})
}

type refundRequest struct {
	PaymentID uuid.UUID       `json:"paymentId"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
}

type refundResponse struct {
	Success  bool            `json:"success"`
	RefundID uuid.UUID       `json:"refundId"`
	Amount   decimal.Decimal `json:"amount"`
	Status   string          `json:"status"`
}

func (h *Handlers) CreateRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, payment.ErrInvalidRequest)
		return
	}

	record, err := h.refunds.Refund(r.Context(), req.PaymentID, req.Amount, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, refundResponse{
		Success:  true,
		RefundID: record.ID,
		Amount:   record.Amount,
		Status:   record.Status,
	})
}

type withdrawRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Destination string          `json:"destination"`
}

type transactionResponse struct {
	ID           uuid.UUID       `json:"id"`
	Type         string          `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balanceAfter"`
	Description  string          `json:"description"`
	Status       string          `json:"status"`
	CreatedAt    string          `json:"createdAt"`
}

func (h *Handlers) Withdraw(w http.ResponseWriter, r *http.Request) {
	walletID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, payment.ErrInvalidRequest)
		return
	}

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Destination == "" {
		writeError(w, payment.ErrInvalidRequest)
		return
	}

	entry, err := h.ledger.Withdraw(r.Context(), walletID, req.Amount, req.Destination)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "transaction": toTransactionResponse(entry)})
}

func (h *Handlers) GetWallet(w http.ResponseWriter, r *http.Request) {
	walletID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, payment.ErrInvalidRequest)
		return
	}

	entity, err := h.wallets.GetByID(r.Context(), walletID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"id":       entity.ID,
		"ownerId":  entity.OwnerID,
		"balance":  entity.Balance,
		"currency": entity.Currency,
		"status":   entity.Status,
	})
}

func (h *Handlers) GetWalletTransactions(w http.ResponseWriter, r *http.Request) {
	walletID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, payment.ErrInvalidRequest)
		return
	}

	entries, err := h.wallets.GetTransactions(r.Context(), walletID, 100)
	if err != nil {
		writeError(w, err)
		return
	}

	result := make([]transactionResponse, 0, len(entries))
	for _, entry := range entries {
		result = append(result, toTransactionResponse(entry))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "transactions": result})
}

func toTransactionResponse(entry *db.WalletTransactionEntity) transactionResponse {
	return transactionResponse{
		ID:           entry.ID,
		Type:         entry.Type,
		Amount:       entry.Amount,
		BalanceAfter: entry.BalanceAfter,
		Description:  entry.Description,
		Status:       entry.Status,
		CreatedAt:    entry.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
