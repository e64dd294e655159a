package instapay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"payment-service/internal/config"
	"payment-service/internal/payment"
	"payment-service/internal/provider"
)

const (
	defaultTimeoutMs     = 10_000
	defaultExpiryMinutes = 30
)

// Client integrates the InstaPay-style mobile-money provider. Creation is
// synchronous and returns a pending transaction with a QR payload the customer
// scans; the transaction expires if unpaid within the expiry window.
type Client struct {
	baseURL       string
	apiKey        string
	secret        string
	webhookSecret string
	expiry        time.Duration
	client        *http.Client
	logger        *slog.Logger
}

func NewClient(cfg config.Provider, logger *slog.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if cfg.TimeoutMs <= 0 {
		timeout = defaultTimeoutMs * time.Millisecond
	}
	expiryMinutes := cfg.ExpiryMinutes
	if expiryMinutes <= 0 {
		expiryMinutes = defaultExpiryMinutes
	}
	return &Client{
		baseURL:       cfg.BaseURL,
		apiKey:        cfg.APIKey,
		secret:        cfg.Secret,
		webhookSecret: cfg.WebhookSecret,
		expiry:        time.Duration(expiryMinutes) * time.Minute,
		client:        &http.Client{Timeout: timeout},
		logger:        logger,
	}
}

func (c *Client) Method() payment.Method {
	return payment.MethodInstaPay
}

type createTxRequest struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	MerchantRef string `json:"merchant_ref"`
}

type txResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	QRString      string `json:"qr_string,omitempty"`
	ExpiresAt     string `json:"expires_at,omitempty"`
}

func (c *Client) CreatePayment(ctx context.Context, req provider.CreateRequest) (*provider.CreateResult, error) {
	body := createTxRequest{
		Amount:      req.Amount.StringFixed(2),
		Currency:    req.Currency,
		MerchantRef: req.OrderID.String(),
	}

	var resp txResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/transactions", body, &resp); err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(c.expiry)
	if t, err := time.Parse(time.RFC3339, resp.ExpiresAt); err == nil {
		expiresAt = t
	}

	return &provider.CreateResult{
		ProviderRef: resp.TransactionID,
		Status:      payment.IntentPending,
		Action:      &payment.Action{Type: payment.ActionQR, QRPayload: resp.QRString},
		ExpiresAt:   &expiresAt,
	}, nil
}

func (c *Client) VerifyPayment(ctx context.Context, providerRef string) (*provider.VerifyResult, error) {
	var resp txResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/transactions/"+providerRef, nil, &resp); err != nil {
		return nil, err
	}

	status := mapStatus(resp.Status)

	// A transaction still reported pending past its window is dead: the QR can
	// no longer be paid.
	if status == provider.VerifyPending && resp.ExpiresAt != "" {
		if t, err := time.Parse(time.RFC3339, resp.ExpiresAt); err == nil && time.Now().After(t) {
			status = provider.VerifyExpired
		}
	}

	return &provider.VerifyResult{Status: status, VerifiedAt: time.Now()}, nil
}

type refundRequest struct {
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
}

func (c *Client) Refund(ctx context.Context, providerRef string, amount decimal.Decimal) (*provider.RefundResult, error) {
	var resp txResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/refunds", refundRequest{TransactionID: providerRef, Amount: amount.StringFixed(2)}, &resp)
	if err != nil {
		return nil, err
	}
	return &provider.RefundResult{RefundRef: resp.TransactionID, Status: resp.Status}, nil
}

func (c *Client) VerifyWebhook(signature string, body []byte) error {
	if signature == "" || !provider.ValidSignature(c.webhookSecret, signature, body) {
		return payment.ErrWebhookSignatureInvalid
	}
	return nil
}

func (c *Client) DecodeWebhook(body []byte) (string, provider.VerifyStatus, error) {
	var p txResponse
	if err := json.Unmarshal(body, &p); err != nil || p.TransactionID == "" {
		return "", "", payment.ErrInvalidRequest
	}
	return p.TransactionID, mapStatus(p.Status), nil
}

func mapStatus(s string) provider.VerifyStatus {
	switch s {
	case "PAID":
		return provider.VerifySucceeded
	case "FAILED", "DECLINED":
		return provider.VerifyFailed
	case "EXPIRED":
		return provider.VerifyExpired
	default:
		return provider.VerifyPending
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("X-Signature", provider.Sign(c.secret, data))

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "InstaPay request failed", "path", path, "error", err)
		return fmt.Errorf("%w: %v", payment.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", payment.ErrProviderUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		c.logger.ErrorContext(ctx, "InstaPay error response", "path", path, "status", resp.Status)
		return fmt.Errorf("%w: %s", payment.ErrProviderUnavailable, resp.Status)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: %s", payment.ErrInvalidRequest, string(respBody))
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}
