package card

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
	defaultTimeoutMs     = 15_000
	defaultExpiryMinutes = 60
)

// Client integrates the card processor. The flow is two-step: an intent is
// created, then confirmed; confirmation may come back as requires_action with
// a 3-D-Secure redirect before the terminal status arrives via webhook. An
// abandoned 3-D-Secure flow produces no webhook at all, so creates carry an
// expiry window for the sweeper.
type Client struct {
	baseURL       string
	apiKey        string
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
		webhookSecret: cfg.WebhookSecret,
		expiry:        time.Duration(expiryMinutes) * time.Minute,
		client:        &http.Client{Timeout: timeout},
		logger:        logger,
	}
}

func (c *Client) Method() payment.Method {
	return payment.MethodCard
}

type createIntentRequest struct {
	Amount    string            `json:"amount"`
	Currency  string            `json:"currency"`
	Reference string            `json:"reference"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type intentResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) CreatePayment(ctx context.Context, req provider.CreateRequest) (*provider.CreateResult, error) {
	body := createIntentRequest{
		Amount:    req.Amount.StringFixed(2),
		Currency:  req.Currency,
		Reference: req.OrderID.String(),
		Metadata: map[string]string{
			"customer_id": req.CustomerID.String(),
			"vendor_id":   req.VendorID.String(),
		},
	}

	var created intentResponse
	if err := c.do(ctx, http.MethodPost, "/v1/intents", body, &created); err != nil {
		return nil, err
	}

	// Explicit confirm step. A failure here leaves a provider-side intent in
	// requires_confirmation which the processor garbage-collects; nothing is
	// persisted locally until the orchestrator decides to.
	var confirmed intentResponse
	if err := c.do(ctx, http.MethodPost, "/v1/intents/"+created.ID+"/confirm", nil, &confirmed); err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(c.expiry)
	result := &provider.CreateResult{
		ProviderRef: created.ID,
		Status:      payment.IntentProcessing,
		ExpiresAt:   &expiresAt,
	}
	if confirmed.Status == "requires_action" {
		result.Action = &payment.Action{Type: payment.ActionRedirect, URL: confirmed.RedirectURL}
	}
	return result, nil
}

func (c *Client) VerifyPayment(ctx context.Context, providerRef string) (*provider.VerifyResult, error) {
	var resp intentResponse
	if err := c.do(ctx, http.MethodGet, "/v1/intents/"+providerRef, nil, &resp); err != nil {
		return nil, err
	}

	return &provider.VerifyResult{
		Status:     mapStatus(resp.Status),
		VerifiedAt: time.Now(),
	}, nil
}

type refundRequest struct {
	Intent string `json:"intent"`
	Amount string `json:"amount"`
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (c *Client) Refund(ctx context.Context, providerRef string, amount decimal.Decimal) (*provider.RefundResult, error) {
	var resp refundResponse
	err := c.do(ctx, http.MethodPost, "/v1/refunds", refundRequest{Intent: providerRef, Amount: amount.StringFixed(2)}, &resp)
	if err != nil {
		return nil, err
	}
	return &provider.RefundResult{RefundRef: resp.ID, Status: resp.Status}, nil
}

func (c *Client) VerifyWebhook(signature string, body []byte) error {
	if signature == "" || !provider.ValidSignature(c.webhookSecret, signature, body) {
		return payment.ErrWebhookSignatureInvalid
	}
	return nil
}

type webhookPayload struct {
	Type string `json:"type"`
	Data struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"data"`
}

func (c *Client) DecodeWebhook(body []byte) (string, provider.VerifyStatus, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return "", "", payment.ErrInvalidRequest
	}
	if p.Data.ID == "" {
		return "", "", payment.ErrInvalidRequest
	}
	return p.Data.ID, mapStatus(p.Data.Status), nil
}

func mapStatus(s string) provider.VerifyStatus {
	switch s {
	case "succeeded":
		return provider.VerifySucceeded
	case "failed", "canceled", "cancelled":
		return provider.VerifyFailed
	default:
		return provider.VerifyPending
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "Card processor request failed", "path", path, "error", err)
		return fmt.Errorf("%w: %v", payment.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", payment.ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		c.logger.ErrorContext(ctx, "Card processor error response", "path", path, "status", resp.Status)
		return fmt.Errorf("%w: %s", payment.ErrProviderUnavailable, resp.Status)
	case resp.StatusCode >= 400:
		var apiErr errorResponse
		_ = json.Unmarshal(respBody, &apiErr)
		if apiErr.Code == "amount_exceeds_captured" {
			return payment.ErrRefundExceedsOriginal
		}
		return fmt.Errorf("%w: %s", payment.ErrInvalidRequest, apiErr.Message)
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}
