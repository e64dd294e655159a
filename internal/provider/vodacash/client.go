package vodacash

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
	"payment-service/internal/sms"
)

const (
	defaultTimeoutMs     = 10_000
	defaultExpiryMinutes = 15
)

// Client integrates the Vodafone-Cash-style mobile-money provider. The
// provider returns a one-time PIN with the created charge; we deliver it to
// the customer through the SMS gateway. Charges expire if unpaid within the
// window.
type Client struct {
	baseURL       string
	apiKey        string
	secret        string
	webhookSecret string
	expiry        time.Duration
	client        *http.Client
	sms           *sms.Client
	logger        *slog.Logger
}

func NewClient(cfg config.Provider, smsClient *sms.Client, logger *slog.Logger) *Client {
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
		sms:           smsClient,
		logger:        logger,
	}
}

func (c *Client) Method() payment.Method {
	return payment.MethodVodafoneCash
}

type createChargeRequest struct {
	MSISDN    string `json:"msisdn"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"reference"`
}

type chargeResponse struct {
	ChargeID string `json:"charge_id"`
	Status   string `json:"status"`
	PIN      string `json:"pin,omitempty"`
}

func (c *Client) CreatePayment(ctx context.Context, req provider.CreateRequest) (*provider.CreateResult, error) {
	if req.CustomerPhone == "" {
		return nil, fmt.Errorf("%w: customer phone is required", payment.ErrInvalidRequest)
	}

	body := createChargeRequest{
		MSISDN:    req.CustomerPhone,
		Amount:    req.Amount.StringFixed(2),
		Currency:  req.Currency,
		Reference: req.OrderID.String(),
	}

	var resp chargeResponse
	if err := c.do(ctx, http.MethodPost, "/cash/v1/charges", body, &resp); err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(c.expiry)
	result := &provider.CreateResult{
		ProviderRef: resp.ChargeID,
		Status:      payment.IntentPending,
		Action:      &payment.Action{Type: payment.ActionPINViaSMS, PINHint: "PIN sent via SMS to " + maskPhone(req.CustomerPhone)},
		ExpiresAt:   &expiresAt,
	}

	// The charge already exists provider-side. If the PIN cannot be delivered
	// the customer can never complete it, so surface ErrArtifactDelivery with
	// the result attached; the orchestrator persists a failed intent.
	message := fmt.Sprintf("Your payment PIN is %s. It expires in %d minutes.", resp.PIN, int(c.expiry.Minutes()))
	if err := c.sms.Send(ctx, req.CustomerPhone, message); err != nil {
		c.logger.ErrorContext(ctx, "PIN SMS delivery failed", "chargeId", resp.ChargeID, "error", err)
		return result, provider.ErrArtifactDelivery
	}

	return result, nil
}

func (c *Client) VerifyPayment(ctx context.Context, providerRef string) (*provider.VerifyResult, error) {
	var resp chargeResponse
	if err := c.do(ctx, http.MethodGet, "/cash/v1/charges/"+providerRef, nil, &resp); err != nil {
		return nil, err
	}
	return &provider.VerifyResult{Status: mapStatus(resp.Status), VerifiedAt: time.Now()}, nil
}

type refundRequest struct {
	ChargeID string `json:"charge_id"`
	Amount   string `json:"amount"`
}

type refundResponse struct {
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
}

func (c *Client) Refund(ctx context.Context, providerRef string, amount decimal.Decimal) (*provider.RefundResult, error) {
	var resp refundResponse
	err := c.do(ctx, http.MethodPost, "/cash/v1/refunds", refundRequest{ChargeID: providerRef, Amount: amount.StringFixed(2)}, &resp)
	if err != nil {
		return nil, err
	}
	return &provider.RefundResult{RefundRef: resp.RefundID, Status: resp.Status}, nil
}

func (c *Client) VerifyWebhook(signature string, body []byte) error {
	if signature == "" || !provider.ValidSignature(c.webhookSecret, signature, body) {
		return payment.ErrWebhookSignatureInvalid
	}
	return nil
}

func (c *Client) DecodeWebhook(body []byte) (string, provider.VerifyStatus, error) {
	var p chargeResponse
	if err := json.Unmarshal(body, &p); err != nil || p.ChargeID == "" {
		return "", "", payment.ErrInvalidRequest
	}
	return p.ChargeID, mapStatus(p.Status), nil
}

func mapStatus(s string) provider.VerifyStatus {
	switch s {
	case "COMPLETED":
		return provider.VerifySucceeded
	case "FAILED", "REJECTED":
		return provider.VerifyFailed
	case "EXPIRED":
		return provider.VerifyExpired
	default:
		return provider.VerifyPending
	}
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return "******" + phone[len(phone)-4:]
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
	req.Header.Set("X-Auth", provider.Sign(c.secret, data))

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "Vodafone Cash request failed", "path", path, "error", err)
		return fmt.Errorf("%w: %v", payment.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", payment.ErrProviderUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		c.logger.ErrorContext(ctx, "Vodafone Cash error response", "path", path, "status", resp.Status)
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
