package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"payment-service/internal/config"
)

const defaultTimeoutMs = 30_000

// Client initiates bank payouts for wallet withdrawals. The transfer itself
// settles asynchronously on the bank side; this call only hands it off.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(cfg config.Payout) *Client {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if cfg.TimeoutMs <= 0 {
		timeout = defaultTimeoutMs * time.Millisecond
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type transferRequest struct {
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Reference   string `json:"reference"`
}

func (c *Client) Send(ctx context.Context, destination string, amount decimal.Decimal, currency, reference string) error {
	data, err := json.Marshal(transferRequest{
		Destination: destination,
		Amount:      amount.StringFixed(2),
		Currency:    currency,
		Reference:   reference,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transfers", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("payout response: %s", resp.Status)
	}
	return nil
}
