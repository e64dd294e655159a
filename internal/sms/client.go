package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"payment-service/internal/config"
)

const defaultTimeoutMs = 10_000

// Client talks to the SMS gateway collaborator. Its only consumer is the
// Vodafone Cash adapter, which delivers payment PINs out-of-band.
type Client struct {
	baseURL  string
	apiKey   string
	senderID string
	client   *http.Client
}

func NewClient(cfg config.SMS) *Client {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if cfg.TimeoutMs <= 0 {
		timeout = defaultTimeoutMs * time.Millisecond
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		senderID: cfg.SenderID,
		client:   &http.Client{Timeout: timeout},
	}
}

type sendRequest struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Message string `json:"message"`
}

func (c *Client) Send(ctx context.Context, phone, message string) error {
	data, err := json.Marshal(sendRequest{To: phone, From: c.senderID, Message: message})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(data))
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
		return fmt.Errorf("sms gateway response: %s", resp.Status)
	}
	return nil
}
