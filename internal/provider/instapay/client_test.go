package instapay

import (
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/gock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"payment-service/internal/config"
	"payment-service/internal/payment"
	"payment-service/internal/provider"
)

func newTestClient() *Client {
	return NewClient(config.Provider{
		BaseURL:       "http://instapay.example",
		APIKey:        "test-key",
		Secret:        "signing-secret",
		WebhookSecret: "webhook-secret",
		TimeoutMs:     2000,
		ExpiryMinutes: 30,
	}, slog.Default())
}

func TestCreatePayment(t *testing.T) {
	defer gock.Off()

	expiresAt := time.Now().Add(30 * time.Minute).UTC().Format(time.RFC3339)
	gock.New("http://instapay.example").
		Post("/api/v1/transactions").
		MatchHeader("X-Api-Key", "test-key").
		Reply(200).
		JSON(map[string]string{
			"transaction_id": "tx_555",
			"status":         "PENDING",
			"qr_string":      "00020101021226580014...",
			"expires_at":     expiresAt,
		})

	result, err := newTestClient().CreatePayment(context.Background(), provider.CreateRequest{
		Amount:   decimal.RequireFromString("250.00"),
		Currency: "EGP",
		OrderID:  uuid.New(),
	})

	assert.NoError(t, err)
	assert.Equal(t, "tx_555", result.ProviderRef)
	assert.Equal(t, payment.IntentPending, result.Status)
	assert.Equal(t, payment.ActionQR, result.Action.Type)
	assert.Equal(t, "00020101021226580014...", result.Action.QRPayload)
	assert.NotNil(t, result.ExpiresAt)
	assert.True(t, gock.IsDone())
}

func TestCreatePayment_RequestsAreSigned(t *testing.T) {
	defer gock.Off()

	var capturedSignature string
	gock.New("http://instapay.example").
		Post("/api/v1/transactions").
		AddMatcher(func(req *http.Request, _ *gock.Request) (bool, error) {
			capturedSignature = req.Header.Get("X-Signature")
			return true, nil
		}).
		Reply(200).
		JSON(map[string]string{"transaction_id": "tx_555", "status": "PENDING"})

	_, err := newTestClient().CreatePayment(context.Background(), provider.CreateRequest{
		Amount:   decimal.RequireFromString("250.00"),
		Currency: "EGP",
		OrderID:  uuid.New(),
	})

	assert.NoError(t, err)
	assert.NotEmpty(t, capturedSignature)
	assert.Len(t, capturedSignature, 64)
}

func TestVerifyPayment(t *testing.T) {
	tests := []struct {
		name           string
		providerStatus string
		expiresAt      string
		expected       provider.VerifyStatus
	}{
		{"Paid", "PAID", "", provider.VerifySucceeded},
		{"Declined", "DECLINED", "", provider.VerifyFailed},
		{"Expired", "EXPIRED", "", provider.VerifyExpired},
		{"Pending", "PENDING", time.Now().Add(10 * time.Minute).UTC().Format(time.RFC3339), provider.VerifyPending},
		{"PendingPastWindow", "PENDING", time.Now().Add(-10 * time.Minute).UTC().Format(time.RFC3339), provider.VerifyExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer gock.Off()

			gock.New("http://instapay.example").
				Get("/api/v1/transactions/tx_555").
				Reply(200).
				JSON(map[string]string{
					"transaction_id": "tx_555",
					"status":         tt.providerStatus,
					"expires_at":     tt.expiresAt,
				})

			result, err := newTestClient().VerifyPayment(context.Background(), "tx_555")
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, result.Status)
		})
	}
}

func TestVerifyPayment_ProviderDown(t *testing.T) {
	defer gock.Off()

	gock.New("http://instapay.example").
		Get("/api/v1/transactions/tx_555").
		Reply(502)

	_, err := newTestClient().VerifyPayment(context.Background(), "tx_555")
	assert.ErrorIs(t, err, payment.ErrProviderUnavailable)
}

func TestRefund(t *testing.T) {
	defer gock.Off()

	gock.New("http://instapay.example").
		Post("/api/v1/refunds").
		JSON(map[string]string{"transaction_id": "tx_555", "amount": "100.00"}).
		Reply(200).
		JSON(map[string]string{"transaction_id": "rf_001", "status": "REFUNDED"})

	result, err := newTestClient().Refund(context.Background(), "tx_555", decimal.RequireFromString("100.00"))
	assert.NoError(t, err)
	assert.Equal(t, "rf_001", result.RefundRef)
	assert.Equal(t, "REFUNDED", result.Status)
}

func TestWebhook(t *testing.T) {
	client := newTestClient()
	body := []byte(`{"transaction_id":"tx_555","status":"PAID"}`)

	assert.NoError(t, client.VerifyWebhook(provider.Sign("webhook-secret", body), body))
	assert.ErrorIs(t, client.VerifyWebhook(provider.Sign("wrong-secret", body), body), payment.ErrWebhookSignatureInvalid)

	ref, status, err := client.DecodeWebhook(body)
	assert.NoError(t, err)
	assert.Equal(t, "tx_555", ref)
	assert.Equal(t, provider.VerifySucceeded, status)
}
