package vodacash

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/h2non/gock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"payment-service/internal/config"
	"payment-service/internal/payment"
	"payment-service/internal/provider"
	"payment-service/internal/sms"
)

func newTestClient() *Client {
	smsClient := sms.NewClient(config.SMS{
		BaseURL:   "http://sms.example",
		APIKey:    "sms-key",
		SenderID:  "marketplace",
		TimeoutMs: 2000,
	})
	return NewClient(config.Provider{
		BaseURL:       "http://vodacash.example",
		APIKey:        "test-key",
		Secret:        "signing-secret",
		WebhookSecret: "webhook-secret",
		TimeoutMs:     2000,
		ExpiryMinutes: 15,
	}, smsClient, slog.Default())
}

func TestCreatePayment(t *testing.T) {
	defer gock.Off()

	gock.New("http://vodacash.example").
		Post("/cash/v1/charges").
		MatchHeader("X-Api-Key", "test-key").
		Reply(200).
		JSON(map[string]string{"charge_id": "ch_42", "status": "PENDING", "pin": "123456"})

	gock.New("http://sms.example").
		Post("/v1/messages").
		BodyString("123456").
		Reply(200).
		JSON(map[string]string{"id": "sms_1"})

	result, err := newTestClient().CreatePayment(context.Background(), provider.CreateRequest{
		Amount:        decimal.RequireFromString("150.00"),
		Currency:      "EGP",
		OrderID:       uuid.New(),
		CustomerPhone: "+201001234567",
	})

	assert.NoError(t, err)
	assert.Equal(t, "ch_42", result.ProviderRef)
	assert.Equal(t, payment.IntentPending, result.Status)
	assert.Equal(t, payment.ActionPINViaSMS, result.Action.Type)
	assert.Contains(t, result.Action.PINHint, "4567")
	assert.NotContains(t, result.Action.PINHint, "+201001234567")
	assert.NotNil(t, result.ExpiresAt)
	assert.True(t, gock.IsDone())
}

func TestCreatePayment_RequiresPhone(t *testing.T) {
	_, err := newTestClient().CreatePayment(context.Background(), provider.CreateRequest{
		Amount:   decimal.RequireFromString("150.00"),
		Currency: "EGP",
		OrderID:  uuid.New(),
	})
	assert.ErrorIs(t, err, payment.ErrInvalidRequest)
}

func TestCreatePayment_SMSDeliveryFails(t *testing.T) {
	defer gock.Off()

	gock.New("http://vodacash.example").
		Post("/cash/v1/charges").
		Reply(200).
		JSON(map[string]string{"charge_id": "ch_42", "status": "PENDING", "pin": "123456"})

	gock.New("http://sms.example").
		Post("/v1/messages").
		Reply(503)

	// the charge exists provider-side, so the result comes back with the error
	result, err := newTestClient().CreatePayment(context.Background(), provider.CreateRequest{
		Amount:        decimal.RequireFromString("150.00"),
		Currency:      "EGP",
		OrderID:       uuid.New(),
		CustomerPhone: "+201001234567",
	})

	assert.ErrorIs(t, err, provider.ErrArtifactDelivery)
	assert.NotNil(t, result)
	assert.Equal(t, "ch_42", result.ProviderRef)
}

func TestVerifyPayment(t *testing.T) {
	tests := []struct {
		name           string
		providerStatus string
		expected       provider.VerifyStatus
	}{
		{"Completed", "COMPLETED", provider.VerifySucceeded},
		{"Rejected", "REJECTED", provider.VerifyFailed},
		{"Expired", "EXPIRED", provider.VerifyExpired},
		{"Pending", "PENDING", provider.VerifyPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer gock.Off()

			gock.New("http://vodacash.example").
				Get("/cash/v1/charges/ch_42").
				Reply(200).
				JSON(map[string]string{"charge_id": "ch_42", "status": tt.providerStatus})

			result, err := newTestClient().VerifyPayment(context.Background(), "ch_42")
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, result.Status)
		})
	}
}

func TestRefund(t *testing.T) {
	defer gock.Off()

	gock.New("http://vodacash.example").
		Post("/cash/v1/refunds").
		JSON(map[string]string{"charge_id": "ch_42", "amount": "50.00"}).
		Reply(200).
		JSON(map[string]string{"refund_id": "rf_9", "status": "COMPLETED"})

	result, err := newTestClient().Refund(context.Background(), "ch_42", decimal.RequireFromString("50.00"))
	assert.NoError(t, err)
	assert.Equal(t, "rf_9", result.RefundRef)
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "******4567", maskPhone("+201001234567"))
	assert.Equal(t, "123", maskPhone("123"))
}
