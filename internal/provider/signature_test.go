package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignAndValidate(t *testing.T) {
	body := []byte(`{"transaction_id":"tx_1","status":"PAID"}`)

	signature := Sign("secret", body)
	assert.Len(t, signature, 64)
	assert.True(t, ValidSignature("secret", signature, body))

	assert.False(t, ValidSignature("other-secret", signature, body))
	assert.False(t, ValidSignature("secret", signature, []byte(`tampered`)))
	assert.False(t, ValidSignature("secret", "not-hex", body))
	assert.False(t, ValidSignature("secret", "", body))
}

func TestSign_Deterministic(t *testing.T) {
	body := []byte("payload")
	assert.Equal(t, Sign("secret", body), Sign("secret", body))
	assert.NotEqual(t, Sign("secret", body), Sign("secret", []byte("other")))
}
