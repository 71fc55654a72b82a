package domain_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath/backend/internal/domain"
)

func TestParsePaymentStatus(t *testing.T) {
	tests := map[string]domain.PaymentStatus{
		"SUCCESS":      domain.PaymentSuccess,
		"success":      domain.PaymentSuccess,
		"Pending":      domain.PaymentPending,
		"FAILED":       domain.PaymentFailed,
		"cancelled":    domain.PaymentCanceled,
		"CANCELED":     domain.PaymentCanceled,
		"expired":      domain.PaymentExpired,
		"UNAUTHORIZED": domain.PaymentUnauthorized,
	}
	for in, want := range tests {
		got, err := domain.ParsePaymentStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := domain.ParsePaymentStatus("refunded")
	assert.Error(t, err)
}

func TestPaymentStatus_Terminal(t *testing.T) {
	assert.False(t, domain.PaymentPending.Terminal())
	for _, s := range []domain.PaymentStatus{
		domain.PaymentSuccess, domain.PaymentFailed, domain.PaymentCanceled,
		domain.PaymentExpired, domain.PaymentUnauthorized,
	} {
		assert.True(t, s.Terminal(), s)
	}
}

func TestWebhookPayload_ResolveStatus(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    domain.PaymentStatus
		wantErr bool
	}{
		{"transaction status", `{"transactionStatus":"SUCCESS"}`, domain.PaymentSuccess, false},
		{"payment status", `{"paymentStatus":"success"}`, domain.PaymentSuccess, false},
		{"nested transaction", `{"transaction":{"transactionId":"t1","transactionStatus":"SUCCESS"}}`, domain.PaymentSuccess, false},
		{"success in any field wins", `{"paymentStatus":"pending","transactionStatus":"SUCCESS"}`, domain.PaymentSuccess, false},
		{"first non-empty", `{"paymentStatus":"failed","transactionStatus":"canceled"}`, domain.PaymentFailed, false},
		{"unknown skipped", `{"paymentStatus":"weird","transactionStatus":"expired"}`, domain.PaymentExpired, false},
		{"only unknown", `{"paymentStatus":"weird"}`, "", true},
		{"missing", `{"sessionId":"s1"}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p domain.WebhookPayload
			require.NoError(t, json.Unmarshal([]byte(tt.body), &p))
			got, err := p.ResolveStatus()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWebhookPayload_ResolveSessionID(t *testing.T) {
	p := domain.WebhookPayload{UUID: "u-1"}
	assert.Equal(t, "u-1", p.ResolveSessionID())
	p.SessionID = "s-1"
	assert.Equal(t, "s-1", p.ResolveSessionID())
}

func TestErrorKinds(t *testing.T) {
	assert.True(t, errors.Is(domain.ErrUnauthenticated(), domain.ErrKindUnauthenticated))
	assert.True(t, errors.Is(domain.ErrFieldValidation("phone", "bad"), domain.ErrKindValidation))
	assert.True(t, errors.Is(domain.ErrIdempotencyConflict("dup"), domain.ErrKindIdempotencyConflict))

	cause := errors.New("connection refused")
	err := domain.ErrProvider("payment backend unavailable", cause)
	assert.True(t, errors.Is(err, domain.ErrKindProvider))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, http.StatusBadGateway, err.Code)

	appErr, ok := domain.AsAppError(errors.Join(errors.New("ctx"), domain.ErrNotFound("missing")))
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, appErr.Code)
}
