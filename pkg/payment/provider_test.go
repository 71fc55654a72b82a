package payment_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath/backend/internal/domain"
	"github.com/brightpath/backend/pkg/payment"
)

func newLocal(t *testing.T) *payment.LocalProvider {
	t.Helper()
	p, err := payment.NewLocalProvider("251", "ETB", nil)
	require.NoError(t, err)
	return p
}

func checkoutInput(phone string) payment.CheckoutInput {
	return payment.CheckoutInput{
		UserID:       "user-1",
		Phone:        phone,
		PlanID:       "starter",
		PlanName:     "Starter",
		Amount:       decimal.RequireFromString("6.99"),
		BillingCycle: domain.BillingMonthly,
		URLs:         payment.BuildRedirectURLs("https://app.example.com", "https://api.example.com", "starter", domain.BillingMonthly, "nonce-123"),
		IssuedAt:     time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
		Nonce:        "nonce-123",
	}
}

func TestLocalProvider_PhoneValidation(t *testing.T) {
	p := newLocal(t)

	tests := []struct {
		phone string
		valid bool
	}{
		{"251912345678", true},
		{"0912345678", false},
		{"25191234567", false},
		{"251912345678a", false},
		{"2519123456789", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.phone, func(t *testing.T) {
			assert.Equal(t, tt.valid, p.ValidPhone(tt.phone))

			_, err := p.BuildRequest(checkoutInput(tt.phone))
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrKindValidation))
			appErr, ok := domain.AsAppError(err)
			require.True(t, ok)
			assert.Equal(t, "phone", appErr.Field)
		})
	}
}

func TestLocalProvider_BuildRequest(t *testing.T) {
	p := newLocal(t)
	in := checkoutInput("251912345678")

	req, err := p.BuildRequest(in)
	require.NoError(t, err)

	assert.Equal(t, int64(699), req.Amount)
	assert.Equal(t, "ETB", req.Currency)
	assert.Equal(t, in.IssuedAt.Add(24*time.Hour), req.ExpireDate)
	require.Len(t, req.Items, 1)
	assert.Equal(t, "Starter Plan (monthly)", req.Items[0].Name)
	assert.Equal(t, 1, req.Items[0].Quantity)
	assert.Equal(t, int64(699), req.Items[0].Price)
	assert.Equal(t, payment.DefaultLocalMethods, req.PaymentMethods)
	assert.Equal(t, "nonce-123", req.Nonce)
	assert.Equal(t, "https://app.example.com/payment/success?plan=starter&billing=monthly", req.SuccessURL)
	assert.Equal(t, "https://app.example.com/payment/cancel?status=canceled", req.CancelURL)
	assert.Equal(t, "https://app.example.com/payment/error?status=error", req.ErrorURL)
	assert.Equal(t, "https://api.example.com/payment/webhook?nonce=nonce-123", req.NotifyURL)
}

func TestLocalProvider_RejectsNonPositiveAmount(t *testing.T) {
	p := newLocal(t)
	in := checkoutInput("251912345678")
	in.Amount = decimal.Zero

	_, err := p.BuildRequest(in)
	require.Error(t, err)
	appErr, ok := domain.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, "amount", appErr.Field)
}

func TestNewLocalProvider_InvalidCountryCode(t *testing.T) {
	_, err := payment.NewLocalProvider("+251", "ETB", nil)
	assert.Error(t, err)
}

func TestLocalProvider_RequiresNonce(t *testing.T) {
	p := newLocal(t)
	in := checkoutInput("251912345678")
	in.Nonce = ""

	_, err := p.BuildRequest(in)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrKindValidation))
}

func TestToMinorUnits(t *testing.T) {
	tests := map[string]int64{
		"6.99":   699,
		"69.99":  6999,
		"0.01":   1,
		"10":     1000,
		"12.345": 1235,
	}
	for in, want := range tests {
		assert.Equal(t, want, payment.ToMinorUnits(decimal.RequireFromString(in)), in)
	}
}

func TestInternationalProvider_BuildCheckout(t *testing.T) {
	p := payment.NewInternationalProvider(map[string]string{
		"builder_yearly": "price_builder_yearly",
	})
	in := checkoutInput("")
	in.PlanID = "builder"
	in.PlanName = "Builder"
	in.BillingCycle = domain.BillingYearly

	req, err := p.BuildCheckout(in, "")
	require.NoError(t, err)
	require.Len(t, req.LineItems, 1)
	assert.Equal(t, domain.CheckoutLineItem{Price: "price_builder_yearly", Quantity: 1}, req.LineItems[0])
	assert.Equal(t, "builder", req.Metadata["planId"])
	assert.Equal(t, "https://api.example.com/payment/webhook?nonce=nonce-123", req.NotifyURL)
	assert.False(t, p.RequiresPhone())

	req, err = p.BuildCheckout(in, "price_override")
	require.NoError(t, err)
	assert.Equal(t, "price_override", req.LineItems[0].Price)
}

func TestInternationalProvider_MissingPrice(t *testing.T) {
	p := payment.NewInternationalProvider(nil)

	_, err := p.BuildCheckout(checkoutInput(""), "")
	require.Error(t, err)
	appErr, ok := domain.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, "priceId", appErr.Field)
}

func TestProvidersFormClosedSet(t *testing.T) {
	providers := []payment.Provider{newLocal(t), payment.NewInternationalProvider(nil)}

	assert.Equal(t, domain.ProviderLocal, providers[0].Kind())
	assert.True(t, providers[0].RequiresPhone())
	assert.Equal(t, domain.ProviderInternational, providers[1].Kind())
	assert.Equal(t, []string{"card"}, providers[1].SupportedMethods())
}
