package backendapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath/backend/internal/contextkeys"
	"github.com/brightpath/backend/internal/domain"
	"github.com/brightpath/backend/pkg/backendapi"
)

func newClient(t *testing.T, h http.HandlerFunc) *backendapi.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := backendapi.New(srv.URL, "service-key", 2*time.Second)
	require.NoError(t, err)
	return c
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := backendapi.New("not a url", "", time.Second)
	assert.Error(t, err)
}

func TestCreatePayment(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payment", r.URL.Path)
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))

		var req domain.PaymentRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(699), req.Amount)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sessionId":"sess-1","paymentUrl":"https://pay.example.com/sess-1"}`))
	})

	resp, err := c.CreatePayment(context.Background(), &domain.PaymentRequest{Amount: 699})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", resp.SessionID)
	assert.Equal(t, "https://pay.example.com/sess-1", resp.PaymentURL)
	assert.Equal(t, domain.ProviderLocal, resp.Provider)
}

func TestCreatePayment_ForwardsUserToken(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"sessionId":"s","paymentUrl":"u"}`))
	})

	ctx := context.WithValue(context.Background(), contextkeys.AuthToken, "user-token")
	_, err := c.CreatePayment(ctx, &domain.PaymentRequest{})
	require.NoError(t, err)
}

func TestCreatePayment_ErrorMessage(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"phone number is not registered for mobile money"}`))
	})

	_, err := c.CreatePayment(context.Background(), &domain.PaymentRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrKindProvider))
	appErr, ok := domain.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, "phone number is not registered for mobile money", appErr.Message)
	assert.Equal(t, http.StatusBadGateway, appErr.Code)
}

func TestCreatePayment_EmptySession(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := c.CreatePayment(context.Background(), &domain.PaymentRequest{})
	assert.True(t, errors.Is(err, domain.ErrKindProvider))
}

func TestCreateCheckoutSession(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stripe/stripe-checkout", r.URL.Path)
		var req domain.CheckoutSessionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if assert.Len(t, req.LineItems, 1) {
			assert.Equal(t, "price_1", req.LineItems[0].Price)
		}
		_, _ = w.Write([]byte(`{"sessionId":"cs_1","url":"https://checkout.example.com/cs_1"}`))
	})

	resp, err := c.CreateCheckoutSession(context.Background(), &domain.CheckoutSessionRequest{
		LineItems: []domain.CheckoutLineItem{{Price: "price_1", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", resp.SessionID)
}

func TestUpdatePaymentStatus_ServerError(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payment/responseStatus", r.URL.Path)
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := c.UpdatePaymentStatus(context.Background(), &domain.StatusUpdate{SessionID: "s", Status: domain.PaymentSuccess})
	require.Error(t, err)
	appErr, ok := domain.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, "backend request failed with status 500", appErr.Message)
}

func TestSubscriptions(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	var patched string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/subscriptions/user/user-1":
			_ = json.NewEncoder(w).Encode([]*domain.Subscription{
				{ID: "old", Status: domain.SubscriptionActive, StartDate: now.AddDate(0, -2, 0), Price: decimal.NewFromInt(5)},
				{ID: "new", Status: domain.SubscriptionActive, StartDate: now},
				{ID: "gone", Status: domain.SubscriptionExpired, StartDate: now.AddDate(0, 1, 0)},
			})
		case r.Method == http.MethodPatch:
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			patched = r.URL.Path + ":" + body["status"]
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodPost && r.URL.Path == "/subscriptions":
			w.WriteHeader(http.StatusCreated)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})
	ctx := context.Background()

	active, err := c.FindActiveByUserID(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "new", active.ID)

	found, err := c.FindByID(ctx, "user-1", "gone")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, domain.SubscriptionExpired, found.Status)

	require.NoError(t, c.UpdateStatus(ctx, "old", domain.SubscriptionSuperseded))
	assert.Equal(t, "/subscriptions/old:superseded", patched)

	require.NoError(t, c.Create(ctx, &domain.Subscription{ID: "x"}))
}
