package service

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath/backend/internal/domain"
	"github.com/brightpath/backend/internal/notify"
)

func successPayload(sessionID string) *domain.WebhookPayload {
	return &domain.WebhookPayload{
		SessionID:     sessionID,
		Nonce:         "nonce-" + sessionID,
		PaymentStatus: "SUCCESS",
		Transaction:   &domain.WebhookTransaction{TransactionID: "tx-1", TransactionStatus: "SUCCESS"},
	}
}

func TestHandleWebhook_IdempotentSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPending(t, "sess-1", "user-1")

	first, err := f.reconcile.HandleWebhook(ctx, successPayload("sess-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, first.Outcome)
	require.NotNil(t, first.Subscription)

	second, err := f.reconcile.HandleWebhook(ctx, successPayload("sess-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)

	assert.Equal(t, 1, f.subs.countFor("user-1"), "replays must not create a second subscription")
	rec, _ := f.sessions.FindBySessionID(ctx, "sess-1")
	assert.Equal(t, domain.PaymentSuccess, rec.Status)
	assert.Equal(t, domain.ProvisionDone, rec.ProvisionState)
	assert.Equal(t, domain.SubscriptionIDForSession("sess-1"), rec.SubscriptionID)

	sub := first.Subscription
	assert.Equal(t, "Builder", sub.PlanName)
	assert.Equal(t, domain.SubscriptionActive, sub.Status)
	assert.Equal(t, "sess-1", sub.PaymentSessionID)
	assert.True(t, rec.Amount.Equal(sub.Price))

	require.Equal(t, 2, f.gateway.UpdateCount())
	assert.Equal(t, "tx-1", f.gateway.Updates[0].TransactionID)
	assert.Equal(t, domain.PaymentSuccess, f.gateway.Updates[0].Status)
	assert.Contains(t, f.hub.types("user-1"), notify.SubscriptionCreated)
}

func TestHandleWebhook_FirstTerminalStatusWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPending(t, "sess-1", "user-1")

	_, err := f.reconcile.HandleWebhook(ctx, successPayload("sess-1"))
	require.NoError(t, err)

	late := &domain.WebhookPayload{SessionID: "sess-1", Nonce: "nonce-sess-1", TransactionStatus: "FAILED"}
	res, err := f.reconcile.HandleWebhook(ctx, late)
	require.NoError(t, err, "conflicts are acknowledged")
	assert.Equal(t, OutcomeConflict, res.Outcome)

	rec, _ := f.sessions.FindBySessionID(ctx, "sess-1")
	assert.Equal(t, domain.PaymentSuccess, rec.Status)
	assert.Equal(t, 1, f.gateway.UpdateCount(), "conflicting status is not forwarded")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WebhookConflicts))
	assert.Equal(t, 1, f.subs.countFor("user-1"))
}

func TestHandleWebhook_FailureThenPendingIsStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPending(t, "sess-1", "user-1")

	res, err := f.reconcile.HandleWebhook(ctx, &domain.WebhookPayload{UUID: "sess-1", Nonce: "nonce-sess-1", TransactionStatus: "cancelled"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, domain.PaymentCanceled, res.Status)
	assert.Zero(t, f.subs.countFor("user-1"))

	res, err = f.reconcile.HandleWebhook(ctx, &domain.WebhookPayload{UUID: "sess-1", PaymentStatus: "pending"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, res.Outcome)
	assert.Equal(t, 1, f.gateway.UpdateCount())
}

func TestHandleWebhook_BadPayload(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name    string
		payload *domain.WebhookPayload
	}{
		{"missing session id", &domain.WebhookPayload{PaymentStatus: "SUCCESS"}},
		{"no status", &domain.WebhookPayload{SessionID: "sess-1"}},
		{"unknown status", &domain.WebhookPayload{SessionID: "sess-1", PaymentStatus: "WHATEVER"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.reconcile.HandleWebhook(context.Background(), tt.payload)
			appErr, ok := domain.AsAppError(err)
			require.True(t, ok)
			assert.Equal(t, http.StatusBadRequest, appErr.Code)
		})
	}
	assert.Zero(t, f.gateway.UpdateCount())
}

func TestHandleWebhook_UnknownSession(t *testing.T) {
	f := newFixture(t)

	res, err := f.reconcile.HandleWebhook(context.Background(), successPayload("ghost"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknown, res.Outcome)
	assert.Equal(t, 1, f.gateway.UpdateCount(), "status is still forwarded")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ProvisioningFailures.WithLabelValues("unknown_session")))
}

func TestHandleWebhook_ForwardFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPending(t, "sess-1", "user-1")
	f.gateway.SetErr(errors.New("backend down"))

	_, err := f.reconcile.HandleWebhook(ctx, successPayload("sess-1"))
	require.Error(t, err)
	appErr, ok := domain.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, appErr.Code)

	f.gateway.SetErr(nil)
	res, err := f.reconcile.HandleWebhook(ctx, successPayload("sess-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.NotNil(t, res.Subscription)
	assert.Equal(t, 1, f.gateway.UpdateCount())
	assert.Equal(t, 1, f.subs.countFor("user-1"))
}

func TestHandleWebhook_DeferredProvisioningRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPending(t, "sess-1", "user-1")
	f.subs.setErr(errors.New("subscriptions table locked"))

	res, err := f.reconcile.HandleWebhook(ctx, successPayload("sess-1"))
	require.NoError(t, err, "the delivery is acknowledged even when provisioning fails")
	assert.Nil(t, res.Subscription)
	assert.Contains(t, f.hub.types("user-1"), notify.ProvisioningDeferred)

	rec, _ := f.sessions.FindBySessionID(ctx, "sess-1")
	assert.Equal(t, domain.ProvisionNone, rec.ProvisionState, "claim is released")

	backlog, err := f.retrier.Backlog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, backlog.Count)

	f.subs.setErr(nil)
	report := f.retrier.RunOnce(ctx)
	assert.Equal(t, RetryReport{Checked: 1, Provisioned: 1}, report)
	assert.Equal(t, 1, f.subs.countFor("user-1"))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.ProvisioningBacklog))

	report = f.retrier.RunOnce(ctx)
	assert.Equal(t, RetryReport{}, report)
}

func TestHandleWebhook_RejectsUnverifiedDeliveries(t *testing.T) {
	tests := []struct {
		name    string
		payload func() *domain.WebhookPayload
		reason  string
	}{
		{"missing nonce", func() *domain.WebhookPayload {
			p := successPayload("sess-1")
			p.Nonce = ""
			return p
		}, "nonce_mismatch"},
		{"wrong nonce", func() *domain.WebhookPayload {
			p := successPayload("sess-1")
			p.Nonce = "guessed"
			return p
		}, "nonce_mismatch"},
		{"amount mismatch", func() *domain.WebhookPayload {
			p := successPayload("sess-1")
			amount := decimal.NewFromInt(1)
			p.TotalAmount = &amount
			return p
		}, "amount_mismatch"},
		{"forged failure", func() *domain.WebhookPayload {
			return &domain.WebhookPayload{SessionID: "sess-1", PaymentStatus: "failed"}
		}, "nonce_mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.seedPending(t, "sess-1", "user-1")

			_, err := f.reconcile.HandleWebhook(ctx, tt.payload())
			appErr, ok := domain.AsAppError(err)
			require.True(t, ok)
			assert.Equal(t, http.StatusBadRequest, appErr.Code)

			rec, _ := f.sessions.FindBySessionID(ctx, "sess-1")
			assert.Equal(t, domain.PaymentPending, rec.Status, "nothing is applied")
			assert.Zero(t, f.gateway.UpdateCount(), "nothing is forwarded")
			assert.Zero(t, f.subs.countFor("user-1"))
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WebhookRejected.WithLabelValues(tt.reason)))
		})
	}
}

func TestHandleWebhook_CheckoutNonceRequired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.checkout.CreateLocalPayment(ctx, "user-1", LocalPaymentInput{
		PlanID:   "organization",
		PlanName: "Organization",
		Amount:   decimal.RequireFromString("499.99"),
		Phone:    "251912345678",
		IsAnnual: true,
		Origin:   "https://app.brightpath.test",
	})
	require.NoError(t, err)

	cheap := decimal.NewFromInt(1)
	_, err = f.reconcile.HandleWebhook(ctx, &domain.WebhookPayload{
		SessionID:     resp.SessionID,
		PaymentStatus: "SUCCESS",
		TotalAmount:   &cheap,
	})
	require.Error(t, err)
	assert.Zero(t, f.subs.countFor("user-1"), "a self-made success notification must not provision")

	paid := decimal.RequireFromString("499.99")
	res, err := f.reconcile.HandleWebhook(ctx, &domain.WebhookPayload{
		SessionID:     resp.SessionID,
		Nonce:         f.gateway.Payments[0].Nonce,
		PaymentStatus: "SUCCESS",
		TotalAmount:   &paid,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	require.NotNil(t, res.Subscription)
	assert.Equal(t, "Organization", res.Subscription.PlanName)
}
