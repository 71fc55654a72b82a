package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/brightpath/backend/internal/domain"
	"github.com/brightpath/backend/internal/metrics"
	"github.com/brightpath/backend/internal/notify"
	"github.com/brightpath/backend/internal/repository"
	"github.com/brightpath/backend/pkg/payment"
)

// Outcome describes what a webhook delivery did.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeConflict  Outcome = "conflict"
	OutcomeStale     Outcome = "stale"
	OutcomeUnknown   Outcome = "unknown_session"
)

type ReconcileResult struct {
	SessionID string
	Status    domain.PaymentStatus
	Outcome   Outcome
	// Subscription is set when this delivery led to (or found) a provisioned subscription.
	Subscription *domain.Subscription
}

// ReconcileService applies provider webhook deliveries to payment sessions.
// The first terminal status recorded for a session is final.
type ReconcileService struct {
	sessions PaymentSessionStore
	events   WebhookEventLog
	gateway  payment.Gateway
	subs     *SubscriptionService
	hub      notify.Publisher
	metrics  *metrics.Metrics
	log      zerolog.Logger
	timeout  time.Duration
}

func NewReconcileService(
	sessions PaymentSessionStore,
	events WebhookEventLog,
	gateway payment.Gateway,
	subs *SubscriptionService,
	hub notify.Publisher,
	m *metrics.Metrics,
	log zerolog.Logger,
	timeout time.Duration,
) *ReconcileService {
	return &ReconcileService{
		sessions: sessions,
		events:   events,
		gateway:  gateway,
		subs:     subs,
		hub:      hub,
		metrics:  m,
		log:      log,
		timeout:  timeout,
	}
}

// HandleWebhook processes one delivery. A returned BadRequest AppError means
// the payload can never succeed; any other error means the provider should retry.
func (s *ReconcileService) HandleWebhook(ctx context.Context, p *domain.WebhookPayload) (*ReconcileResult, error) {
	sessionID := p.ResolveSessionID()
	if sessionID == "" {
		return nil, domain.ErrBadRequest("missing session id")
	}
	status, err := p.ResolveStatus()
	if err != nil {
		return nil, domain.ErrBadRequest(err.Error())
	}
	log := s.log.With().Str("sessionId", sessionID).Str("status", string(status)).Logger()

	firstSeen, err := s.record(ctx, sessionID, status, p)
	if err != nil {
		return nil, domain.ErrInternal("failed to record webhook delivery", err)
	}
	if !firstSeen {
		log.Info().Msg("replayed webhook delivery")
	}

	var (
		rec     *domain.PaymentSessionRecord
		applied bool
	)
	rec, err = s.sessions.FindBySessionID(ctx, sessionID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load payment session", err)
	}
	if rec != nil && status.Terminal() {
		if reason := verifyDelivery(rec, p); reason != "" {
			s.metrics.WebhookRejected.WithLabelValues(reason).Inc()
			log.Warn().Str("reason", reason).Str("userId", rec.UserID).Msg("unverified webhook delivery rejected")
			return nil, domain.ErrBadRequest("webhook delivery could not be verified")
		}
		rec, applied, err = s.sessions.TransitionStatus(ctx, sessionID, status)
		if err != nil {
			return nil, domain.ErrInternal("failed to apply payment status", err)
		}
	}

	res := &ReconcileResult{SessionID: sessionID, Status: status}
	switch {
	case rec == nil:
		res.Outcome = OutcomeUnknown
	case applied:
		res.Outcome = OutcomeApplied
	case rec.Status == status:
		res.Outcome = OutcomeDuplicate
	case !status.Terminal():
		res.Outcome = OutcomeStale
	default:
		res.Outcome = OutcomeConflict
	}
	defer func() {
		s.metrics.WebhookDeliveries.WithLabelValues(string(status), string(res.Outcome)).Inc()
	}()

	switch res.Outcome {
	case OutcomeConflict:
		s.metrics.WebhookConflicts.Inc()
		log.Warn().Err(domain.ErrIdempotencyConflict(fmt.Sprintf("session already %s", rec.Status))).
			Str("recorded", string(rec.Status)).Msg("conflicting terminal status ignored")
		return res, nil
	case OutcomeStale:
		log.Info().Str("recorded", string(rec.Status)).Msg("non-terminal status for finished session ignored")
		return res, nil
	}

	if err := s.forward(ctx, p, sessionID, status); err != nil {
		log.Error().Err(err).Msg("failed to forward payment status")
		return nil, domain.ErrInternal("failed to forward payment status", err)
	}

	if rec == nil {
		if status == domain.PaymentSuccess {
			s.metrics.ProvisioningFailures.WithLabelValues("unknown_session").Inc()
			log.Error().Msg("unresolved provisioning: successful payment for unknown session")
		}
		return res, nil
	}

	s.publishStatus(rec.UserID, sessionID, status)

	if status == domain.PaymentSuccess {
		sub, err := s.subs.ProvisionFromSession(ctx, rec)
		if err != nil {
			s.metrics.ProvisioningFailures.WithLabelValues("create_failed").Inc()
			log.Error().Err(err).Str("userId", rec.UserID).Msg("provisioning deferred")
			s.hub.Publish(rec.UserID, notify.Event{
				Type:      notify.ProvisioningDeferred,
				Level:     notify.LevelError,
				SessionID: sessionID,
				Status:    string(status),
				Message:   "Payment received. Your subscription will be activated shortly.",
			})
			return res, nil
		}
		res.Subscription = sub
	}
	return res, nil
}

// verifyDelivery reports why p cannot have come from the provider that
// handles rec, or "" when it matches.
func verifyDelivery(rec *domain.PaymentSessionRecord, p *domain.WebhookPayload) string {
	if rec.Nonce == "" || subtle.ConstantTimeCompare([]byte(p.Nonce), []byte(rec.Nonce)) != 1 {
		return "nonce_mismatch"
	}
	if p.TotalAmount != nil && !p.TotalAmount.Equal(rec.Amount) {
		return "amount_mismatch"
	}
	return ""
}

func (s *ReconcileService) record(ctx context.Context, sessionID string, status domain.PaymentStatus, p *domain.WebhookPayload) (bool, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return false, err
	}
	key := p.Nonce
	if key == "" {
		key = sessionID
	}
	return s.events.Record(ctx, &repository.WebhookEvent{
		DeliveryKey: key + ":" + string(status),
		SessionID:   sessionID,
		Status:      string(status),
		Payload:     raw,
	})
}

func (s *ReconcileService) forward(ctx context.Context, p *domain.WebhookPayload, sessionID string, status domain.PaymentStatus) error {
	update := &domain.StatusUpdate{
		SessionID:   sessionID,
		Status:      status,
		TotalAmount: p.TotalAmount,
		Nonce:       p.Nonce,
	}
	if p.Transaction != nil {
		update.TransactionID = p.Transaction.TransactionID
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.gateway.UpdatePaymentStatus(callCtx, update)
}

func (s *ReconcileService) publishStatus(userID, sessionID string, status domain.PaymentStatus) {
	ev := notify.Event{
		Type:      notify.PaymentStatusChanged,
		Level:     notify.LevelInfo,
		SessionID: sessionID,
		Status:    string(status),
	}
	switch status {
	case domain.PaymentSuccess:
		ev.Level = notify.LevelSuccess
		ev.Message = "Payment successful"
	case domain.PaymentPending:
		ev.Message = "Payment is being processed"
	default:
		ev.Level = notify.LevelError
		ev.Message = fmt.Sprintf("Payment %s", status)
	}
	s.hub.Publish(userID, ev)
}
