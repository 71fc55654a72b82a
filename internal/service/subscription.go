package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/brightpath/backend/internal/clientstate"
	"github.com/brightpath/backend/internal/domain"
	"github.com/brightpath/backend/internal/metrics"
	"github.com/brightpath/backend/internal/notify"
)

// Subscription sources, used as a metrics label.
const (
	sourcePayment = "payment"
	sourceManual  = "manual"
)

// SubscriptionService creates subscriptions once a payment is confirmed, and
// serves the dashboard's view of them.
type SubscriptionService struct {
	subs     SubscriptionStore
	sessions PaymentSessionStore
	client   clientstate.Store
	hub      notify.Publisher
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time
}

func NewSubscriptionService(
	subs SubscriptionStore,
	sessions PaymentSessionStore,
	client clientstate.Store,
	hub notify.Publisher,
	m *metrics.Metrics,
	log zerolog.Logger,
) *SubscriptionService {
	return &SubscriptionService{
		subs:     subs,
		sessions: sessions,
		client:   client,
		hub:      hub,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// Create starts a new active subscription for userID. Active subscriptions
// older than the newest one are superseded.
func (s *SubscriptionService) Create(ctx context.Context, userID string, in domain.CreateSubscriptionInput) (*domain.Subscription, error) {
	return s.create(ctx, userID, domain.NewSubscriptionID(), in, sourceManual)
}

func (s *SubscriptionService) create(ctx context.Context, userID, id string, in domain.CreateSubscriptionInput, source string) (*domain.Subscription, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated()
	}
	if !in.Plan.Valid() {
		return nil, domain.ErrFieldValidation("plan", "unknown plan")
	}
	if _, err := domain.ParseBillingCycle(string(in.BillingCycle)); err != nil {
		return nil, domain.ErrFieldValidation("billingCycle", err.Error())
	}
	if in.Price.IsNegative() {
		return nil, domain.ErrFieldValidation("price", "price must not be negative")
	}

	existing, err := s.subs.FindByID(ctx, userID, id)
	if err != nil {
		return nil, domain.ErrInternal("failed to look up subscription", err)
	}
	if existing != nil {
		return existing, nil
	}

	start := s.now().UTC().Truncate(time.Microsecond)
	end := in.BillingCycle.PeriodEnd(start)
	sub := &domain.Subscription{
		ID:               id,
		UserID:           userID,
		PlanName:         in.Plan.String(),
		Status:           domain.SubscriptionActive,
		StartDate:        start,
		EndDate:          end,
		AutoRenew:        true,
		Price:            in.Price,
		Currency:         in.Currency,
		BillingCycle:     in.BillingCycle,
		Features:         in.Features,
		LastPaymentDate:  start,
		NextBillingDate:  end,
		PaymentSessionID: in.PaymentSessionID,
		CreatedAt:        start,
		UpdatedAt:        start,
	}
	if err := s.subs.Create(ctx, sub); err != nil {
		return nil, domain.ErrInternal("failed to create subscription", err)
	}

	if err := s.supersedeOlder(ctx, userID); err != nil {
		s.log.Error().Err(err).Str("userId", userID).Str("subscriptionId", sub.ID).
			Msg("failed to supersede previous subscriptions")
	}

	if err := s.client.Delete(ctx, userID, clientstate.PaymentSessionKey); err != nil {
		s.log.Warn().Err(err).Str("userId", userID).Msg("failed to clear client payment session")
	}

	s.metrics.SubscriptionsCreated.WithLabelValues(sub.PlanName, source).Inc()
	s.hub.Publish(userID, notify.Event{
		Type:      notify.SubscriptionCreated,
		Level:     notify.LevelSuccess,
		SessionID: sub.PaymentSessionID,
		Message:   fmt.Sprintf("Your %s plan is active", sub.PlanName),
	})
	s.log.Info().Str("userId", userID).Str("subscriptionId", sub.ID).Str("plan", sub.PlanName).
		Str("source", source).Msg("subscription created")
	return sub, nil
}

// olderSuperseder collapses a user's active subscriptions in one statement.
// Implemented by repository.SubscriptionRepository.
type olderSuperseder interface {
	SupersedeOlder(ctx context.Context, userID string) (int64, error)
}

// supersedeOlder marks every active subscription of userID that is older than
// the newest active one as superseded. Ordering is by start date, then id, so
// concurrent creates agree on which subscription survives.
func (s *SubscriptionService) supersedeOlder(ctx context.Context, userID string) error {
	if store, ok := s.subs.(olderSuperseder); ok {
		_, err := store.SupersedeOlder(ctx, userID)
		return err
	}

	all, err := s.subs.ListByUserID(ctx, userID)
	if err != nil {
		return err
	}
	var newest *domain.Subscription
	for _, sub := range all {
		if sub.Status == domain.SubscriptionActive && (newest == nil || olderThan(newest, sub)) {
			newest = sub
		}
	}
	for _, old := range all {
		if old.Status != domain.SubscriptionActive || !olderThan(old, newest) {
			continue
		}
		if err := s.subs.UpdateStatus(ctx, old.ID, domain.SubscriptionSuperseded); err != nil {
			return fmt.Errorf("supersede %s: %w", old.ID, err)
		}
	}
	return nil
}

func olderThan(a, b *domain.Subscription) bool {
	if a.StartDate.Equal(b.StartDate) {
		return a.ID < b.ID
	}
	return a.StartDate.Before(b.StartDate)
}

// ProvisionFromSession creates the subscription paid for by rec, using only
// server-held terms. It returns nil, nil when another worker holds the claim.
func (s *SubscriptionService) ProvisionFromSession(ctx context.Context, rec *domain.PaymentSessionRecord) (*domain.Subscription, error) {
	if rec.Status != domain.PaymentSuccess {
		return nil, domain.ErrConflict("payment not confirmed yet")
	}

	claimed, err := s.sessions.ClaimProvisioning(ctx, rec.SessionID, StaleClaimAfter)
	if err != nil {
		return nil, domain.ErrInternal("failed to claim provisioning", err)
	}
	if !claimed {
		return s.existingForSession(ctx, rec)
	}

	in, err := inputFromSession(rec)
	if err != nil {
		_ = s.sessions.ReleaseProvisioning(ctx, rec.SessionID)
		return nil, err
	}
	sub, err := s.create(ctx, rec.UserID, domain.SubscriptionIDForSession(rec.SessionID), in, sourcePayment)
	if err != nil {
		if relErr := s.sessions.ReleaseProvisioning(ctx, rec.SessionID); relErr != nil {
			s.log.Error().Err(relErr).Str("sessionId", rec.SessionID).Msg("failed to release provisioning claim")
		}
		return nil, err
	}

	// A failure here leaves a stale claim; the retrier finds the existing
	// subscription by its derived id and completes it.
	if err := s.sessions.CompleteProvisioning(ctx, rec.SessionID, sub.ID); err != nil {
		s.log.Error().Err(err).Str("sessionId", rec.SessionID).Str("subscriptionId", sub.ID).
			Msg("failed to mark session provisioned")
	}
	return sub, nil
}

func (s *SubscriptionService) existingForSession(ctx context.Context, rec *domain.PaymentSessionRecord) (*domain.Subscription, error) {
	current, err := s.sessions.FindBySessionID(ctx, rec.SessionID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load payment session", err)
	}
	if current == nil || current.ProvisionState != domain.ProvisionDone {
		return nil, nil
	}
	sub, err := s.subs.FindByID(ctx, current.UserID, current.SubscriptionID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load subscription", err)
	}
	return sub, nil
}

func inputFromSession(rec *domain.PaymentSessionRecord) (domain.CreateSubscriptionInput, error) {
	plan, err := domain.ParsePlan(rec.PlanName)
	if err != nil {
		p, ok := domain.PlanFromSlug(rec.PlanID)
		if !ok {
			return domain.CreateSubscriptionInput{}, domain.ErrValidation(fmt.Sprintf("session %s has unknown plan %q", rec.SessionID, rec.PlanName))
		}
		plan = p
	}
	var features []string
	if info, ok := domain.GetPlan(plan.Slug()); ok {
		features = info.Features
	}
	return domain.CreateSubscriptionInput{
		Plan:             plan,
		Price:            rec.Amount,
		Currency:         rec.Currency,
		BillingCycle:     rec.BillingCycle,
		Features:         features,
		PaymentSessionID: rec.SessionID,
	}, nil
}

// Confirm serves the payment success page for the session the client holds.
func (s *SubscriptionService) Confirm(ctx context.Context, userID, sessionID string) (*domain.Subscription, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated()
	}
	rec, err := s.sessions.FindBySessionID(ctx, sessionID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load payment session", err)
	}
	if rec == nil || rec.UserID != userID {
		return nil, domain.ErrNotFound("payment session not found")
	}

	switch rec.Status {
	case domain.PaymentPending:
		return nil, domain.ErrConflict("payment not confirmed yet")
	case domain.PaymentSuccess:
	default:
		return nil, domain.ErrBadRequest(fmt.Sprintf("payment %s", rec.Status))
	}

	var sub *domain.Subscription
	if rec.ProvisionState == domain.ProvisionDone {
		sub, err = s.subs.FindByID(ctx, userID, rec.SubscriptionID)
		if err != nil {
			return nil, domain.ErrInternal("failed to load subscription", err)
		}
	}
	if sub == nil {
		sub, err = s.ProvisionFromSession(ctx, rec)
		if err != nil {
			return nil, err
		}
		if sub == nil {
			return nil, domain.ErrConflict("subscription is being provisioned")
		}
	}

	if err := s.client.Delete(ctx, userID, clientstate.PaymentSessionKey); err != nil {
		s.log.Warn().Err(err).Str("userId", userID).Msg("failed to clear client payment session")
	}
	return sub, nil
}

// Current returns the user's active subscription, or nil.
func (s *SubscriptionService) Current(ctx context.Context, userID string) (*domain.Subscription, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated()
	}
	sub, err := s.subs.FindActiveByUserID(ctx, userID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load subscription", err)
	}
	return sub, nil
}
