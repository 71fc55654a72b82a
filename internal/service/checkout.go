package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/brightpath/backend/internal/clientstate"
	"github.com/brightpath/backend/internal/domain"
	"github.com/brightpath/backend/internal/metrics"
	"github.com/brightpath/backend/internal/notify"
	"github.com/brightpath/backend/pkg/payment"
)

// ClientSessionTTL is how long the client-held payment session is kept.
const ClientSessionTTL = 24 * time.Hour

// LocalPaymentInput describes a mobile-money checkout.
type LocalPaymentInput struct {
	PlanID   string
	PlanName string
	Amount   decimal.Decimal
	Phone    string
	Email    string
	IsAnnual bool
	Origin   string
}

// InternationalPaymentInput describes a card checkout. PriceID is optional.
type InternationalPaymentInput struct {
	PlanID   string
	PlanName string
	PriceID  string
	Amount   decimal.Decimal
	Currency string
	Email    string
	IsAnnual bool
	Origin   string
}

// CheckoutService turns a plan selection into a provider checkout and keeps
// both the durable and the client-held record of it.
type CheckoutService struct {
	gateway  payment.Gateway
	local    *payment.LocalProvider
	intl     *payment.InternationalProvider
	sessions PaymentSessionStore
	client   clientstate.Store
	hub      notify.Publisher
	metrics  *metrics.Metrics
	log      zerolog.Logger

	apiBaseURL string
	timeout    time.Duration
	now        func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewCheckoutService(
	gateway payment.Gateway,
	local *payment.LocalProvider,
	intl *payment.InternationalProvider,
	sessions PaymentSessionStore,
	client clientstate.Store,
	hub notify.Publisher,
	m *metrics.Metrics,
	log zerolog.Logger,
	apiBaseURL string,
	timeout time.Duration,
) *CheckoutService {
	return &CheckoutService{
		gateway:    gateway,
		local:      local,
		intl:       intl,
		sessions:   sessions,
		client:     client,
		hub:        hub,
		metrics:    m,
		log:        log,
		apiBaseURL: apiBaseURL,
		timeout:    timeout,
		now:        time.Now,
		inFlight:   make(map[string]struct{}),
	}
}

// CreateLocalPayment opens a mobile-money payment for userID.
func (s *CheckoutService) CreateLocalPayment(ctx context.Context, userID string, in LocalPaymentInput) (*domain.PaymentResponse, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated()
	}
	release, err := s.begin(userID)
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.now()
	cycle := domain.BillingCycleFor(in.IsAnnual)
	nonce := domain.NewNonce()
	req, err := s.local.BuildRequest(payment.CheckoutInput{
		UserID:       userID,
		Email:        in.Email,
		Phone:        in.Phone,
		PlanID:       in.PlanID,
		PlanName:     in.PlanName,
		Amount:       in.Amount,
		BillingCycle: cycle,
		URLs:         payment.BuildRedirectURLs(in.Origin, s.apiBaseURL, in.PlanID, cycle, nonce),
		IssuedAt:     now,
		Nonce:        nonce,
	})
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	resp, err := s.gateway.CreatePayment(callCtx, req)
	if err != nil {
		s.log.Warn().Err(err).Str("userId", userID).Str("plan", in.PlanID).Msg("local payment creation failed")
		return nil, asProviderError(err)
	}
	resp.Provider = domain.ProviderLocal

	rec := &domain.PaymentSessionRecord{
		SessionID:      resp.SessionID,
		UserID:         userID,
		Provider:       domain.ProviderLocal,
		PlanID:         in.PlanID,
		PlanName:       in.PlanName,
		Amount:         in.Amount,
		AmountMinor:    req.Amount,
		Currency:       req.Currency,
		BillingCycle:   cycle,
		Phone:          in.Phone,
		Nonce:          nonce,
		Status:         domain.PaymentPending,
		ProvisionState: domain.ProvisionNone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.persist(ctx, rec); err != nil {
		return nil, err
	}
	return resp, nil
}

// CreateInternationalPayment opens a card checkout session for userID.
func (s *CheckoutService) CreateInternationalPayment(ctx context.Context, userID string, in InternationalPaymentInput) (*domain.CheckoutSessionResponse, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated()
	}
	release, err := s.begin(userID)
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.now()
	cycle := domain.BillingCycleFor(in.IsAnnual)
	nonce := domain.NewNonce()
	req, err := s.intl.BuildCheckout(payment.CheckoutInput{
		UserID:       userID,
		Email:        in.Email,
		PlanID:       in.PlanID,
		PlanName:     in.PlanName,
		Amount:       in.Amount,
		BillingCycle: cycle,
		URLs:         payment.BuildRedirectURLs(in.Origin, s.apiBaseURL, in.PlanID, cycle, nonce),
		IssuedAt:     now,
		Nonce:        nonce,
	}, in.PriceID)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	resp, err := s.gateway.CreateCheckoutSession(callCtx, req)
	if err != nil {
		s.log.Warn().Err(err).Str("userId", userID).Str("plan", in.PlanID).Msg("checkout session creation failed")
		return nil, asProviderError(err)
	}
	if resp.SessionID == "" || resp.URL == "" {
		return nil, domain.ErrProvider("checkout session response is missing session id or url", nil)
	}

	rec := &domain.PaymentSessionRecord{
		SessionID:      resp.SessionID,
		UserID:         userID,
		Provider:       domain.ProviderInternational,
		PlanID:         in.PlanID,
		PlanName:       in.PlanName,
		Amount:         in.Amount,
		AmountMinor:    payment.ToMinorUnits(in.Amount),
		Currency:       in.Currency,
		BillingCycle:   cycle,
		Nonce:          nonce,
		Status:         domain.PaymentPending,
		ProvisionState: domain.ProvisionNone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.persist(ctx, rec); err != nil {
		return nil, err
	}
	return resp, nil
}

// persist writes the durable record, then the client-held session.
func (s *CheckoutService) persist(ctx context.Context, rec *domain.PaymentSessionRecord) error {
	if err := s.sessions.Create(ctx, rec); err != nil {
		s.log.Error().Err(err).Str("sessionId", rec.SessionID).Msg("failed to persist payment session")
		return domain.ErrInternal("failed to record payment session", err)
	}

	cs := domain.PaymentSession{
		SessionID:    rec.SessionID,
		PlanID:       rec.PlanID,
		PlanName:     rec.PlanName,
		Amount:       rec.Amount,
		BillingCycle: rec.BillingCycle,
		Timestamp:    rec.CreatedAt.UnixMilli(),
	}
	b, err := json.Marshal(cs)
	if err != nil {
		return domain.ErrInternal("failed to encode payment session", err)
	}
	if err := s.client.Set(ctx, rec.UserID, clientstate.PaymentSessionKey, b, ClientSessionTTL); err != nil {
		s.log.Warn().Err(err).Str("userId", rec.UserID).Str("sessionId", rec.SessionID).
			Msg("failed to store client payment session")
	}

	s.metrics.PaymentsCreated.WithLabelValues(string(rec.Provider), rec.PlanID).Inc()
	s.hub.Publish(rec.UserID, notify.Event{
		Type:      notify.PaymentCreated,
		Level:     notify.LevelInfo,
		SessionID: rec.SessionID,
		Status:    string(rec.Status),
		Message:   fmt.Sprintf("Payment started for the %s plan", rec.PlanName),
	})
	s.log.Info().Str("userId", rec.UserID).Str("sessionId", rec.SessionID).
		Str("provider", string(rec.Provider)).Str("plan", rec.PlanID).Msg("payment session created")
	return nil
}

// GetSession returns the client-held payment session, or nil.
func (s *CheckoutService) GetSession(ctx context.Context, userID string) (*domain.PaymentSession, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated()
	}
	b, err := s.client.Get(ctx, userID, clientstate.PaymentSessionKey)
	if err != nil {
		return nil, domain.ErrInternal("failed to read payment session", err)
	}
	if b == nil {
		return nil, nil
	}
	var cs domain.PaymentSession
	if err := json.Unmarshal(b, &cs); err != nil {
		s.log.Warn().Err(err).Str("userId", userID).Msg("discarding unreadable client payment session")
		if err := s.client.Delete(ctx, userID, clientstate.PaymentSessionKey); err != nil {
			s.log.Warn().Err(err).Str("userId", userID).Msg("failed to delete unreadable client payment session")
		}
		return nil, nil
	}
	return &cs, nil
}

// ClearSession removes the client-held payment session.
func (s *CheckoutService) ClearSession(ctx context.Context, userID string) error {
	if userID == "" {
		return domain.ErrUnauthenticated()
	}
	if err := s.client.Delete(ctx, userID, clientstate.PaymentSessionKey); err != nil {
		return domain.ErrInternal("failed to clear payment session", err)
	}
	return nil
}

// begin marks a checkout in flight for userID; the returned func clears it.
func (s *CheckoutService) begin(userID string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[userID]; busy {
		return nil, domain.ErrConflict("checkout already in progress")
	}
	s.inFlight[userID] = struct{}{}
	return func() {
		s.mu.Lock()
		delete(s.inFlight, userID)
		s.mu.Unlock()
	}, nil
}

// asProviderError keeps AppErrors from the gateway and wraps anything else.
func asProviderError(err error) error {
	if _, ok := domain.AsAppError(err); ok {
		return err
	}
	return domain.ErrProvider("payment provider unavailable", err)
}
