package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/brightpath/backend/internal/clientstate"
	"github.com/brightpath/backend/internal/domain"
	"github.com/brightpath/backend/internal/metrics"
	"github.com/brightpath/backend/internal/notify"
	"github.com/brightpath/backend/internal/repository"
	"github.com/brightpath/backend/pkg/payment"
)

type fakeSessions struct {
	mu        sync.Mutex
	recs      map[string]*domain.PaymentSessionRecord
	claimedAt map[string]time.Time
	createErr error
	now       func() time.Time
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		recs:      make(map[string]*domain.PaymentSessionRecord),
		claimedAt: make(map[string]time.Time),
		now:       time.Now,
	}
}

func (f *fakeSessions) Create(ctx context.Context, rec *domain.PaymentSessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	c := *rec
	f.recs[rec.SessionID] = &c
	return nil
}

func (f *fakeSessions) FindBySessionID(ctx context.Context, id string) (*domain.PaymentSessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.get(id), nil
}

func (f *fakeSessions) get(id string) *domain.PaymentSessionRecord {
	rec, ok := f.recs[id]
	if !ok {
		return nil
	}
	c := *rec
	return &c
}

func (f *fakeSessions) TransitionStatus(ctx context.Context, id string, status domain.PaymentStatus) (*domain.PaymentSessionRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[id]
	if !ok {
		return nil, false, nil
	}
	if rec.Status != domain.PaymentPending {
		return f.get(id), false, nil
	}
	rec.Status = status
	return f.get(id), true, nil
}

func (f *fakeSessions) ClaimProvisioning(ctx context.Context, id string, staleAfter time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[id]
	if !ok || rec.Status != domain.PaymentSuccess {
		return false, nil
	}
	stale := rec.ProvisionState == domain.ProvisionClaimed && f.claimedAt[id].Before(f.now().Add(-staleAfter))
	if rec.ProvisionState != domain.ProvisionNone && !stale {
		return false, nil
	}
	rec.ProvisionState = domain.ProvisionClaimed
	f.claimedAt[id] = f.now()
	return true, nil
}

func (f *fakeSessions) CompleteProvisioning(ctx context.Context, id, subID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.recs[id]
	rec.ProvisionState = domain.ProvisionDone
	rec.SubscriptionID = subID
	return nil
}

func (f *fakeSessions) ReleaseProvisioning(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec := f.recs[id]; rec != nil && rec.ProvisionState == domain.ProvisionClaimed {
		rec.ProvisionState = domain.ProvisionNone
	}
	return nil
}

func (f *fakeSessions) ListUnprovisioned(ctx context.Context, staleAfter time.Duration, limit int) ([]*domain.PaymentSessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.PaymentSessionRecord
	for id, rec := range f.recs {
		if rec.Status != domain.PaymentSuccess {
			continue
		}
		stale := rec.ProvisionState == domain.ProvisionClaimed && f.claimedAt[id].Before(f.now().Add(-staleAfter))
		if rec.ProvisionState == domain.ProvisionNone || stale {
			out = append(out, f.get(id))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeSessions) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recs)
}

type fakeSubs struct {
	mu        sync.Mutex
	subs      map[string]*domain.Subscription
	createErr error
}

func newFakeSubs() *fakeSubs {
	return &fakeSubs{subs: make(map[string]*domain.Subscription)}
}

func (f *fakeSubs) Create(ctx context.Context, sub *domain.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, exists := f.subs[sub.ID]; !exists {
		c := *sub
		f.subs[sub.ID] = &c
	}
	return nil
}

func (f *fakeSubs) FindActiveByUserID(ctx context.Context, userID string) (*domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *domain.Subscription
	for _, s := range f.subs {
		if s.UserID == userID && s.Status == domain.SubscriptionActive && (best == nil || olderThan(best, s)) {
			best = s
		}
	}
	if best == nil {
		return nil, nil
	}
	c := *best
	return &c, nil
}

func (f *fakeSubs) FindByID(ctx context.Context, userID, id string) (*domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[id]
	if !ok || s.UserID != userID {
		return nil, nil
	}
	c := *s
	return &c, nil
}

func (f *fakeSubs) ListByUserID(ctx context.Context, userID string) ([]*domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Subscription
	for _, s := range f.subs {
		if s.UserID == userID {
			c := *s
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeSubs) UpdateStatus(ctx context.Context, id string, status domain.SubscriptionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.subs[id]; ok {
		s.Status = status
	}
	return nil
}

func (f *fakeSubs) countFor(userID string) int {
	subs, _ := f.ListByUserID(context.Background(), userID)
	return len(subs)
}

func (f *fakeSubs) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createErr = err
}

type fakeEvents struct {
	mu   sync.Mutex
	seen map[string]int
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{seen: make(map[string]int)}
}

func (f *fakeEvents) Record(ctx context.Context, ev *repository.WebhookEvent) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[ev.DeliveryKey]++
	return f.seen[ev.DeliveryKey] == 1, nil
}

// recordingHub collects published events.
type recordingHub struct {
	mu     sync.Mutex
	events map[string][]notify.Event
}

func newRecordingHub() *recordingHub {
	return &recordingHub{events: make(map[string][]notify.Event)}
}

func (h *recordingHub) Publish(userID string, ev notify.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[userID] = append(h.events[userID], ev)
}

func (h *recordingHub) types(userID string) []notify.EventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []notify.EventType
	for _, ev := range h.events[userID] {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	gateway  *payment.MockGateway
	sessions *fakeSessions
	subs     *fakeSubs
	events   *fakeEvents
	client   *clientstate.MemoryStore
	hub      *recordingHub
	metrics  *metrics.Metrics

	checkout  *CheckoutService
	subsSvc   *SubscriptionService
	reconcile *ReconcileService
	retrier   *ProvisioningRetrier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	local, err := payment.NewLocalProvider("251", "ETB", nil)
	require.NoError(t, err)
	intl := payment.NewInternationalProvider(map[string]string{"builder_monthly": "price_builder_m"})

	f := &fixture{
		gateway:  payment.NewMockGateway(),
		sessions: newFakeSessions(),
		subs:     newFakeSubs(),
		events:   newFakeEvents(),
		client:   clientstate.NewMemoryStore(),
		hub:      newRecordingHub(),
		metrics:  metrics.NewNop(),
	}
	log := zerolog.Nop()
	f.subsSvc = NewSubscriptionService(f.subs, f.sessions, f.client, f.hub, f.metrics, log)
	f.checkout = NewCheckoutService(f.gateway, local, intl, f.sessions, f.client, f.hub, f.metrics, log,
		"https://api.brightpath.test", 5*time.Second)
	f.reconcile = NewReconcileService(f.sessions, f.events, f.gateway, f.subsSvc, f.hub, f.metrics, log, 5*time.Second)
	f.retrier = NewProvisioningRetrier(f.sessions, f.subsSvc, f.metrics, log, time.Minute)
	return f
}

// seedPending stores a pending session as checkout would have.
func (f *fixture) seedPending(t *testing.T, sessionID, userID string) {
	t.Helper()
	require.NoError(t, f.sessions.Create(context.Background(), &domain.PaymentSessionRecord{
		SessionID:      sessionID,
		UserID:         userID,
		Provider:       domain.ProviderLocal,
		PlanID:         "builder",
		PlanName:       "Builder",
		Amount:         decimal.RequireFromString("12.99"),
		AmountMinor:    1299,
		Currency:       "ETB",
		BillingCycle:   domain.BillingMonthly,
		Nonce:          "nonce-" + sessionID,
		Status:         domain.PaymentPending,
		ProvisionState: domain.ProvisionNone,
		CreatedAt:      time.Now(),
	}))
}
