package service

import (
	"context"
	"time"

	"github.com/brightpath/backend/internal/domain"
	"github.com/brightpath/backend/internal/repository"
)

// StaleClaimAfter is how long a provisioning claim is honoured before
// another worker may take it over.
const StaleClaimAfter = 10 * time.Minute

// PaymentSessionStore is the durable server-side record of checkouts.
// Implemented by repository.PaymentSessionRepository.
type PaymentSessionStore interface {
	Create(ctx context.Context, rec *domain.PaymentSessionRecord) error
	FindBySessionID(ctx context.Context, sessionID string) (*domain.PaymentSessionRecord, error)
	TransitionStatus(ctx context.Context, sessionID string, status domain.PaymentStatus) (*domain.PaymentSessionRecord, bool, error)
	ClaimProvisioning(ctx context.Context, sessionID string, staleAfter time.Duration) (bool, error)
	CompleteProvisioning(ctx context.Context, sessionID, subscriptionID string) error
	ReleaseProvisioning(ctx context.Context, sessionID string) error
	ListUnprovisioned(ctx context.Context, staleAfter time.Duration, limit int) ([]*domain.PaymentSessionRecord, error)
}

// SubscriptionStore persists subscriptions. Implemented by
// repository.SubscriptionRepository and backendapi.Client.
type SubscriptionStore interface {
	Create(ctx context.Context, sub *domain.Subscription) error
	FindActiveByUserID(ctx context.Context, userID string) (*domain.Subscription, error)
	FindByID(ctx context.Context, userID, id string) (*domain.Subscription, error)
	ListByUserID(ctx context.Context, userID string) ([]*domain.Subscription, error)
	UpdateStatus(ctx context.Context, id string, status domain.SubscriptionStatus) error
}

// WebhookEventLog is the audit trail of inbound webhook deliveries.
type WebhookEventLog interface {
	Record(ctx context.Context, ev *repository.WebhookEvent) (bool, error)
}
