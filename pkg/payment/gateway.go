package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/brightpath/backend/internal/domain"
	"github.com/google/uuid"
)

// Gateway is the outbound side of checkout: it creates payments and records
// provider status changes with the backend.
type Gateway interface {
	// CreatePayment submits a local (mobile money) payment request.
	CreatePayment(ctx context.Context, req *domain.PaymentRequest) (*domain.PaymentResponse, error)
	// CreateCheckoutSession opens an international card checkout session.
	CreateCheckoutSession(ctx context.Context, req *domain.CheckoutSessionRequest) (*domain.CheckoutSessionResponse, error)
	// UpdatePaymentStatus records a webhook-reported status with the backend.
	UpdatePaymentStatus(ctx context.Context, update *domain.StatusUpdate) error
}

// MockGateway is an in-process gateway for development and tests. It hands
// out fake checkout URLs and remembers every call.
type MockGateway struct {
	mu sync.Mutex
	// Err, when set, is returned from every call.
	Err error

	Payments  []*domain.PaymentRequest
	Checkouts []*domain.CheckoutSessionRequest
	Updates   []*domain.StatusUpdate
}

func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

func (g *MockGateway) CreatePayment(ctx context.Context, req *domain.PaymentRequest) (*domain.PaymentResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return nil, domain.ErrProvider("failed to create payment", g.Err)
	}
	g.Payments = append(g.Payments, req)
	sessionID := uuid.New().String()
	return &domain.PaymentResponse{
		SessionID:  sessionID,
		PaymentURL: fmt.Sprintf("https://checkout.example.com/pay/%s", sessionID),
		Provider:   domain.ProviderLocal,
	}, nil
}

func (g *MockGateway) CreateCheckoutSession(ctx context.Context, req *domain.CheckoutSessionRequest) (*domain.CheckoutSessionResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return nil, domain.ErrProvider("failed to create checkout session", g.Err)
	}
	g.Checkouts = append(g.Checkouts, req)
	sessionID := "cs_" + uuid.New().String()
	return &domain.CheckoutSessionResponse{
		SessionID: sessionID,
		URL:       fmt.Sprintf("https://checkout.example.com/c/%s", sessionID),
	}, nil
}

func (g *MockGateway) UpdatePaymentStatus(ctx context.Context, update *domain.StatusUpdate) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return domain.ErrProvider("failed to update payment status", g.Err)
	}
	g.Updates = append(g.Updates, update)
	return nil
}

// UpdateCount returns the number of recorded status updates.
func (g *MockGateway) UpdateCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Updates)
}

// SetErr changes the injected failure under the lock.
func (g *MockGateway) SetErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Err = err
}
