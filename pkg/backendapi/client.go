// Package backendapi is a JSON/HTTP client for the learning platform's
// backend API. It creates payments and checkout sessions, records payment
// status, and stores subscriptions.
package backendapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/brightpath/backend/internal/contextkeys"
	"github.com/brightpath/backend/internal/domain"
)

const tracerName = "github.com/brightpath/backend/pkg/backendapi"

// maxErrorBody caps how much of an error response is read for its message.
const maxErrorBody = 64 << 10

// Client talks to the backend API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	tracer  trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New creates a client. Every request is bounded by timeout.
func New(baseURL, apiKey string, timeout time.Duration, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend API URL %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreatePayment handles POST /payment.
func (c *Client) CreatePayment(ctx context.Context, req *domain.PaymentRequest) (*domain.PaymentResponse, error) {
	var resp domain.PaymentResponse
	if err := c.do(ctx, http.MethodPost, "/payment", req, &resp); err != nil {
		return nil, err
	}
	if resp.SessionID == "" || resp.PaymentURL == "" {
		return nil, domain.ErrProvider("payment provider returned no session", nil)
	}
	resp.Provider = domain.ProviderLocal
	return &resp, nil
}

// CreateCheckoutSession handles POST /stripe/stripe-checkout.
func (c *Client) CreateCheckoutSession(ctx context.Context, req *domain.CheckoutSessionRequest) (*domain.CheckoutSessionResponse, error) {
	var resp domain.CheckoutSessionResponse
	if err := c.do(ctx, http.MethodPost, "/stripe/stripe-checkout", req, &resp); err != nil {
		return nil, err
	}
	if resp.SessionID == "" || resp.URL == "" {
		return nil, domain.ErrProvider("checkout provider returned no session", nil)
	}
	return &resp, nil
}

// UpdatePaymentStatus handles POST /payment/responseStatus.
func (c *Client) UpdatePaymentStatus(ctx context.Context, update *domain.StatusUpdate) error {
	return c.do(ctx, http.MethodPost, "/payment/responseStatus", update, nil)
}

// Create stores a subscription (POST /subscriptions).
func (c *Client) Create(ctx context.Context, sub *domain.Subscription) error {
	return c.do(ctx, http.MethodPost, "/subscriptions", sub, nil)
}

// ListByUserID returns all subscriptions of a user (GET /subscriptions/user/:userId).
func (c *Client) ListByUserID(ctx context.Context, userID string) ([]*domain.Subscription, error) {
	var subs []*domain.Subscription
	if err := c.do(ctx, http.MethodGet, "/subscriptions/user/"+url.PathEscape(userID), nil, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// FindActiveByUserID returns the newest active subscription, or nil.
func (c *Client) FindActiveByUserID(ctx context.Context, userID string) (*domain.Subscription, error) {
	subs, err := c.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	var active *domain.Subscription
	for _, s := range subs {
		if s.Status != domain.SubscriptionActive {
			continue
		}
		if active == nil || s.StartDate.After(active.StartDate) {
			active = s
		}
	}
	return active, nil
}

// FindByID looks a subscription up among the user's subscriptions.
func (c *Client) FindByID(ctx context.Context, userID, id string) (*domain.Subscription, error) {
	subs, err := c.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, s := range subs {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, nil
}

// UpdateStatus changes a subscription's status (PATCH /subscriptions/:id).
func (c *Client) UpdateStatus(ctx context.Context, id string, status domain.SubscriptionStatus) error {
	body := map[string]domain.SubscriptionStatus{"status": status}
	return c.do(ctx, http.MethodPatch, "/subscriptions/"+url.PathEscape(id), body, nil)
}

// Ping checks that the backend answers at all.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, method+" "+path, trace.WithSpanKind(trace.SpanKindClient))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return domain.ErrInternal("failed to encode backend request", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return domain.ErrInternal("failed to build backend request", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.bearer(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.ErrProvider(fmt.Sprintf("backend %s %s failed", method, path), err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.ErrProvider(errorMessage(resp), fmt.Errorf("backend %s %s: status %d", method, path, resp.StatusCode))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return domain.ErrProvider("backend returned an unreadable response", err)
	}
	return nil
}

// bearer prefers the caller's own token, so the backend sees the real user.
func (c *Client) bearer(ctx context.Context) string {
	if token, ok := ctx.Value(contextkeys.AuthToken).(string); ok && token != "" {
		return token
	}
	return c.apiKey
}

// errorMessage extracts a human-readable message from an error response.
func errorMessage(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" && len(text) <= 200 {
		return text
	}
	return fmt.Sprintf("backend request failed with status %d", resp.StatusCode)
}
