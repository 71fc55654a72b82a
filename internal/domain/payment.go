package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle state of a payment.
type PaymentStatus string

// Success uses a distinct upper-case spelling on the provider side; it is
// normalised to the single canonical value PaymentSuccess.
const (
	PaymentPending      PaymentStatus = "pending"
	PaymentFailed       PaymentStatus = "failed"
	PaymentCanceled     PaymentStatus = "canceled"
	PaymentExpired      PaymentStatus = "expired"
	PaymentUnauthorized PaymentStatus = "unauthorized"
	PaymentSuccess      PaymentStatus = "SUCCESS"
)

// ParsePaymentStatus normalises a provider status string.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return PaymentPending, nil
	case "failed":
		return PaymentFailed, nil
	case "canceled", "cancelled":
		return PaymentCanceled, nil
	case "expired":
		return PaymentExpired, nil
	case "unauthorized":
		return PaymentUnauthorized, nil
	case "success":
		return PaymentSuccess, nil
	}
	return "", fmt.Errorf("unknown payment status %q", s)
}

// Terminal reports whether no further transitions are allowed.
func (s PaymentStatus) Terminal() bool {
	return s != PaymentPending
}

// ProviderKind identifies a payment provider.
type ProviderKind string

const (
	ProviderLocal         ProviderKind = "local"
	ProviderInternational ProviderKind = "international"
)

// PaymentSession is the lightweight record held per client between checkout
// and confirmation. It is a convenience for the dashboard, never the source
// of truth for provisioning.
type PaymentSession struct {
	SessionID    string          `json:"sessionId"`
	PlanID       string          `json:"planId"`
	PlanName     string          `json:"planName"`
	Amount       decimal.Decimal `json:"amount"`
	BillingCycle BillingCycle    `json:"billingCycle"`
	Timestamp    int64           `json:"timestamp"`
}

// ProvisionState tracks subscription creation for a successful payment.
type ProvisionState string

const (
	ProvisionNone    ProvisionState = "none"
	ProvisionClaimed ProvisionState = "claimed"
	ProvisionDone    ProvisionState = "done"
)

// PaymentSessionRecord is the server-side record of a checkout, keyed by the
// provider's session id.
type PaymentSessionRecord struct {
	SessionID      string          `json:"sessionId"`
	UserID         string          `json:"userId"`
	Provider       ProviderKind    `json:"provider"`
	PlanID         string          `json:"planId"`
	PlanName       string          `json:"planName"`
	Amount         decimal.Decimal `json:"amount"`
	AmountMinor    int64           `json:"amountMinor"`
	Currency       string          `json:"currency"`
	BillingCycle   BillingCycle    `json:"billingCycle"`
	Phone          string          `json:"-"`
	Nonce          string          `json:"-"`
	Status         PaymentStatus   `json:"status"`
	ProvisionState ProvisionState  `json:"provisionState"`
	SubscriptionID string          `json:"subscriptionId,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// PaymentItem is a line item sent to the local provider.
type PaymentItem struct {
	Name        string `json:"name" validate:"required"`
	Quantity    int    `json:"quantity" validate:"gte=1"`
	Price       int64  `json:"price" validate:"gt=0"`
	Description string `json:"description"`
}

// PaymentRequest is the local provider's payment-creation request.
// Amount and item prices are minor currency units.
type PaymentRequest struct {
	UserID         string        `json:"userId" validate:"required"`
	Amount         int64         `json:"amount" validate:"gt=0"`
	Currency       string        `json:"currency" validate:"required,len=3"`
	CancelURL      string        `json:"cancelUrl" validate:"required,url"`
	SuccessURL     string        `json:"successUrl" validate:"required,url"`
	ErrorURL       string        `json:"errorUrl" validate:"required,url"`
	NotifyURL      string        `json:"notifyUrl" validate:"required,url"`
	Phone          string        `json:"phone" validate:"required,localphone"`
	Email          string        `json:"email,omitempty" validate:"omitempty,email"`
	Nonce          string        `json:"nonce" validate:"required"`
	ExpireDate     time.Time     `json:"expireDate" validate:"required"`
	Items          []PaymentItem `json:"items" validate:"len=1,dive"`
	PaymentMethods []string      `json:"paymentMethods" validate:"min=1"`
}

// PaymentResponse is returned by the local provider after creating a payment.
type PaymentResponse struct {
	SessionID  string       `json:"sessionId"`
	PaymentURL string       `json:"paymentUrl"`
	Provider   ProviderKind `json:"provider"`
}

// CheckoutLineItem references a pre-configured price.
type CheckoutLineItem struct {
	Price    string `json:"price" validate:"required"`
	Quantity int    `json:"quantity" validate:"eq=1"`
}

// CheckoutSessionRequest is the international provider's checkout request.
type CheckoutSessionRequest struct {
	UserID     string             `json:"userId" validate:"required"`
	Email      string             `json:"email,omitempty" validate:"omitempty,email"`
	SuccessURL string             `json:"successUrl" validate:"required,url"`
	CancelURL  string             `json:"cancelUrl" validate:"required,url"`
	NotifyURL  string             `json:"notifyUrl" validate:"required,url"`
	LineItems  []CheckoutLineItem `json:"lineItems" validate:"len=1,dive"`
	Metadata   map[string]string  `json:"metadata,omitempty"`
}

// CheckoutSessionResponse is returned by the international provider.
type CheckoutSessionResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// WebhookTransaction is the nested transaction block some providers send.
type WebhookTransaction struct {
	TransactionID     string `json:"transactionId"`
	TransactionStatus string `json:"transactionStatus"`
}

// WebhookPayload is the inbound payment notification body.
type WebhookPayload struct {
	UUID              string              `json:"uuid,omitempty"`
	Nonce             string              `json:"nonce,omitempty"`
	Phone             string              `json:"phone,omitempty"`
	TransactionStatus string              `json:"transactionStatus,omitempty"`
	PaymentStatus     string              `json:"paymentStatus,omitempty"`
	TotalAmount       *decimal.Decimal    `json:"totalAmount,omitempty"`
	Transaction       *WebhookTransaction `json:"transaction,omitempty"`
	NotificationURL   string              `json:"notificationUrl,omitempty"`
	SessionID         string              `json:"sessionId,omitempty"`
}

// ResolveSessionID returns sessionId, falling back to uuid.
func (p *WebhookPayload) ResolveSessionID() string {
	if p.SessionID != "" {
		return p.SessionID
	}
	return p.UUID
}

// ResolveStatus picks the payment status from whichever status fields are
// present. Success in any field wins; otherwise the first non-empty field
// in order paymentStatus, transactionStatus, transaction.transactionStatus.
func (p *WebhookPayload) ResolveStatus() (PaymentStatus, error) {
	fields := []string{p.PaymentStatus, p.TransactionStatus}
	if p.Transaction != nil {
		fields = append(fields, p.Transaction.TransactionStatus)
	}

	var (
		first   PaymentStatus
		lastErr error
	)
	for _, f := range fields {
		if f == "" {
			continue
		}
		st, err := ParsePaymentStatus(f)
		if err != nil {
			lastErr = err
			continue
		}
		if st == PaymentSuccess {
			return st, nil
		}
		if first == "" {
			first = st
		}
	}
	if first != "" {
		return first, nil
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", fmt.Errorf("no payment status in payload")
}

// StatusUpdate is forwarded to the backend when a status is applied.
type StatusUpdate struct {
	SessionID     string           `json:"sessionId"`
	Status        PaymentStatus    `json:"status"`
	TransactionID string           `json:"transactionId,omitempty"`
	TotalAmount   *decimal.Decimal `json:"totalAmount,omitempty"`
	Nonce         string           `json:"nonce,omitempty"`
}

// LocalCheckoutRequest is the dashboard request for a mobile-money checkout.
type LocalCheckoutRequest struct {
	PlanID   string `json:"planId" validate:"required"`
	Phone    string `json:"phone" validate:"required"`
	Email    string `json:"email" validate:"omitempty,email"`
	IsAnnual bool   `json:"isAnnual"`
}

// InternationalCheckoutRequest is the dashboard request for a card checkout.
type InternationalCheckoutRequest struct {
	PlanID   string `json:"planId" validate:"required"`
	PriceID  string `json:"priceId,omitempty"`
	Email    string `json:"email" validate:"omitempty,email"`
	IsAnnual bool   `json:"isAnnual"`
}
