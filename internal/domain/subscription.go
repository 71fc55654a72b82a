package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BillingCycle is the recurrence period of a subscription.
type BillingCycle string

const (
	BillingMonthly   BillingCycle = "monthly"
	BillingQuarterly BillingCycle = "quarterly"
	BillingYearly    BillingCycle = "yearly"
)

// BillingCycleFor maps the dashboard's annual toggle to a cycle.
func BillingCycleFor(isAnnual bool) BillingCycle {
	if isAnnual {
		return BillingYearly
	}
	return BillingMonthly
}

func ParseBillingCycle(s string) (BillingCycle, error) {
	switch c := BillingCycle(s); c {
	case BillingMonthly, BillingQuarterly, BillingYearly:
		return c, nil
	}
	return "", fmt.Errorf("unknown billing cycle %q", s)
}

func (c BillingCycle) months() int {
	switch c {
	case BillingQuarterly:
		return 3
	case BillingYearly:
		return 12
	default:
		return 1
	}
}

// PeriodEnd returns start plus one billing interval.
func (c BillingCycle) PeriodEnd(start time.Time) time.Time {
	return AddMonthsClamped(start, c.months())
}

// AddMonthsClamped adds calendar months, clamping the day to the last day of
// the target month instead of overflowing into the next one
// (Jan 31 + 1 month = Feb 28/29, not Mar 2/3).
func AddMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

// SubscriptionStatus values.
type SubscriptionStatus string

const (
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionSuperseded SubscriptionStatus = "superseded"
	SubscriptionCanceled   SubscriptionStatus = "canceled"
	SubscriptionExpired    SubscriptionStatus = "expired"
)

// Subscription represents a user's subscription to a plan.
type Subscription struct {
	ID               string             `json:"id"`
	UserID           string             `json:"userId"`
	PlanName         string             `json:"planName"`
	Status           SubscriptionStatus `json:"status"`
	StartDate        time.Time          `json:"startDate"`
	EndDate          time.Time          `json:"endDate"`
	AutoRenew        bool               `json:"autoRenew"`
	Price            decimal.Decimal    `json:"price"`
	Currency         string             `json:"currency"`
	BillingCycle     BillingCycle       `json:"billingCycle"`
	Features         []string           `json:"features"`
	LastPaymentDate  time.Time          `json:"lastPaymentDate"`
	NextBillingDate  time.Time          `json:"nextBillingDate"`
	PaymentSessionID string             `json:"paymentSessionId,omitempty"`
	CreatedAt        time.Time          `json:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

// Plan parses PlanName. It returns nil unless the subscription is active and
// names a known plan, which makes it a direct input to CanAccessCourse.
func (s *Subscription) Plan() *Plan {
	if s == nil || s.Status != SubscriptionActive {
		return nil
	}
	p, err := ParsePlan(s.PlanName)
	if err != nil {
		return nil
	}
	return &p
}

// CreateSubscriptionInput carries the terms of a new subscription.
type CreateSubscriptionInput struct {
	Plan             Plan            `json:"plan"`
	Price            decimal.Decimal `json:"price"`
	Currency         string          `json:"currency"`
	BillingCycle     BillingCycle    `json:"billingCycle" validate:"required,oneof=monthly quarterly yearly"`
	Features         []string        `json:"features"`
	PaymentSessionID string          `json:"paymentSessionId,omitempty"`
}

// GrantSubscriptionRequest is the admin request for a manual grant.
type GrantSubscriptionRequest struct {
	UserID       string          `json:"userId" validate:"required"`
	Plan         Plan            `json:"plan"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency"`
	BillingCycle BillingCycle    `json:"billingCycle" validate:"required,oneof=monthly quarterly yearly"`
	Features     []string        `json:"features"`
}

// ConfirmSubscriptionRequest is sent by the payment success page.
type ConfirmSubscriptionRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
}
