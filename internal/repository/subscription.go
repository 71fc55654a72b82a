package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/brightpath/backend/internal/domain"
)

const subscriptionColumns = `
	id, user_id, plan_name, status, start_date, end_date, auto_renew, price::text, currency,
	billing_cycle, features, last_payment_date, next_billing_date, payment_session_id,
	created_at, updated_at`

type SubscriptionRepository struct {
	db *pgxpool.Pool
}

func NewSubscriptionRepository(db *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// Create inserts sub. Inserting an id that already exists is a no-op.
func (r *SubscriptionRepository) Create(ctx context.Context, sub *domain.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			id, user_id, plan_name, status, start_date, end_date, auto_renew, price, currency,
			billing_cycle, features, last_payment_date, next_billing_date, payment_session_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO NOTHING
	`
	features := sub.Features
	if features == nil {
		features = []string{}
	}
	_, err := r.db.Exec(ctx, query,
		sub.ID, sub.UserID, sub.PlanName, sub.Status, sub.StartDate, sub.EndDate, sub.AutoRenew,
		sub.Price.String(), sub.Currency, sub.BillingCycle, features,
		sub.LastPaymentDate, sub.NextBillingDate, sub.PaymentSessionID,
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepository) FindActiveByUserID(ctx context.Context, userID string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE user_id = $1 AND status = 'active' ORDER BY start_date DESC, id DESC LIMIT 1`
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // No active subscription
		}
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	return sub, nil
}

func (r *SubscriptionRepository) FindByID(ctx context.Context, userID, id string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1 AND user_id = $2`
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	return sub, nil
}

func (r *SubscriptionRepository) ListByUserID(ctx context.Context, userID string) ([]*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1 ORDER BY start_date DESC`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (r *SubscriptionRepository) UpdateStatus(ctx context.Context, id string, status domain.SubscriptionStatus) error {
	_, err := r.db.Exec(ctx, "UPDATE subscriptions SET status = $1, updated_at = NOW() WHERE id = $2", status, id)
	if err != nil {
		return fmt.Errorf("failed to update subscription status: %w", err)
	}
	return nil
}

// SupersedeOlder marks every active subscription of userID that sorts before
// the newest active one, by start date then id, as superseded. The newest
// active row is never touched, so concurrent callers always leave one.
func (r *SubscriptionRepository) SupersedeOlder(ctx context.Context, userID string) (int64, error) {
	query := `
		UPDATE subscriptions SET status = 'superseded', updated_at = NOW()
		WHERE user_id = $1 AND status = 'active'
		  AND (start_date, id) < (
			SELECT start_date, id FROM subscriptions
			WHERE user_id = $1 AND status = 'active'
			ORDER BY start_date DESC, id DESC LIMIT 1
		  )
	`
	tag, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to supersede subscriptions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	var price string
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.PlanName, &sub.Status, &sub.StartDate, &sub.EndDate, &sub.AutoRenew,
		&price, &sub.Currency, &sub.BillingCycle, &sub.Features, &sub.LastPaymentDate,
		&sub.NextBillingDate, &sub.PaymentSessionID, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if sub.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("invalid stored price %q: %w", price, err)
	}
	return &sub, nil
}
