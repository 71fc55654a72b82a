package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/brightpath/backend/internal/domain"
	"github.com/brightpath/backend/pkg/crypto"
)

const paymentSessionColumns = `
	session_id, user_id, provider, plan_id, plan_name, amount::text, amount_minor,
	currency, billing_cycle, phone_sealed, nonce, status, provision_state, subscription_id,
	created_at, updated_at`

// PaymentSessionRepository is the durable, server-held record of every
// checkout. Status and provisioning changes are conditional updates, so
// concurrent webhook deliveries cannot both win.
type PaymentSessionRepository struct {
	db     *pgxpool.Pool
	sealer *crypto.Sealer
}

// NewPaymentSessionRepository creates a new PaymentSessionRepository.
func NewPaymentSessionRepository(db *pgxpool.Pool, sealer *crypto.Sealer) *PaymentSessionRepository {
	return &PaymentSessionRepository{db: db, sealer: sealer}
}

func (r *PaymentSessionRepository) Create(ctx context.Context, rec *domain.PaymentSessionRecord) error {
	phone, err := r.sealer.Seal(rec.Phone, rec.SessionID)
	if err != nil {
		return fmt.Errorf("failed to seal phone: %w", err)
	}
	query := `
		INSERT INTO payment_sessions (
			session_id, user_id, provider, plan_id, plan_name, amount, amount_minor,
			currency, billing_cycle, phone_sealed, nonce, status, provision_state, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12, $13, $14, $14)
	`
	_, err = r.db.Exec(ctx, query,
		rec.SessionID, rec.UserID, rec.Provider, rec.PlanID, rec.PlanName,
		rec.Amount.String(), rec.AmountMinor, rec.Currency, rec.BillingCycle, phone, rec.Nonce,
		rec.Status, rec.ProvisionState, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment session: %w", err)
	}
	return nil
}

// FindBySessionID returns nil, nil when the session is unknown.
func (r *PaymentSessionRepository) FindBySessionID(ctx context.Context, sessionID string) (*domain.PaymentSessionRecord, error) {
	row := r.db.QueryRow(ctx, `SELECT `+paymentSessionColumns+` FROM payment_sessions WHERE session_id = $1`, sessionID)
	rec, err := r.scan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find payment session: %w", err)
	}
	return rec, nil
}

// TransitionStatus moves a pending session to status. It returns the
// session as stored afterwards and whether this call changed it. A nil
// record means the session is unknown.
func (r *PaymentSessionRepository) TransitionStatus(ctx context.Context, sessionID string, status domain.PaymentStatus) (*domain.PaymentSessionRecord, bool, error) {
	query := `
		UPDATE payment_sessions SET status = $2, updated_at = NOW()
		WHERE session_id = $1 AND status = 'pending'
		RETURNING ` + paymentSessionColumns
	rec, err := r.scan(r.db.QueryRow(ctx, query, sessionID, status))
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to transition payment session: %w", err)
	}

	rec, err = r.FindBySessionID(ctx, sessionID)
	return rec, false, err
}

// ClaimProvisioning takes the right to create the subscription for a
// successful session. A claim older than staleAfter may be taken over.
func (r *PaymentSessionRepository) ClaimProvisioning(ctx context.Context, sessionID string, staleAfter time.Duration) (bool, error) {
	query := `
		UPDATE payment_sessions SET provision_state = 'claimed', claimed_at = NOW(), updated_at = NOW()
		WHERE session_id = $1 AND status = 'SUCCESS'
		  AND (provision_state = 'none'
		       OR (provision_state = 'claimed' AND claimed_at < NOW() - make_interval(secs => $2)))
	`
	tag, err := r.db.Exec(ctx, query, sessionID, staleAfter.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to claim provisioning: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PaymentSessionRepository) CompleteProvisioning(ctx context.Context, sessionID, subscriptionID string) error {
	query := `
		UPDATE payment_sessions SET provision_state = 'done', subscription_id = $2, claimed_at = NULL, updated_at = NOW()
		WHERE session_id = $1
	`
	if _, err := r.db.Exec(ctx, query, sessionID, subscriptionID); err != nil {
		return fmt.Errorf("failed to complete provisioning: %w", err)
	}
	return nil
}

func (r *PaymentSessionRepository) ReleaseProvisioning(ctx context.Context, sessionID string) error {
	query := `
		UPDATE payment_sessions SET provision_state = 'none', claimed_at = NULL, updated_at = NOW()
		WHERE session_id = $1 AND provision_state = 'claimed'
	`
	if _, err := r.db.Exec(ctx, query, sessionID); err != nil {
		return fmt.Errorf("failed to release provisioning claim: %w", err)
	}
	return nil
}

// ListUnprovisioned returns successful sessions without a subscription that
// are free to claim, oldest first.
func (r *PaymentSessionRepository) ListUnprovisioned(ctx context.Context, staleAfter time.Duration, limit int) ([]*domain.PaymentSessionRecord, error) {
	query := `SELECT ` + paymentSessionColumns + ` FROM payment_sessions
		WHERE status = 'SUCCESS'
		  AND (provision_state = 'none'
		       OR (provision_state = 'claimed' AND claimed_at < NOW() - make_interval(secs => $1)))
		ORDER BY updated_at
		LIMIT $2`
	rows, err := r.db.Query(ctx, query, staleAfter.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unprovisioned sessions: %w", err)
	}
	defer rows.Close()

	var out []*domain.PaymentSessionRecord
	for rows.Next() {
		rec, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment session: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PaymentSessionRepository) scan(row pgx.Row) (*domain.PaymentSessionRecord, error) {
	var rec domain.PaymentSessionRecord
	var amount, phone string
	err := row.Scan(
		&rec.SessionID, &rec.UserID, &rec.Provider, &rec.PlanID, &rec.PlanName, &amount, &rec.AmountMinor,
		&rec.Currency, &rec.BillingCycle, &phone, &rec.Nonce, &rec.Status, &rec.ProvisionState, &rec.SubscriptionID,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if rec.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
	}
	if rec.Phone, err = r.sealer.Open(phone, rec.SessionID); err != nil {
		return nil, err
	}
	return &rec, nil
}
