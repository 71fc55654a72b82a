package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// WebhookEvent is one recorded payment notification.
type WebhookEvent struct {
	DeliveryKey string          `json:"deliveryKey"`
	SessionID   string          `json:"sessionId"`
	Status      string          `json:"status"`
	Payload     json.RawMessage `json:"payload"`
	ReceivedAt  time.Time       `json:"receivedAt"`
}

// WebhookEventRepository is the append-only audit log of webhook deliveries.
type WebhookEventRepository struct {
	db *pgxpool.Pool
}

// NewWebhookEventRepository creates a new WebhookEventRepository.
func NewWebhookEventRepository(db *pgxpool.Pool) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Record stores ev and reports whether its delivery key was seen for the first time.
func (r *WebhookEventRepository) Record(ctx context.Context, ev *WebhookEvent) (bool, error) {
	query := `
		INSERT INTO webhook_events (delivery_key, session_id, status, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (delivery_key) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query, ev.DeliveryKey, ev.SessionID, ev.Status, []byte(ev.Payload))
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListBySessionID returns every recorded delivery for a session, oldest first.
func (r *WebhookEventRepository) ListBySessionID(ctx context.Context, sessionID string) ([]*WebhookEvent, error) {
	query := `
		SELECT delivery_key, session_id, status, payload, received_at
		FROM webhook_events WHERE session_id = $1 ORDER BY received_at
	`
	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook events: %w", err)
	}
	defer rows.Close()

	var events []*WebhookEvent
	for rows.Next() {
		var ev WebhookEvent
		var payload []byte
		if err := rows.Scan(&ev.DeliveryKey, &ev.SessionID, &ev.Status, &payload, &ev.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}
		ev.Payload = payload
		events = append(events, &ev)
	}
	return events, rows.Err()
}
