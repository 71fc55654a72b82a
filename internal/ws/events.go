// Package ws streams notification events to dashboard clients over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/brightpath/backend/internal/domain"
	"github.com/brightpath/backend/internal/notify"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// TokenVerifier validates the token passed in the query string.
type TokenVerifier interface {
	VerifyToken(token string) (*domain.JWTClaims, error)
}

// Subscriber hands out per-user event channels. Implemented by notify.Hub.
type Subscriber interface {
	Subscribe(ctx context.Context, userID string) <-chan notify.Event
}

// EventsHandler upgrades authenticated requests and forwards the user's events.
type EventsHandler struct {
	auth     TokenVerifier
	events   Subscriber
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewEventsHandler creates an EventsHandler. allowOrigin decides which browser
// origins may open a stream; nil allows all.
func NewEventsHandler(auth TokenVerifier, events Subscriber, allowOrigin func(string) bool, log zerolog.Logger) *EventsHandler {
	return &EventsHandler{
		auth:   auth,
		events: events,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowOrigin == nil || allowOrigin(origin)
			},
		},
		log: log,
	}
}

// Handle serves GET /api/payment/events?token=JWT_TOKEN.
func (h *EventsHandler) Handle(w http.ResponseWriter, r *http.Request) {
	// Browsers cannot set headers on WebSocket requests, so the token rides in the query
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token required", http.StatusUnauthorized)
		return
	}
	claims, err := h.auth.VerifyToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events := h.events.Subscribe(ctx, claims.Sub)

	log := h.log.With().Str("userId", claims.Sub).Logger()
	log.Debug().Msg("event stream opened")

	go h.readPump(conn, cancel)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("event stream closed")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Error().Err(err).Str("type", string(ev.Type)).Msg("failed to encode event")
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and cancels the stream once the peer goes away.
func (h *EventsHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
