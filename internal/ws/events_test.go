package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath/backend/internal/domain"
	"github.com/brightpath/backend/internal/notify"
)

type stubVerifier struct{}

func (stubVerifier) VerifyToken(token string) (*domain.JWTClaims, error) {
	if token != "good" {
		return nil, errors.New("invalid")
	}
	return &domain.JWTClaims{Sub: "user-1", Role: domain.RoleParent}, nil
}

func newServer(t *testing.T, hub *notify.Hub) *httptest.Server {
	t.Helper()
	h := NewEventsHandler(stubVerifier{}, hub, func(o string) bool { return o == "http://localhost:3000" }, zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(h.Handle))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/payment/events?token=" + token
}

func TestEventsHandler_StreamsUserEvents(t *testing.T) {
	hub := notify.NewHub()
	srv := newServer(t, hub)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "good"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers("user-1") == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish("user-2", notify.Event{Type: notify.PaymentCreated, Message: "not yours"})
	hub.Publish("user-1", notify.Event{Type: notify.PaymentStatusChanged, SessionID: "sess-1", Status: "SUCCESS", Message: "Payment successful"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)

	var ev notify.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, notify.PaymentStatusChanged, ev.Type)
	assert.Equal(t, "sess-1", ev.SessionID)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Subscribers("user-1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEventsHandler_RejectsBadRequests(t *testing.T) {
	srv := newServer(t, notify.NewHub())

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, "bad"), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, "good"), header)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
