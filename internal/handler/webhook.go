package handler

import (
	"net/http"

	"github.com/brightpath/backend/internal/domain"
	"github.com/brightpath/backend/internal/service"
)

// WebhookHandler receives payment provider notifications.
type WebhookHandler struct {
	svc *service.ReconcileService
}

func NewWebhookHandler(svc *service.ReconcileService) *WebhookHandler {
	return &WebhookHandler{svc: svc}
}

// Receive handles POST /payment/webhook. A 500 tells the provider to retry;
// a 400 means the delivery is malformed or failed verification.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var payload domain.WebhookPayload
	if err := DecodeJSON(w, r, &payload); err != nil {
		Error(w, r, err)
		return
	}
	// Card checkouts carry the nonce on the notify URL instead of the body
	if payload.Nonce == "" {
		payload.Nonce = r.URL.Query().Get("nonce")
	}

	res, err := h.svc.HandleWebhook(r.Context(), &payload)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"outcome": res.Outcome,
	})
}

// Ack handles GET /payment/webhook, which some providers probe before use.
func (h *WebhookHandler) Ack(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "payment webhook endpoint is active",
	})
}
