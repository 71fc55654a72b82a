package handler

import (
	"net/http"

	"github.com/brightpath/backend/internal/domain"
	"github.com/brightpath/backend/internal/service"
)

type SubscriptionHandler struct {
	svc *service.SubscriptionService
}

func NewSubscriptionHandler(svc *service.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{svc: svc}
}

// Confirm handles POST /api/subscriptions/confirm from the payment success page.
func (h *SubscriptionHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req domain.ConfirmSubscriptionRequest
	if err := Decode(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	sub, err := h.svc.Confirm(r.Context(), userID(r), req.SessionID)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, http.StatusOK, sub)
}

// Current handles GET /api/subscriptions/current.
func (h *SubscriptionHandler) Current(w http.ResponseWriter, r *http.Request) {
	sub, err := h.svc.Current(r.Context(), userID(r))
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]*domain.Subscription{"subscription": sub})
}
