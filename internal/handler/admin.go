package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/brightpath/backend/internal/domain"
	"github.com/brightpath/backend/internal/service"
)

// AdminHandler serves operator endpoints. Routes are gated by AdminOnly.
type AdminHandler struct {
	subs    *service.SubscriptionService
	retrier *service.ProvisioningRetrier
}

func NewAdminHandler(subs *service.SubscriptionService, retrier *service.ProvisioningRetrier) *AdminHandler {
	return &AdminHandler{subs: subs, retrier: retrier}
}

// GrantSubscription handles POST /api/admin/subscriptions.
func (h *AdminHandler) GrantSubscription(w http.ResponseWriter, r *http.Request) {
	var req domain.GrantSubscriptionRequest
	if err := Decode(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	features := req.Features
	if len(features) == 0 {
		if info, ok := domain.GetPlan(req.Plan.Slug()); ok {
			features = info.Features
		}
	}

	sub, err := h.subs.Create(r.Context(), req.UserID, domain.CreateSubscriptionInput{
		Plan:         req.Plan,
		Price:        req.Price,
		Currency:     req.Currency,
		BillingCycle: req.BillingCycle,
		Features:     features,
	})
	if err != nil {
		Error(w, r, err)
		return
	}
	zerolog.Ctx(r.Context()).Info().Str("admin", userID(r)).Str("userId", req.UserID).
		Str("plan", sub.PlanName).Msg("subscription granted")
	JSON(w, http.StatusCreated, sub)
}

// Provisioning handles GET /api/admin/provisioning.
func (h *AdminHandler) Provisioning(w http.ResponseWriter, r *http.Request) {
	summary, err := h.retrier.Backlog(r.Context())
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, http.StatusOK, summary)
}

// RetryProvisioning handles POST /api/admin/provisioning/retry.
func (h *AdminHandler) RetryProvisioning(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.retrier.RunOnce(r.Context()))
}
