package handler

import (
	"net/http"

	"github.com/brightpath/backend/internal/domain"
	"github.com/brightpath/backend/internal/service"
)

// OriginPolicy picks the origin that payment redirects return to.
type OriginPolicy struct {
	allowed  map[string]struct{}
	fallback string
}

// NewOriginPolicy trusts the request Origin header only when it is one of allowed.
func NewOriginPolicy(allowed []string, fallback string) *OriginPolicy {
	p := &OriginPolicy{allowed: make(map[string]struct{}, len(allowed)), fallback: fallback}
	for _, o := range allowed {
		p.allowed[o] = struct{}{}
	}
	return p
}

func (p *OriginPolicy) Resolve(r *http.Request) string {
	if o := r.Header.Get("Origin"); o != "" {
		if _, ok := p.allowed[o]; ok {
			return o
		}
	}
	return p.fallback
}

type PaymentHandler struct {
	svc     *service.CheckoutService
	origins *OriginPolicy
}

func NewPaymentHandler(svc *service.CheckoutService, origins *OriginPolicy) *PaymentHandler {
	return &PaymentHandler{svc: svc, origins: origins}
}

// paidPlan resolves a catalog plan that requires payment.
func paidPlan(id string, cycle domain.BillingCycle) (domain.PlanInfo, error) {
	plan, ok := domain.GetPlan(id)
	if !ok {
		return domain.PlanInfo{}, domain.ErrFieldValidation("planId", "unknown plan")
	}
	if !plan.Price(cycle).IsPositive() {
		return domain.PlanInfo{}, domain.ErrFieldValidation("planId", "the free plan needs no payment")
	}
	return plan, nil
}

// CreateLocal handles POST /api/payment/local.
func (h *PaymentHandler) CreateLocal(w http.ResponseWriter, r *http.Request) {
	var req domain.LocalCheckoutRequest
	if err := Decode(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	cycle := domain.BillingCycleFor(req.IsAnnual)
	plan, err := paidPlan(req.PlanID, cycle)
	if err != nil {
		Error(w, r, err)
		return
	}

	resp, err := h.svc.CreateLocalPayment(r.Context(), userID(r), service.LocalPaymentInput{
		PlanID:   plan.ID,
		PlanName: plan.Name,
		Amount:   plan.Price(cycle),
		Phone:    req.Phone,
		Email:    req.Email,
		IsAnnual: req.IsAnnual,
		Origin:   h.origins.Resolve(r),
	})
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, resp)
}

// CreateInternational handles POST /api/payment/international.
func (h *PaymentHandler) CreateInternational(w http.ResponseWriter, r *http.Request) {
	var req domain.InternationalCheckoutRequest
	if err := Decode(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	cycle := domain.BillingCycleFor(req.IsAnnual)
	plan, err := paidPlan(req.PlanID, cycle)
	if err != nil {
		Error(w, r, err)
		return
	}

	resp, err := h.svc.CreateInternationalPayment(r.Context(), userID(r), service.InternationalPaymentInput{
		PlanID:   plan.ID,
		PlanName: plan.Name,
		PriceID:  req.PriceID,
		Amount:   plan.Price(cycle),
		Currency: plan.Currency,
		Email:    req.Email,
		IsAnnual: req.IsAnnual,
		Origin:   h.origins.Resolve(r),
	})
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, resp)
}

// GetSession handles GET /api/payment/session.
func (h *PaymentHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	cs, err := h.svc.GetSession(r.Context(), userID(r))
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]*domain.PaymentSession{"session": cs})
}

// ClearSession handles DELETE /api/payment/session.
func (h *PaymentHandler) ClearSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearSession(r.Context(), userID(r)); err != nil {
		Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
