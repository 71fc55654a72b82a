package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/brightpath/backend/internal/domain"
)

// PlansHandler serves the plan catalog.
type PlansHandler struct{}

func NewPlansHandler() *PlansHandler {
	return &PlansHandler{}
}

// List handles GET /api/plans.
func (h *PlansHandler) List(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, domain.AvailablePlans())
}

// Get handles GET /api/plans/{id}.
func (h *PlansHandler) Get(w http.ResponseWriter, r *http.Request) {
	plan, ok := domain.GetPlan(chi.URLParam(r, "id"))
	if !ok {
		Error(w, r, domain.ErrNotFound("plan not found"))
		return
	}
	JSON(w, http.StatusOK, plan)
}
