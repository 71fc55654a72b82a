package handler

import (
	"net/http"

	"github.com/brightpath/backend/internal/domain"
	"github.com/brightpath/backend/internal/service"
)

type AccessHandler struct {
	svc *service.AccessService
}

func NewAccessHandler(svc *service.AccessService) *AccessHandler {
	return &AccessHandler{svc: svc}
}

// Check handles GET /api/courses/access?type=<course type>.
func (h *AccessHandler) Check(w http.ResponseWriter, r *http.Request) {
	courseType, err := domain.ParseCourseSubscriptionType(r.URL.Query().Get("type"))
	if err != nil {
		Error(w, r, domain.ErrFieldValidation("type", err.Error()))
		return
	}
	resp, err := h.svc.CheckCourseAccess(r.Context(), userID(r), courseType)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

// Accessible handles GET /api/courses/accessible.
func (h *AccessHandler) Accessible(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.AccessibleCourseTypes(r.Context(), userID(r))
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}
