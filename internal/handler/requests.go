package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/quranhub/access-gate/internal/httputil"
	"github.com/quranhub/access-gate/internal/middleware"
	"github.com/quranhub/access-gate/internal/model"
	"github.com/quranhub/access-gate/internal/service"
	"github.com/quranhub/access-gate/internal/store"
)

// --- Submit Access Request ---

type SubmitRequestHandler struct {
	svc *service.RequestService
}

func NewSubmitRequestHandler(svc *service.RequestService) *SubmitRequestHandler {
	return &SubmitRequestHandler{svc: svc}
}

type submitRequestBody struct {
	DistributionID uuid.UUID `json:"distribution_id"`
	Justification  string    `json:"justification"`
	Priority       string    `json:"priority,omitempty"`
}

type submitRequestResponse struct {
	Request *model.AccessRequest `json:"request"`
	// Populated only on auto-approval; the secret is shown exactly once.
	APIKey    string `json:"api_key,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`
}

func (h *SubmitRequestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		RespondError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var body submitRequestBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if body.DistributionID == uuid.Nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", "distribution_id is required")
		return
	}

	result, err := h.svc.Submit(r.Context(), principal, service.SubmitInput{
		DistributionID: body.DistributionID,
		Justification:  body.Justification,
		Priority:       model.RequestPriority(body.Priority),
	})
	if err != nil {
		service.RespondError(w, err)
		return
	}

	resp := submitRequestResponse{Request: result.Request}
	if result.IssuedKey != nil {
		resp.APIKey = result.IssuedKey.Secret
		resp.KeyPrefix = result.IssuedKey.Credential.KeyPrefix
	}
	RespondJSON(w, http.StatusCreated, resp)
}

// --- List Own Requests ---

type ListRequestsHandler struct {
	svc *service.RequestService
}

func NewListRequestsHandler(svc *service.RequestService) *ListRequestsHandler {
	return &ListRequestsHandler{svc: svc}
}

type listRequestsResponse struct {
	Requests []*model.AccessRequest `json:"requests"`
	Total    int                    `json:"total"`
	Page     int                    `json:"page"`
	PerPage  int                    `json:"per_page"`
}

func (h *ListRequestsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		RespondError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	page, perPage, err := httputil.ParsePagination(r.URL.Query().Get("page"), r.URL.Query().Get("per_page"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	filters := store.RequestFilters{
		RequesterID: &principal.ID,
		Page:        page,
		PerPage:     perPage,
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := model.RequestStatus(s)
		filters.Status = &status
	}

	reqs, total, err := h.svc.List(r.Context(), filters)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, listRequestsResponse{
		Requests: reqs,
		Total:    total,
		Page:     page,
		PerPage:  perPage,
	})
}

// --- Get Own Request ---

type GetRequestHandler struct {
	svc *service.RequestService
}

func NewGetRequestHandler(svc *service.RequestService) *GetRequestHandler {
	return &GetRequestHandler{svc: svc}
}

func (h *GetRequestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		RespondError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid request ID")
		return
	}

	req, err := h.svc.Get(r.Context(), id)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	// Requesters see only their own requests; admins see all.
	if req.RequesterID != principal.ID && !principal.HasRole(model.RoleAdmin) {
		RespondError(w, http.StatusNotFound, "not_found", "Request not found")
		return
	}

	RespondJSON(w, http.StatusOK, req)
}
