package admin

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/quranhub/access-gate/internal/handler"
	"github.com/quranhub/access-gate/internal/httputil"
	"github.com/quranhub/access-gate/internal/middleware"
	"github.com/quranhub/access-gate/internal/model"
	"github.com/quranhub/access-gate/internal/service"
	"github.com/quranhub/access-gate/internal/store"
)

// --- List Access Requests ---

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
	page, perPage, err := httputil.ParsePagination(r.URL.Query().Get("page"), r.URL.Query().Get("per_page"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	filters := store.RequestFilters{Page: page, PerPage: perPage}
	if s := r.URL.Query().Get("status"); s != "" {
		status := model.RequestStatus(s)
		filters.Status = &status
	}
	if p := r.URL.Query().Get("priority"); p != "" {
		priority := model.RequestPriority(p)
		if !model.ValidPriority(priority) {
			handler.RespondError(w, http.StatusBadRequest, "invalid_request", "invalid priority filter")
			return
		}
		filters.Priority = &priority
	}
	if d := r.URL.Query().Get("distribution_id"); d != "" {
		distID, err := uuid.Parse(d)
		if err != nil {
			handler.RespondError(w, http.StatusBadRequest, "invalid_request", "invalid distribution_id filter")
			return
		}
		filters.DistributionID = &distID
	}

	reqs, total, err := h.svc.List(r.Context(), filters)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, listRequestsResponse{
		Requests: reqs,
		Total:    total,
		Page:     page,
		PerPage:  perPage,
	})
}

// --- Review (claim / approve / reject / revoke) ---

type ReviewRequestHandler struct {
	svc *service.RequestService
}

func NewReviewRequestHandler(svc *service.RequestService) *ReviewRequestHandler {
	return &ReviewRequestHandler{svc: svc}
}

type reviewRequestBody struct {
	Action          string `json:"action"`
	RejectionReason string `json:"rejection_reason,omitempty"`
	Notes           string `json:"notes,omitempty"`
	Reason          string `json:"reason,omitempty"` // revoke only
}

type reviewRequestResponse struct {
	Request *model.AccessRequest `json:"request"`
	// Populated on approval; the secret is shown exactly once.
	APIKey    string `json:"api_key,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`
}

func (h *ReviewRequestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reviewer := middleware.GetPrincipal(r.Context())
	if reviewer == nil {
		handler.RespondError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid request ID")
		return
	}

	var body reviewRequestBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	switch body.Action {
	case "claim":
		req, err := h.svc.Claim(r.Context(), reviewer, id)
		if err != nil {
			service.RespondError(w, err)
			return
		}
		handler.RespondJSON(w, http.StatusOK, reviewRequestResponse{Request: req})

	case "approve":
		req, issued, err := h.svc.Approve(r.Context(), reviewer, id, body.Notes)
		if err != nil {
			service.RespondError(w, err)
			return
		}
		resp := reviewRequestResponse{Request: req}
		if issued != nil {
			resp.APIKey = issued.Secret
			resp.KeyPrefix = issued.Credential.KeyPrefix
		}
		handler.RespondJSON(w, http.StatusOK, resp)

	case "reject":
		req, err := h.svc.Reject(r.Context(), reviewer, id, model.RejectionReason(body.RejectionReason), body.Notes)
		if err != nil {
			service.RespondError(w, err)
			return
		}
		handler.RespondJSON(w, http.StatusOK, reviewRequestResponse{Request: req})

	case "revoke":
		req, err := h.svc.Revoke(r.Context(), reviewer, id, body.Reason)
		if err != nil {
			service.RespondError(w, err)
			return
		}
		handler.RespondJSON(w, http.StatusOK, reviewRequestResponse{Request: req})

	default:
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "action must be one of claim, approve, reject, revoke")
	}
}
