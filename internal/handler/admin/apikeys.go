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
)

// --- List API Keys ---

type ListAPIKeysHandler struct {
	svc *service.CredentialService
}

func NewListAPIKeysHandler(svc *service.CredentialService) *ListAPIKeysHandler {
	return &ListAPIKeysHandler{svc: svc}
}

type listAPIKeysResponse struct {
	APIKeys []*model.Credential `json:"api_keys"`
	Total   int                 `json:"total"`
	Page    int                 `json:"page"`
	PerPage int                 `json:"per_page"`
}

func (h *ListAPIKeysHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	page, perPage, err := httputil.ParsePagination(r.URL.Query().Get("page"), r.URL.Query().Get("per_page"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var ownerID *uuid.UUID
	if o := r.URL.Query().Get("owner_id"); o != "" {
		id, err := uuid.Parse(o)
		if err != nil {
			handler.RespondError(w, http.StatusBadRequest, "invalid_request", "invalid owner_id filter")
			return
		}
		ownerID = &id
	}

	creds, total, err := h.svc.List(r.Context(), ownerID, page, perPage)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, listAPIKeysResponse{
		APIKeys: creds,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	})
}

// --- Revoke API Key ---

type RevokeAPIKeyHandler struct {
	svc *service.CredentialService
}

func NewRevokeAPIKeyHandler(svc *service.CredentialService) *RevokeAPIKeyHandler {
	return &RevokeAPIKeyHandler{svc: svc}
}

type revokeAPIKeyBody struct {
	Reason string `json:"reason,omitempty"`
}

func (h *RevokeAPIKeyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetPrincipal(r.Context())
	if actor == nil {
		handler.RespondError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid API key ID")
		return
	}

	var body revokeAPIKeyBody
	if r.Body != nil {
		json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body)
	}

	cred, err := h.svc.Revoke(r.Context(), id, actor.ID, body.Reason)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"id":     cred.ID,
		"status": cred.Status,
	})
}
