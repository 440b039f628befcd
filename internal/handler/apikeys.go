package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/quranhub/access-gate/internal/middleware"
	"github.com/quranhub/access-gate/internal/model"
	"github.com/quranhub/access-gate/internal/service"
)

// --- List Own API Keys ---

type ListKeysHandler struct {
	svc *service.CredentialService
}

func NewListKeysHandler(svc *service.CredentialService) *ListKeysHandler {
	return &ListKeysHandler{svc: svc}
}

type listKeysResponse struct {
	APIKeys []*model.Credential `json:"api_keys"`
	Total   int                 `json:"total"`
}

func (h *ListKeysHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		RespondError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	creds, total, err := h.svc.List(r.Context(), &principal.ID, 1, 100)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, listKeysResponse{APIKeys: creds, Total: total})
}

// --- Regenerate API Key ---

type RegenerateKeyHandler struct {
	svc *service.CredentialService
}

func NewRegenerateKeyHandler(svc *service.CredentialService) *RegenerateKeyHandler {
	return &RegenerateKeyHandler{svc: svc}
}

type regenerateKeyResponse struct {
	ID        uuid.UUID `json:"id"`
	APIKey    string    `json:"api_key"`
	KeyPrefix string    `json:"key_prefix"`
}

func (h *RegenerateKeyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		RespondError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid API key ID")
		return
	}

	issued, err := h.svc.Regenerate(r.Context(), id, principal)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, regenerateKeyResponse{
		ID:        issued.Credential.ID,
		APIKey:    issued.Secret,
		KeyPrefix: issued.Credential.KeyPrefix,
	})
}

// --- Revoke Own API Key ---

type RevokeKeyHandler struct {
	svc *service.CredentialService
}

func NewRevokeKeyHandler(svc *service.CredentialService) *RevokeKeyHandler {
	return &RevokeKeyHandler{svc: svc}
}

func (h *RevokeKeyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		RespondError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid API key ID")
		return
	}

	cred, err := h.svc.Get(r.Context(), id)
	if err != nil {
		service.RespondError(w, err)
		return
	}
	if cred.OwnerID != principal.ID && !principal.HasRole(model.RoleAdmin) {
		RespondError(w, http.StatusNotFound, "not_found", "Credential not found")
		return
	}

	revoked, err := h.svc.Revoke(r.Context(), id, principal.ID, "revoked by owner")
	if err != nil {
		service.RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"id":     revoked.ID,
		"status": revoked.Status,
	})
}
