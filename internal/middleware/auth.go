package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/quranhub/access-gate/internal/model"
)

type credentialKey struct{}

// GetCredential extracts the authenticated credential from the request context.
func GetCredential(ctx context.Context) *model.Credential {
	cred, _ := ctx.Value(credentialKey{}).(*model.Credential)
	return cred
}

// CredentialAuthenticator resolves an API key secret to a usable credential.
type CredentialAuthenticator interface {
	Authenticate(ctx context.Context, secret string) (*model.Credential, error)
}

// APIKeyAuth returns middleware that authenticates requests via Bearer API key.
func APIKeyAuth(auth CredentialAuthenticator, limiter *AuthAttemptLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attemptKey := clientIPKey(r, "api_key")
			if limiter != nil && !limiter.allow(attemptKey) {
				respondError(w, http.StatusTooManyRequests, "rate_limited", "Too many authentication failures")
				return
			}

			token := extractBearerToken(r)
			if token == "" {
				if limiter != nil {
					limiter.registerFailure(attemptKey)
				}
				respondError(w, http.StatusUnauthorized, "invalid_api_key", "Missing API key")
				return
			}

			cred, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				if limiter != nil {
					limiter.registerFailure(attemptKey)
				}
				respondError(w, http.StatusUnauthorized, "invalid_api_key", "Invalid API key")
				return
			}

			if limiter != nil {
				limiter.registerSuccess(attemptKey)
			}
			ctx := context.WithValue(r.Context(), credentialKey{}, cred)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}
