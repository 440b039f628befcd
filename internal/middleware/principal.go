package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"

	"github.com/quranhub/access-gate/internal/model"
)

type principalKey struct{}

// GetPrincipal extracts the authenticated principal from the request context.
func GetPrincipal(ctx context.Context) *model.Principal {
	p, _ := ctx.Value(principalKey{}).(*model.Principal)
	return p
}

// IDClaims holds the verified claims from an ID token.
type IDClaims struct {
	Subject       string
	Email         string
	EmailVerified bool
	Roles         []string
	Country       string
}

// TokenVerifier verifies an ID token and returns its claims.
type TokenVerifier interface {
	VerifyClaims(ctx context.Context, rawToken string) (*IDClaims, error)
}

// oidcTokenVerifier implements TokenVerifier using go-oidc.
type oidcTokenVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func (v *oidcTokenVerifier) VerifyClaims(ctx context.Context, rawToken string) (*IDClaims, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	var claims struct {
		Email         string   `json:"email"`
		EmailVerified bool     `json:"email_verified"`
		Roles         []string `json:"roles"`
		Country       string   `json:"country"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}

	return &IDClaims{
		Subject:       idToken.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Roles:         claims.Roles,
		Country:       claims.Country,
	}, nil
}

// PrincipalAuth verifies ID tokens from the identity provider and attaches
// the resulting principal to the request context.
type PrincipalAuth struct {
	verifier TokenVerifier
	issuer   string
}

// NewPrincipalAuth creates a PrincipalAuth that verifies tokens against the
// provider's JWKS. It must be called at server startup (it fetches the OIDC
// discovery document).
func NewPrincipalAuth(issuer, clientID string) (*PrincipalAuth, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("create OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID: clientID,
	})

	return NewPrincipalAuthWithVerifier(&oidcTokenVerifier{verifier: verifier}, issuer), nil
}

// NewPrincipalAuthWithVerifier creates a PrincipalAuth with a custom TokenVerifier.
func NewPrincipalAuthWithVerifier(verifier TokenVerifier, issuer string) *PrincipalAuth {
	return &PrincipalAuth{verifier: verifier, issuer: issuer}
}

// Middleware returns an http middleware that authenticates portal requests.
func (a *PrincipalAuth) Middleware(limiter *AuthAttemptLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attemptKey := clientIPKey(r, "principal")
			if limiter != nil && !limiter.allow(attemptKey) {
				respondError(w, http.StatusTooManyRequests, "rate_limited", "Too many authentication failures")
				return
			}

			token := extractBearerToken(r)
			if token == "" {
				if limiter != nil {
					limiter.registerFailure(attemptKey)
				}
				respondError(w, http.StatusUnauthorized, "unauthorized", "Missing authorization token")
				return
			}

			claims, err := a.verifier.VerifyClaims(r.Context(), token)
			if err != nil {
				if limiter != nil {
					limiter.registerFailure(attemptKey)
				}
				respondError(w, http.StatusUnauthorized, "unauthorized", "Invalid ID token")
				return
			}

			if limiter != nil {
				limiter.registerSuccess(attemptKey)
			}
			principal := &model.Principal{
				ID:            principalID(a.issuer, claims.Subject),
				Email:         claims.Email,
				EmailVerified: claims.EmailVerified,
				Roles:         claims.Roles,
				Country:       claims.Country,
			}
			if len(principal.Roles) == 0 {
				principal.Roles = []string{model.RoleDeveloper}
			}
			ctx := context.WithValue(r.Context(), principalKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects requests whose principal lacks the named role. It must
// run after the PrincipalAuth middleware.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := GetPrincipal(r.Context())
			if p == nil {
				respondError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
				return
			}
			if !p.HasRole(role) {
				respondError(w, http.StatusForbidden, "forbidden", "Insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// principalID derives a stable identifier from the issuer and subject, so the
// same identity maps to the same UUID across logins. Subjects that already
// are UUIDs pass through unchanged.
func principalID(issuer, subject string) uuid.UUID {
	if id, err := uuid.Parse(subject); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(issuer+"#"+subject))
}
