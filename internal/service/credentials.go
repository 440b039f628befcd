package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quranhub/access-gate/internal/model"
	"github.com/quranhub/access-gate/internal/store"
)

// keyPrefixLen is the number of leading secret characters stored in clear for
// lookup and display. The prefix carries no meaningful entropy on its own;
// the remaining 256 bits live only in the salted hash.
const keyPrefixLen = 16

// CredentialService mints, rotates, revokes, and authenticates API keys.
// Cleartext secrets exist only in the IssuedKey return values.
type CredentialService struct {
	store       store.CredentialStore
	environment string
}

func NewCredentialService(s store.CredentialStore, environment string) *CredentialService {
	return &CredentialService{store: s, environment: environment}
}

// Issue mints a credential for an approved access request. The cleartext
// secret is returned exactly once and is unrecoverable afterwards.
func (s *CredentialService) Issue(ctx context.Context, req *model.AccessRequest, resourceID uuid.UUID, limits model.RateLimits) (*model.IssuedKey, error) {
	secret, err := generateSecret(s.environment)
	if err != nil {
		log.Error().Err(err).Msg("failed to generate credential secret")
		return nil, NewInternal("internal_error", "Failed to issue credential")
	}
	salt, hash, err := saltedHash(secret)
	if err != nil {
		log.Error().Err(err).Msg("failed to hash credential secret")
		return nil, NewInternal("internal_error", "Failed to issue credential")
	}

	cred := &model.Credential{
		AccessRequestID: req.ID,
		OwnerID:         req.RequesterID,
		DistributionID:  req.DistributionID,
		KeyPrefix:       secret[:keyPrefixLen],
		KeySalt:         salt,
		KeyHash:         hash,
		Scopes: map[string][]string{
			resourceID.String(): {"read", "download"},
		},
		Limits:    limits,
		Status:    model.CredentialActive,
		ExpiresAt: req.ExpiresAt,
	}

	if err := s.store.CreateCredential(ctx, cred); err != nil {
		log.Error().Err(err).Str("request_id", req.ID.String()).Msg("failed to store credential")
		return nil, NewInternal("internal_error", "Failed to issue credential")
	}

	return &model.IssuedKey{Secret: secret, Credential: cred}, nil
}

// Regenerate replaces the secret of an active credential. The swap is a
// single UPDATE: the old secret stops authenticating exactly when the new one
// starts.
func (s *CredentialService) Regenerate(ctx context.Context, id uuid.UUID, actor *model.Principal) (*model.IssuedKey, error) {
	cred, err := s.store.GetCredentialByID(ctx, id)
	if err != nil {
		return nil, NewNotFound("not_found", "Credential not found")
	}

	if cred.OwnerID != actor.ID && !actor.HasRole(model.RoleAdmin) {
		return nil, NewForbidden("forbidden", "Not the credential owner")
	}
	if cred.Status != model.CredentialActive {
		return nil, NewBadRequest("invalid_status", "Cannot regenerate a revoked or expired credential")
	}

	secret, err := generateSecret(s.environment)
	if err != nil {
		log.Error().Err(err).Msg("failed to generate credential secret")
		return nil, NewInternal("internal_error", "Failed to regenerate credential")
	}
	salt, hash, err := saltedHash(secret)
	if err != nil {
		log.Error().Err(err).Msg("failed to hash credential secret")
		return nil, NewInternal("internal_error", "Failed to regenerate credential")
	}

	if err := s.store.RotateCredentialKey(ctx, id, secret[:keyPrefixLen], salt, hash); err != nil {
		if errors.Is(err, store.ErrStaleState) {
			return nil, NewConflict("stale_state", "Credential changed concurrently")
		}
		log.Error().Err(err).Str("id", id.String()).Msg("failed to rotate credential key")
		return nil, NewInternal("internal_error", "Failed to regenerate credential")
	}

	cred.KeyPrefix = secret[:keyPrefixLen]
	return &model.IssuedKey{Secret: secret, Credential: cred}, nil
}

// Revoke terminally disables a credential. Idempotent: revoking twice keeps
// the original revocation metadata.
func (s *CredentialService) Revoke(ctx context.Context, id uuid.UUID, actor uuid.UUID, reason string) (*model.Credential, error) {
	if _, err := s.store.GetCredentialByID(ctx, id); err != nil {
		return nil, NewNotFound("not_found", "Credential not found")
	}
	if err := s.store.RevokeCredential(ctx, id, actor, reason, time.Now().UTC()); err != nil {
		log.Error().Err(err).Str("id", id.String()).Msg("failed to revoke credential")
		return nil, NewInternal("internal_error", "Failed to revoke credential")
	}
	cred, err := s.store.GetCredentialByID(ctx, id)
	if err != nil {
		return nil, NewInternal("internal_error", "Failed to load credential")
	}
	return cred, nil
}

// Authenticate resolves a raw secret to its credential record. It rejects
// revoked and expired credentials and credentials whose owning request is no
// longer approved. The hash comparison runs over every prefix candidate with
// a constant-time compare, so timing does not reveal which byte diverged.
func (s *CredentialService) Authenticate(ctx context.Context, secret string) (*model.Credential, error) {
	if len(secret) < keyPrefixLen {
		return nil, NewUnauthorized("invalid_api_key", "Invalid API key")
	}

	candidates, err := s.store.AuthCandidatesByPrefix(ctx, secret[:keyPrefixLen])
	if err != nil {
		log.Error().Err(err).Msg("credential lookup failed")
		return nil, NewUnavailable("storage_unavailable", "Authentication temporarily unavailable")
	}

	var matched *store.AuthCandidate
	for _, cand := range candidates {
		computed := hashWithSalt(cand.Credential.KeySalt, secret)
		if subtle.ConstantTimeCompare([]byte(computed), []byte(cand.Credential.KeyHash)) == 1 && matched == nil {
			matched = cand
		}
	}
	if matched == nil {
		return nil, NewUnauthorized("invalid_api_key", "Invalid API key")
	}

	now := time.Now().UTC()
	if !matched.Credential.Usable(now) {
		return nil, NewUnauthorized("invalid_api_key", "API key is revoked or expired")
	}
	if matched.RequestStatus != model.StatusApproved {
		return nil, NewUnauthorized("invalid_api_key", "Access grant is no longer approved")
	}

	return matched.Credential, nil
}

func (s *CredentialService) Get(ctx context.Context, id uuid.UUID) (*model.Credential, error) {
	cred, err := s.store.GetCredentialByID(ctx, id)
	if err != nil {
		return nil, NewNotFound("not_found", "Credential not found")
	}
	return cred, nil
}

func (s *CredentialService) List(ctx context.Context, ownerID *uuid.UUID, page, perPage int) ([]*model.Credential, int, error) {
	creds, total, err := s.store.ListCredentials(ctx, ownerID, page, perPage)
	if err != nil {
		log.Error().Err(err).Msg("failed to list credentials")
		return nil, 0, NewInternal("internal_error", "Failed to list credentials")
	}
	return creds, total, nil
}

func generateSecret(environment string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand failed: %w", err)
	}
	prefix := "qk_live_"
	if environment != "production" {
		prefix = "qk_test_"
	}
	return prefix + hex.EncodeToString(b), nil
}

func saltedHash(secret string) (salt, hash string, err error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("crypto/rand failed: %w", err)
	}
	salt = hex.EncodeToString(b)
	return salt, hashWithSalt(salt, secret), nil
}

func hashWithSalt(salt, secret string) string {
	h := sha256.Sum256([]byte(salt + secret))
	return hex.EncodeToString(h[:])
}
