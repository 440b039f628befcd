package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/quranhub/access-gate/internal/model"
)

func approvedRequest(fs *fakeStore) *model.AccessRequest {
	req := &model.AccessRequest{
		ID:             uuid.New(),
		RequesterID:    uuid.New(),
		DistributionID: uuid.New(),
		Status:         model.StatusApproved,
		RequestedAt:    time.Now().UTC(),
	}
	fs.requests[req.ID] = req
	return req
}

func TestIssue(t *testing.T) {
	ctx := context.Background()

	t.Run("secret carries environment prefix and full entropy", func(t *testing.T) {
		fs := newFakeStore()
		svc := NewCredentialService(fs, "production")

		issued, err := svc.Issue(ctx, approvedRequest(fs), uuid.New(), model.RateLimits{PerMinute: 60})
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		if !strings.HasPrefix(issued.Secret, "qk_live_") {
			t.Fatalf("unexpected prefix: %s", issued.Secret)
		}
		// 8-char prefix + 64 hex chars of secret body.
		if len(issued.Secret) != len("qk_live_")+64 {
			t.Fatalf("secret length = %d", len(issued.Secret))
		}
		if issued.Credential.KeyPrefix != issued.Secret[:keyPrefixLen] {
			t.Fatal("stored prefix does not match secret head")
		}
	})

	t.Run("test environment uses test prefix", func(t *testing.T) {
		fs := newFakeStore()
		svc := NewCredentialService(fs, "staging")

		issued, err := svc.Issue(ctx, approvedRequest(fs), uuid.New(), model.RateLimits{})
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		if !strings.HasPrefix(issued.Secret, "qk_test_") {
			t.Fatalf("unexpected prefix: %s", issued.Secret)
		}
	})

	t.Run("stored record never holds the cleartext", func(t *testing.T) {
		fs := newFakeStore()
		svc := NewCredentialService(fs, "test")

		issued, err := svc.Issue(ctx, approvedRequest(fs), uuid.New(), model.RateLimits{})
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		stored := fs.credentials[issued.Credential.ID]
		if stored.KeyHash == issued.Secret || strings.Contains(stored.KeyHash, issued.Secret) {
			t.Fatal("hash contains cleartext")
		}
		if stored.KeySalt == "" {
			t.Fatal("salt missing")
		}
	})
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()

	issue := func(t *testing.T, fs *fakeStore, svc *CredentialService) *model.IssuedKey {
		t.Helper()
		issued, err := svc.Issue(ctx, approvedRequest(fs), uuid.New(), model.RateLimits{PerMinute: 10})
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		return issued
	}

	t.Run("valid secret resolves its credential", func(t *testing.T) {
		fs := newFakeStore()
		svc := NewCredentialService(fs, "test")
		issued := issue(t, fs, svc)

		cred, err := svc.Authenticate(ctx, issued.Secret)
		if err != nil {
			t.Fatalf("authenticate: %v", err)
		}
		if cred.ID != issued.Credential.ID {
			t.Fatal("wrong credential returned")
		}
	})

	t.Run("rejects unknown and malformed secrets", func(t *testing.T) {
		fs := newFakeStore()
		svc := NewCredentialService(fs, "test")
		issue(t, fs, svc)

		for _, secret := range []string{"", "short", "qk_test_" + strings.Repeat("0", 64)} {
			if _, err := svc.Authenticate(ctx, secret); err == nil {
				t.Fatalf("secret %q unexpectedly accepted", secret)
			}
		}
	})

	t.Run("tampering with the tail fails", func(t *testing.T) {
		fs := newFakeStore()
		svc := NewCredentialService(fs, "test")
		issued := issue(t, fs, svc)

		tampered := issued.Secret[:len(issued.Secret)-1] + flipHex(issued.Secret[len(issued.Secret)-1])
		if _, err := svc.Authenticate(ctx, tampered); err == nil {
			t.Fatal("tampered secret accepted")
		}
	})

	t.Run("rejects expired credential", func(t *testing.T) {
		fs := newFakeStore()
		svc := NewCredentialService(fs, "test")
		issued := issue(t, fs, svc)

		past := time.Now().UTC().Add(-time.Minute)
		fs.credentials[issued.Credential.ID].ExpiresAt = &past

		if _, err := svc.Authenticate(ctx, issued.Secret); err == nil {
			t.Fatal("expired credential accepted")
		}
	})

	t.Run("rejects revoked credential", func(t *testing.T) {
		fs := newFakeStore()
		svc := NewCredentialService(fs, "test")
		issued := issue(t, fs, svc)

		if _, err := svc.Revoke(ctx, issued.Credential.ID, uuid.New(), "abuse"); err != nil {
			t.Fatalf("revoke: %v", err)
		}
		_, err := svc.Authenticate(ctx, issued.Secret)
		if svcErr(t, err).Kind != ErrUnauthorized {
			t.Fatalf("kind = %v, want unauthorized", svcErr(t, err).Kind)
		}
	})

	t.Run("rejects credential of non-approved request", func(t *testing.T) {
		fs := newFakeStore()
		svc := NewCredentialService(fs, "test")
		issued := issue(t, fs, svc)

		fs.requests[issued.Credential.AccessRequestID].Status = model.StatusRevoked

		if _, err := svc.Authenticate(ctx, issued.Secret); err == nil {
			t.Fatal("credential of revoked request accepted")
		}
	})
}

func TestRegenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("old secret dies when new one is born", func(t *testing.T) {
		fs := newFakeStore()
		svc := NewCredentialService(fs, "test")
		req := approvedRequest(fs)
		issued, err := svc.Issue(ctx, req, uuid.New(), model.RateLimits{})
		if err != nil {
			t.Fatalf("issue: %v", err)
		}

		owner := &model.Principal{ID: req.RequesterID, Roles: []string{model.RoleDeveloper}}
		renewed, err := svc.Regenerate(ctx, issued.Credential.ID, owner)
		if err != nil {
			t.Fatalf("regenerate: %v", err)
		}
		if renewed.Secret == issued.Secret {
			t.Fatal("regeneration returned the same secret")
		}

		if _, err := svc.Authenticate(ctx, issued.Secret); err == nil {
			t.Fatal("old secret still authenticates")
		}
		if _, err := svc.Authenticate(ctx, renewed.Secret); err != nil {
			t.Fatalf("new secret rejected: %v", err)
		}
	})

	t.Run("only the owner or an admin may regenerate", func(t *testing.T) {
		fs := newFakeStore()
		svc := NewCredentialService(fs, "test")
		issued, err := svc.Issue(ctx, approvedRequest(fs), uuid.New(), model.RateLimits{})
		if err != nil {
			t.Fatalf("issue: %v", err)
		}

		stranger := &model.Principal{ID: uuid.New(), Roles: []string{model.RoleDeveloper}}
		_, err = svc.Regenerate(ctx, issued.Credential.ID, stranger)
		if svcErr(t, err).Kind != ErrForbidden {
			t.Fatalf("kind = %v, want forbidden", svcErr(t, err).Kind)
		}

		root := &model.Principal{ID: uuid.New(), Roles: []string{model.RoleAdmin}}
		if _, err := svc.Regenerate(ctx, issued.Credential.ID, root); err != nil {
			t.Fatalf("admin regenerate: %v", err)
		}
	})

	t.Run("revoked credential cannot be regenerated", func(t *testing.T) {
		fs := newFakeStore()
		svc := NewCredentialService(fs, "test")
		req := approvedRequest(fs)
		issued, err := svc.Issue(ctx, req, uuid.New(), model.RateLimits{})
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		if _, err := svc.Revoke(ctx, issued.Credential.ID, uuid.New(), "done"); err != nil {
			t.Fatalf("revoke: %v", err)
		}

		owner := &model.Principal{ID: req.RequesterID}
		_, err = svc.Regenerate(ctx, issued.Credential.ID, owner)
		if svcErr(t, err).Code != "invalid_status" {
			t.Fatalf("code = %s, want invalid_status", svcErr(t, err).Code)
		}
	})
}

func TestRevokeIdempotent(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	svc := NewCredentialService(fs, "test")
	issued, err := svc.Issue(ctx, approvedRequest(fs), uuid.New(), model.RateLimits{})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	first := uuid.New()
	if _, err := svc.Revoke(ctx, issued.Credential.ID, first, "abuse"); err != nil {
		t.Fatalf("first revoke: %v", err)
	}
	cred, err := svc.Revoke(ctx, issued.Credential.ID, uuid.New(), "again")
	if err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	if cred.RevokedBy == nil || *cred.RevokedBy != first {
		t.Fatal("second revoke overwrote original revocation metadata")
	}
	if cred.RevokedReason != "abuse" {
		t.Fatalf("reason = %q, want original", cred.RevokedReason)
	}
}

func flipHex(b byte) string {
	if b == '0' {
		return "1"
	}
	return "0"
}
