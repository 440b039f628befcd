package policy

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/quranhub/access-gate/internal/model"
)

func testLicense() *model.License {
	return &model.License{
		ID:            uuid.New(),
		Type:          model.LicenseOpen,
		EffectiveFrom: time.Now().UTC().Add(-time.Hour),
	}
}

func testPrincipal() *model.Principal {
	return &model.Principal{
		ID:            uuid.New(),
		Email:         "dev@example.org",
		EmailVerified: true,
		Roles:         []string{model.RoleDeveloper},
		Country:       "EG",
	}
}

func TestEvaluate(t *testing.T) {
	now := time.Now().UTC()

	t.Run("denies license not yet effective", func(t *testing.T) {
		lic := testLicense()
		lic.EffectiveFrom = now.Add(time.Hour)
		d := Evaluate(Input{Principal: testPrincipal(), License: lic, Now: now})
		if d.Allow || d.Reason != DenyLicenseInactive {
			t.Fatalf("expected license_inactive, got %+v", d)
		}
	})

	t.Run("denies expired license", func(t *testing.T) {
		lic := testLicense()
		exp := now.Add(-time.Minute)
		lic.ExpiresAt = &exp
		d := Evaluate(Input{Principal: testPrincipal(), License: lic, Now: now})
		if d.Allow || d.Reason != DenyLicenseInactive {
			t.Fatalf("expected license_inactive, got %+v", d)
		}
	})

	t.Run("denies restricted country", func(t *testing.T) {
		lic := testLicense()
		lic.RestrictedCountries = []string{"EG"}
		d := Evaluate(Input{Principal: testPrincipal(), License: lic, Now: now})
		if d.Allow || d.Reason != DenyGeoRestricted {
			t.Fatalf("expected geo_restricted, got %+v", d)
		}
	})

	t.Run("denies country absent from non-empty allow list", func(t *testing.T) {
		lic := testLicense()
		lic.AllowedCountries = []string{"SA", "MY"}
		d := Evaluate(Input{Principal: testPrincipal(), License: lic, Now: now})
		if d.Allow || d.Reason != DenyGeoRestricted {
			t.Fatalf("expected geo_restricted, got %+v", d)
		}
	})

	t.Run("allows country on allow list", func(t *testing.T) {
		lic := testLicense()
		lic.AllowedCountries = []string{"EG", "SA"}
		d := Evaluate(Input{Principal: testPrincipal(), License: lic, Now: now})
		if !d.Allow {
			t.Fatalf("expected allow, got %+v", d)
		}
	})

	t.Run("restricted list wins over allow list", func(t *testing.T) {
		lic := testLicense()
		lic.AllowedCountries = []string{"EG"}
		lic.RestrictedCountries = []string{"EG"}
		d := Evaluate(Input{Principal: testPrincipal(), License: lic, Now: now})
		if d.Allow || d.Reason != DenyGeoRestricted {
			t.Fatalf("expected geo_restricted, got %+v", d)
		}
	})

	t.Run("denies duplicate active request", func(t *testing.T) {
		d := Evaluate(Input{
			Principal:        testPrincipal(),
			License:          testLicense(),
			HasActiveRequest: true,
			Now:              now,
		})
		if d.Allow || d.Reason != DenyDuplicateRequest {
			t.Fatalf("expected duplicate_request, got %+v", d)
		}
	})

	t.Run("geo restriction reported before duplicate", func(t *testing.T) {
		lic := testLicense()
		lic.RestrictedCountries = []string{"EG"}
		d := Evaluate(Input{
			Principal:        testPrincipal(),
			License:          lic,
			HasActiveRequest: true,
			Now:              now,
		})
		if d.Reason != DenyGeoRestricted {
			t.Fatalf("expected geo_restricted to win, got %+v", d)
		}
	})

	t.Run("auto-approves open license with complete profile", func(t *testing.T) {
		lic := testLicense()
		lic.RequiresApproval = false
		d := Evaluate(Input{Principal: testPrincipal(), License: lic, Now: now})
		if !d.Allow || !d.AutoApprove {
			t.Fatalf("expected auto-approve, got %+v", d)
		}
	})

	t.Run("queues incomplete profile for manual review", func(t *testing.T) {
		p := testPrincipal()
		p.EmailVerified = false
		d := Evaluate(Input{Principal: p, License: testLicense(), Now: now})
		if !d.Allow || d.AutoApprove {
			t.Fatalf("expected manual review, got %+v", d)
		}
	})

	t.Run("queues approval-required license", func(t *testing.T) {
		lic := testLicense()
		lic.RequiresApproval = true
		d := Evaluate(Input{Principal: testPrincipal(), License: lic, Now: now})
		if !d.Allow || d.AutoApprove {
			t.Fatalf("expected manual review, got %+v", d)
		}
	})
}
