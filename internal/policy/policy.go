// Package policy holds the pure access-policy evaluator. It performs no I/O;
// callers resolve every fact (license, distribution, duplicate status) before
// asking for a decision, and the state machine applies the result.
package policy

import (
	"time"

	"github.com/quranhub/access-gate/internal/model"
)

// DenyReason is a stable machine-readable code explaining a denial.
type DenyReason string

const (
	DenyLicenseInactive  DenyReason = "license_inactive"
	DenyGeoRestricted    DenyReason = "geo_restricted"
	DenyDuplicateRequest DenyReason = "duplicate_request"
)

// Input carries everything the evaluator needs for one decision.
type Input struct {
	Principal    *model.Principal
	License      *model.License
	Distribution *model.Distribution

	// HasActiveRequest is true when the principal already holds a
	// pending/under_review/approved request for this distribution.
	HasActiveRequest bool

	Now time.Time
}

// Decision is the advisory output of Evaluate.
type Decision struct {
	Allow       bool
	AutoApprove bool
	Reason      DenyReason
}

func deny(reason DenyReason) Decision {
	return Decision{Reason: reason}
}

// Evaluate applies the access rules in order; the first matching rule wins.
func Evaluate(in Input) Decision {
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if !in.License.ActiveAt(now) {
		return deny(DenyLicenseInactive)
	}

	if geoBlocked(in.Principal.Country, in.License) {
		return deny(DenyGeoRestricted)
	}

	if in.HasActiveRequest {
		return deny(DenyDuplicateRequest)
	}

	if !in.License.RequiresApproval && in.Principal.ProfileComplete() {
		return Decision{Allow: true, AutoApprove: true}
	}

	return Decision{Allow: true}
}

func geoBlocked(country string, license *model.License) bool {
	for _, c := range license.RestrictedCountries {
		if c == country {
			return true
		}
	}
	if len(license.AllowedCountries) == 0 {
		return false
	}
	for _, c := range license.AllowedCountries {
		if c == country {
			return false
		}
	}
	return true
}
