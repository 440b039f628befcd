package model

import (
	"time"

	"github.com/google/uuid"
)

// ResourceType classifies a unit of Quranic content.
type ResourceType string

const (
	ResourceText        ResourceType = "text"
	ResourceAudio       ResourceType = "audio"
	ResourceTranslation ResourceType = "translation"
	ResourceTafsir      ResourceType = "tafsir"
)

// Resource is a content unit owned by a publisher. Records are supplied by
// the content store and are read-only to this service.
type Resource struct {
	ID          uuid.UUID    `json:"id"`
	Type        ResourceType `json:"type"`
	Language    string       `json:"language"`
	Version     string       `json:"version"`
	Checksum    string       `json:"checksum"`
	PublisherID uuid.UUID    `json:"publisher_id"`
	PublishedAt *time.Time   `json:"published_at,omitempty"`
	Deleted     bool         `json:"deleted"`
}

// Published reports whether the resource is visible to consumers.
func (r *Resource) Published() bool {
	return r.PublishedAt != nil && !r.Deleted
}

type LicenseType string

const (
	LicenseOpen       LicenseType = "open"
	LicenseRestricted LicenseType = "restricted"
	LicenseCommercial LicenseType = "commercial"
)

// License governs usage of one Resource.
type License struct {
	ID                  uuid.UUID   `json:"id"`
	ResourceID          uuid.UUID   `json:"resource_id"`
	Type                LicenseType `json:"type"`
	Terms               string      `json:"terms"`
	AllowedCountries    []string    `json:"allowed_countries,omitempty"`
	RestrictedCountries []string    `json:"restricted_countries,omitempty"`
	RequestsPerMinute   int         `json:"requests_per_minute"`
	RequestsPerHour     int         `json:"requests_per_hour"`
	RequestsPerDay      int         `json:"requests_per_day"`
	RequiresAttribution bool        `json:"requires_attribution"`
	RequiresApproval    bool        `json:"requires_approval"`
	GrantDuration       int         `json:"grant_duration_days"` // 0 = open-ended grants
	EffectiveFrom       time.Time   `json:"effective_from"`
	ExpiresAt           *time.Time  `json:"expires_at,omitempty"`
}

// ActiveAt reports whether the license effective window covers t.
func (l *License) ActiveAt(t time.Time) bool {
	if t.Before(l.EffectiveFrom) {
		return false
	}
	if l.ExpiresAt != nil && !t.Before(*l.ExpiresAt) {
		return false
	}
	return true
}

type DistributionFormat string

const (
	DistributionREST    DistributionFormat = "rest"
	DistributionGraphQL DistributionFormat = "graphql"
	DistributionZIP     DistributionFormat = "zip"
	DistributionAPI     DistributionFormat = "api"
)

// Distribution is one concrete access surface for a Resource. Rate overrides
// of zero fall back to the resource's License values.
type Distribution struct {
	ID                uuid.UUID          `json:"id"`
	ResourceID        uuid.UUID          `json:"resource_id"`
	Format            DistributionFormat `json:"format"`
	Endpoint          string             `json:"endpoint"`
	Version           string             `json:"version"`
	AllowedAuth       []string           `json:"allowed_auth_methods,omitempty"`
	RequestsPerMinute int                `json:"requests_per_minute,omitempty"`
	RequestsPerHour   int                `json:"requests_per_hour,omitempty"`
	RequestsPerDay    int                `json:"requests_per_day,omitempty"`
	Active            bool               `json:"active"`
}

// RateLimits is the effective per-window request budget for a credential.
// A zero value for a window means that window is unlimited.
type RateLimits struct {
	PerMinute int `json:"per_minute"`
	PerHour   int `json:"per_hour"`
	PerDay    int `json:"per_day"`
}

// EffectiveLimits resolves the rate policy for a distribution: distribution
// overrides win, otherwise the license defaults apply.
func EffectiveLimits(license *License, dist *Distribution) RateLimits {
	limits := RateLimits{
		PerMinute: license.RequestsPerMinute,
		PerHour:   license.RequestsPerHour,
		PerDay:    license.RequestsPerDay,
	}
	if dist == nil {
		return limits
	}
	if dist.RequestsPerMinute > 0 {
		limits.PerMinute = dist.RequestsPerMinute
	}
	if dist.RequestsPerHour > 0 {
		limits.PerHour = dist.RequestsPerHour
	}
	if dist.RequestsPerDay > 0 {
		limits.PerDay = dist.RequestsPerDay
	}
	return limits
}
