package model

import "github.com/google/uuid"

const (
	RoleDeveloper = "developer"
	RoleReviewer  = "reviewer"
	RoleAdmin     = "admin"
)

// Principal is an authenticated actor handed to the service by the identity
// collaborator. The service never authenticates end users itself.
type Principal struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"email_verified"`
	Roles         []string  `json:"roles"`
	Country       string    `json:"country,omitempty"` // ISO 3166-1 alpha-2
}

// HasRole reports whether the principal carries the named role. Admins
// implicitly hold every role.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role || r == RoleAdmin {
			return true
		}
	}
	return false
}

// ProfileComplete reports whether the principal meets the minimal profile
// bar for license auto-approval.
func (p *Principal) ProfileComplete() bool {
	return p.Email != "" && p.EmailVerified
}
