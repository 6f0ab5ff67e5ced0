// Package claims defines the identity facts the authorization layer reasons about.
package claims

import (
	"fmt"
	"strings"

	"github.com/and161185/practigate/internal/errs"
)

// Role is the closed set of platform roles.
type Role string

const (
	RolePractitioner Role = "practitioner"
	RolePharmacy     Role = "pharmacy"
	RoleAdmin        Role = "admin"
)

// Roles lists every valid role.
var Roles = []Role{RolePractitioner, RolePharmacy, RoleAdmin}

// ParseRole validates a raw role string against the closed enumeration.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RolePractitioner, RolePharmacy, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", errs.ErrInvalidClaims, s)
	}
}

// Valid reports whether r belongs to the enumeration.
func (r Role) Valid() bool {
	switch r {
	case RolePractitioner, RolePharmacy, RoleAdmin:
		return true
	}
	return false
}

// VerificationStatus is the professional verification state of a principal.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

// ParseVerificationStatus maps unknown or empty values to pending.
func ParseVerificationStatus(s string) VerificationStatus {
	switch v := VerificationStatus(strings.ToLower(strings.TrimSpace(s))); v {
	case VerificationVerified, VerificationRejected:
		return v
	default:
		return VerificationPending
	}
}

// AssuranceLevel tells whether step-up authentication completed for the session.
type AssuranceLevel string

const (
	AssuranceBasic    AssuranceLevel = "basic"
	AssuranceElevated AssuranceLevel = "elevated"
)

// ParseAssuranceLevel accepts the aal1/aal2 aliases used by identity providers.
// Anything unrecognized is basic.
func ParseAssuranceLevel(s string) AssuranceLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "elevated", "aal2", "aal3":
		return AssuranceElevated
	default:
		return AssuranceBasic
	}
}

// ProfileStatus tracks onboarding completeness.
type ProfileStatus string

const (
	ProfileIncomplete ProfileStatus = "incomplete"
	ProfileComplete   ProfileStatus = "complete"
)

// Location is the business address subset exposed in claims.
type Location struct {
	City    string `json:"city"`
	Region  string `json:"region"`
	Country string `json:"country"`
}

// BusinessInfo is optional enrichment for pharmacy principals.
type BusinessInfo struct {
	Location Location        `json:"location"`
	Features map[string]bool `json:"features"`
}

// Claims is a snapshot of a principal's identity facts. Values handed out by
// the cache are copies; treat them as read-only.
type Claims struct {
	Subject            string             `json:"sub"`
	Email              string             `json:"email,omitempty"`
	Role               Role               `json:"role"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	AssuranceLevel     AssuranceLevel     `json:"assurance_level"`
	LicenseNumber      string             `json:"license_number,omitempty"`
	BusinessName       string             `json:"business_name,omitempty"`
	ProfileStatus      ProfileStatus      `json:"profile_status,omitempty"`
	BusinessInfo       *BusinessInfo      `json:"business_info,omitempty"`
}

// Validate fails closed on missing or unknown roles.
func (c *Claims) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil claims", errs.ErrInvalidClaims)
	}
	if c.Role == "" {
		return fmt.Errorf("%w: role missing", errs.ErrInvalidClaims)
	}
	if !c.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", errs.ErrInvalidClaims, c.Role)
	}
	return nil
}

// Normalize fills defaults for optional fields and canonicalizes enums.
// Role is left untouched so Validate can reject it.
func (c *Claims) Normalize() {
	c.VerificationStatus = ParseVerificationStatus(string(c.VerificationStatus))
	c.AssuranceLevel = ParseAssuranceLevel(string(c.AssuranceLevel))
	if c.ProfileStatus != ProfileComplete {
		c.ProfileStatus = ProfileIncomplete
	}
	if c.BusinessInfo == nil {
		c.BusinessInfo = &BusinessInfo{}
	}
	if c.BusinessInfo.Features == nil {
		c.BusinessInfo.Features = map[string]bool{}
	}
}

// Clone returns a deep copy.
func (c *Claims) Clone() *Claims {
	if c == nil {
		return nil
	}
	cp := *c
	if c.BusinessInfo != nil {
		bi := *c.BusinessInfo
		if c.BusinessInfo.Features != nil {
			bi.Features = make(map[string]bool, len(c.BusinessInfo.Features))
			for k, v := range c.BusinessInfo.Features {
				bi.Features[k] = v
			}
		}
		cp.BusinessInfo = &bi
	}
	return &cp
}

// HasRole reports whether the principal's role is in roles.
func (c *Claims) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if c.Role == r {
			return true
		}
	}
	return false
}

// IsVerified reports whether professional verification completed.
func (c *Claims) IsVerified() bool { return c.VerificationStatus == VerificationVerified }

// IsElevated reports whether step-up authentication completed.
func (c *Claims) IsElevated() bool { return c.AssuranceLevel == AssuranceElevated }
