// Package guard decides whether the current principal may see protected
// content and, when not, where navigation should go instead.
package guard

import (
	"errors"
	"net/http"

	"github.com/and161185/practigate/internal/claims"
)

// Policy is the declarative access requirement of a protected area.
type Policy struct {
	// Roles, when non-empty, is the set of acceptable roles.
	Roles                    []claims.Role
	RequireVerified          bool
	RequireElevatedAssurance bool
	// PreserveReturnPath saves the denied path so sign-in can come back to it.
	PreserveReturnPath bool
	// RedirectTo overrides the code-based destination when it passes safety checks.
	RedirectTo string
	// Fallback, when set, is served in place of any redirect.
	Fallback http.Handler
}

// DenialCode is the single reason access was refused. Lower values win.
type DenialCode int

const (
	None DenialCode = iota
	NotAuthenticated
	AssuranceRequired
	NotVerified
	RoleMismatch
)

func (d DenialCode) String() string {
	switch d {
	case None:
		return "none"
	case NotAuthenticated:
		return "not_authenticated"
	case AssuranceRequired:
		return "assurance_required"
	case NotVerified:
		return "not_verified"
	case RoleMismatch:
		return "role_mismatch"
	default:
		return "unknown"
	}
}

// State is the guard's finite state. Only StateAuthorized exposes content.
type State int

const (
	StateUnknown State = iota
	StateChecking
	StateAuthorized
	StateUnauthorized
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateChecking:
		return "checking"
	case StateAuthorized:
		return "authorized"
	case StateUnauthorized:
		return "unauthorized"
	default:
		return "invalid"
	}
}

// errNoFailingCondition marks a priority lookup over an empty failure set.
var errNoFailingCondition = errors.New("guard: denial requested with no failing condition")

// Failing lists every condition c does not meet under p, in priority order.
func Failing(c *claims.Claims, p Policy) []DenialCode {
	if c == nil || c.Validate() != nil {
		return []DenialCode{NotAuthenticated}
	}
	var out []DenialCode
	if p.RequireElevatedAssurance && !c.IsElevated() {
		out = append(out, AssuranceRequired)
	}
	if p.RequireVerified && !c.IsVerified() {
		out = append(out, NotVerified)
	}
	if len(p.Roles) > 0 && !c.HasRole(p.Roles...) {
		out = append(out, RoleMismatch)
	}
	return out
}

// highestPriority picks the winning code among failing conditions.
func highestPriority(failing []DenialCode) (DenialCode, error) {
	if len(failing) == 0 {
		return None, errNoFailingCondition
	}
	best := failing[0]
	for _, d := range failing[1:] {
		if d < best {
			best = d
		}
	}
	return best, nil
}

// Check returns None when c satisfies p and otherwise exactly one DenialCode.
func Check(c *claims.Claims, p Policy) DenialCode {
	failing := Failing(c, p)
	if len(failing) == 0 {
		return None
	}
	code, err := highestPriority(failing)
	if err != nil {
		return NotAuthenticated
	}
	return code
}
