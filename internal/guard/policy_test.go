package guard

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/practigate/internal/claims"
)

func principal(role claims.Role, verified, elevated bool) *claims.Claims {
	c := &claims.Claims{Subject: "u", Role: role}
	if verified {
		c.VerificationStatus = claims.VerificationVerified
	}
	if elevated {
		c.AssuranceLevel = claims.AssuranceElevated
	}
	c.Normalize()
	return c
}

// expected walks the conditions in priority order and stops at the first failure.
func expected(c *claims.Claims, p Policy) DenialCode {
	switch {
	case c == nil || c.Validate() != nil:
		return NotAuthenticated
	case p.RequireElevatedAssurance && !c.IsElevated():
		return AssuranceRequired
	case p.RequireVerified && !c.IsVerified():
		return NotVerified
	case len(p.Roles) > 0 && !c.HasRole(p.Roles...):
		return RoleMismatch
	}
	return None
}

func TestCheck_SingleHighestPriorityCause(t *testing.T) {
	t.Parallel()

	subjects := []*claims.Claims{nil, {Subject: "x"}, {Subject: "x", Role: "root"}}
	for _, r := range claims.Roles {
		for _, v := range []bool{false, true} {
			for _, e := range []bool{false, true} {
				subjects = append(subjects, principal(r, v, e))
			}
		}
	}

	roleSets := [][]claims.Role{nil, {claims.RoleAdmin}, {claims.RolePractitioner, claims.RolePharmacy}}
	var policies []Policy
	for _, roles := range roleSets {
		for _, v := range []bool{false, true} {
			for _, e := range []bool{false, true} {
				policies = append(policies, Policy{Roles: roles, RequireVerified: v, RequireElevatedAssurance: e})
			}
		}
	}

	for _, c := range subjects {
		for _, p := range policies {
			got := Check(c, p)
			require.Equal(t, expected(c, p), got, "claims=%+v policy=%+v", c, p)

			failing := Failing(c, p)
			if got == None {
				require.Empty(t, failing)
				continue
			}
			require.NotEmpty(t, failing)
			for _, f := range failing {
				require.GreaterOrEqual(t, f, got, "reported code outranks every failing condition")
			}
		}
	}
}

func TestCheck_AllConditionsFailing(t *testing.T) {
	t.Parallel()

	c := principal(claims.RolePharmacy, false, false)
	p := Policy{Roles: []claims.Role{claims.RoleAdmin}, RequireVerified: true, RequireElevatedAssurance: true}

	require.Equal(t, []DenialCode{AssuranceRequired, NotVerified, RoleMismatch}, Failing(c, p))
	require.Equal(t, AssuranceRequired, Check(c, p))
	require.Equal(t, NotAuthenticated, Check(nil, p))
}

func TestHighestPriority_EmptyIsInvariantViolation(t *testing.T) {
	t.Parallel()

	_, err := highestPriority(nil)
	require.ErrorIs(t, err, errNoFailingCondition)

	code, err := highestPriority([]DenialCode{RoleMismatch, NotVerified})
	require.NoError(t, err)
	require.Equal(t, NotVerified, code)
}

func TestStrings(t *testing.T) {
	t.Parallel()

	require.Equal(t, "assurance_required", AssuranceRequired.String())
	require.Equal(t, "checking", StateChecking.String())
}
