package claims

import (
	"errors"
	"testing"

	"github.com/and161185/practigate/internal/errs"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"practitioner", "Pharmacy", " admin "} {
		r, err := ParseRole(raw)
		require.NoError(t, err, raw)
		require.True(t, r.Valid())
	}

	for _, raw := range []string{"", "doctor", "superadmin"} {
		_, err := ParseRole(raw)
		require.ErrorIs(t, err, errs.ErrInvalidClaims, raw)
	}
}

func TestValidate_FailsClosed(t *testing.T) {
	t.Parallel()

	var nilClaims *Claims
	require.Error(t, nilClaims.Validate())
	require.Error(t, (&Claims{}).Validate())
	require.Error(t, (&Claims{Role: "Admin"}).Validate())
	require.Error(t, (&Claims{Role: "nurse"}).Validate())

	err := (&Claims{Role: "nurse"}).Validate()
	if !errors.Is(err, errs.ErrInvalidClaims) {
		t.Fatalf("want ErrInvalidClaims, got %v", err)
	}
	require.NoError(t, (&Claims{Role: RolePharmacy}).Validate())
}

func TestNormalize_Defaults(t *testing.T) {
	t.Parallel()

	c := &Claims{Role: RolePractitioner, AssuranceLevel: "aal2", VerificationStatus: "weird"}
	c.Normalize()

	require.Equal(t, AssuranceElevated, c.AssuranceLevel)
	require.Equal(t, VerificationPending, c.VerificationStatus)
	require.Equal(t, ProfileIncomplete, c.ProfileStatus)
	require.NotNil(t, c.BusinessInfo)
	require.NotNil(t, c.BusinessInfo.Features)
	require.True(t, c.IsElevated())
	require.False(t, c.IsVerified())
}

func TestClone_IsDeep(t *testing.T) {
	t.Parallel()

	orig := &Claims{
		Role:         RolePharmacy,
		BusinessInfo: &BusinessInfo{Features: map[string]bool{"delivery": true}},
	}
	cp := orig.Clone()
	cp.BusinessInfo.Features["delivery"] = false
	cp.Role = RoleAdmin

	require.True(t, orig.BusinessInfo.Features["delivery"])
	require.Equal(t, RolePharmacy, orig.Role)

	var none *Claims
	require.Nil(t, none.Clone())
}

func TestHasRole(t *testing.T) {
	t.Parallel()

	c := &Claims{Role: RoleAdmin}
	require.True(t, c.HasRole(RolePharmacy, RoleAdmin))
	require.False(t, c.HasRole(RolePractitioner))
	require.False(t, c.HasRole())
}
