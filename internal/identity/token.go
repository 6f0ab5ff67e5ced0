package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/practigate/internal/claims"
	"github.com/and161185/practigate/internal/errs"
)

const tokenLeeway = 30 * time.Second

// AccessClaims is the JWT payload carrying the claims shape.
type AccessClaims struct {
	Email              string               `json:"email,omitempty"`
	Role               string               `json:"role"`
	VerificationStatus string               `json:"verification_status,omitempty"`
	AAL                string               `json:"aal,omitempty"`
	LicenseNumber      string               `json:"license_number,omitempty"`
	BusinessName       string               `json:"business_name,omitempty"`
	ProfileStatus      string               `json:"profile_status,omitempty"`
	BusinessInfo       *claims.BusinessInfo `json:"business_info,omitempty"`
	jwt.RegisteredClaims
}

// ParseAccessToken verifies an HS256 access token and returns validated claims.
func ParseAccessToken(raw string, key []byte) (*claims.Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errs.ErrNoSession
	}

	var ac AccessClaims
	parsed, err := jwt.ParseWithClaims(raw, &ac, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return key, nil
	}, jwt.WithLeeway(tokenLeeway), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid token", errs.ErrUnauthorized)
	}

	c := ac.toClaims()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// IssueAccessToken signs an HS256 token for c valid for ttl.
func IssueAccessToken(c *claims.Claims, key []byte, ttl time.Duration) (string, time.Time, error) {
	if err := c.Validate(); err != nil {
		return "", time.Time{}, err
	}
	now := time.Now()
	exp := now.Add(ttl)
	ac := AccessClaims{
		Email:              c.Email,
		Role:               string(c.Role),
		VerificationStatus: string(c.VerificationStatus),
		AAL:                aalOf(c.AssuranceLevel),
		LicenseNumber:      c.LicenseNumber,
		BusinessName:       c.BusinessName,
		ProfileStatus:      string(c.ProfileStatus),
		BusinessInfo:       c.BusinessInfo,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, ac)
	signed, err := tok.SignedString(key)
	return signed, exp, err
}

// TokenExpiry reads exp without verifying the signature. Used only to decide
// how long to keep a token on disk.
func TokenExpiry(raw string) (time.Time, bool) {
	var rc jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &rc); err != nil || rc.ExpiresAt == nil {
		return time.Time{}, false
	}
	return rc.ExpiresAt.Time, true
}

func (ac AccessClaims) toClaims() *claims.Claims {
	c := &claims.Claims{
		Subject:            ac.Subject,
		Email:              ac.Email,
		Role:               claims.Role(ac.Role),
		VerificationStatus: claims.VerificationStatus(ac.VerificationStatus),
		AssuranceLevel:     claims.AssuranceLevel(ac.AAL),
		LicenseNumber:      ac.LicenseNumber,
		BusinessName:       ac.BusinessName,
		ProfileStatus:      claims.ProfileStatus(ac.ProfileStatus),
		BusinessInfo:       ac.BusinessInfo,
	}
	c.Normalize()
	return c
}

func aalOf(l claims.AssuranceLevel) string {
	if l == claims.AssuranceElevated {
		return "aal2"
	}
	return "aal1"
}
