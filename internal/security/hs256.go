package security

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// HS256Verifier verifies HMAC-signed bearer tokens and resolves the
// booking identity they carry. Algorithm pinning and issuer checking are
// both configured on the parser, so a token signed with any other method
// (or by any other issuer) fails before claims are looked at.
type HS256Verifier struct {
	parser *jwt.Parser
	secret []byte
}

func NewHS256Verifier(secret, issuer string) *HS256Verifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &HS256Verifier{
		parser: jwt.NewParser(opts...),
		secret: []byte(secret),
	}
}

// bookingClaims is the token shape the issuing service mints: the tenant
// (`tid`) is mandatory, the user (`uid`) is absent for machine callers.
type bookingClaims struct {
	TenantID string `json:"tid"`
	UserID   string `json:"uid"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Verify checks signature, expiry, and issuer, then resolves the claims
// into an Identity. A token that verifies cryptographically but names no
// tenant (or a malformed one) is rejected: without a tenant it cannot be
// scoped to any data.
func (v *HS256Verifier) Verify(token string) (Identity, error) {
	parsed, err := v.parser.ParseWithClaims(token, &bookingClaims{}, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*bookingClaims)
	if !ok || !parsed.Valid {
		return Identity{}, ErrTokenInvalid
	}

	tenantID, err := uuid.Parse(strings.TrimSpace(claims.TenantID))
	if err != nil || tenantID == uuid.Nil {
		return Identity{}, ErrTokenInvalid
	}

	ident := Identity{
		TenantID: tenantID,
		Role:     strings.TrimSpace(claims.Role),
	}
	if s := strings.TrimSpace(claims.UserID); s != "" {
		userID, err := uuid.Parse(s)
		if err != nil {
			return Identity{}, ErrTokenInvalid
		}
		ident.UserID = &userID
	}
	return ident, nil
}
