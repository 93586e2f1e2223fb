package jwt

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"fleet-tracker/internal/domain/user"
)

const issuer = "fleet-tracker"

// Claims is the JWT payload: a role for access control plus the registered claims.
type Claims struct {
	Role user.Role `json:"role"` // VIEWER | PUBLISHER | ADMIN
	jwtlib.RegisteredClaims
}

var _ jwtlib.Claims = (*Claims)(nil)

// NewClaims builds claims for subject valid for ttl.
func NewClaims(subject string, role user.Role, ttl time.Duration) *Claims {
	now := time.Now().UTC()
	return &Claims{
		Role: role,
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwtlib.NewNumericDate(now),
		},
	}
}
