package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/relayhub/fanout/internal/identity"
)

// Claims is the signed self-contained token's payload.
type Claims struct {
	UserID      int64    `json:"user_id"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
	Name        string   `json:"name,omitempty"`
	Email       string   `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// verifyJWT validates a symmetric-HMAC signed token locally against the
// configured secret and maps its claims onto an Identity.
func verifyJWT(token string, secret []byte) (identity.Identity, *Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return identity.Identity{}, nil, err
	}
	if !parsed.Valid {
		return identity.Identity{}, nil, fmt.Errorf("token invalid")
	}

	role := identity.Role(claims.Role)
	if !role.Valid() {
		return identity.Identity{}, nil, fmt.Errorf("unrecognized role %q", claims.Role)
	}

	return identity.Identity{
		UserID:      claims.UserID,
		Role:        role,
		Permissions: claims.Permissions,
		Name:        claims.Name,
		Email:       claims.Email,
	}, claims, nil
}

// expiresAt returns the claim's expiry, or the zero value if unset.
func (c *Claims) expiresAt() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}
