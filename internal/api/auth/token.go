package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/contactbook/contactbook/config"
	"github.com/contactbook/contactbook/internal/types"
)

// Session tokens are valid for a fixed 30 days. There is no refresh token and
// no revocation list: a token stays valid until expiry even across password
// changes or account deletion.
const sessionTokenTTL = 30 * 24 * time.Hour

// generateSessionToken mints an HMAC-SHA256 signed token for a verified
// identity: subject is the user id, the jti is fresh per token, and every
// role the identity holds is embedded.
func generateSessionToken(user *types.UserIdentity, roles []string, jwtCfg config.JWTConfig) (string, error) {
	now := time.Now()
	claims := types.Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			ID:        uuid.NewString(),
			Issuer:    jwtCfg.Issuer,
			Audience:  jwt.ClaimStrings{jwtCfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(jwtCfg.SecretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}
