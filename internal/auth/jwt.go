// Package auth authenticates API callers. A caller presents an HS256 JWT
// whose subject is its base58 identity; the core then receives that
// identity as the command's caller.
package auth

import (
	"EscrowLedger/internal/identity"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carries the caller identity in the standard sub claim.
type Claims struct {
	jwt.RegisteredClaims
}

// GenerateToken issues a token for id valid for validity.
func GenerateToken(id identity.Identity, secretKey []byte, validity time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// IdentityFromToken verifies tokenString and returns its subject. Tokens
// without an expiry are rejected.
func IdentityFromToken(tokenString string, secretKey []byte) (identity.Identity, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return identity.Zero, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return identity.Zero, ErrInvalidToken
	}

	id, err := identity.Parse(claims.Subject)
	if err != nil {
		return identity.Zero, fmt.Errorf("%w: subject: %v", ErrInvalidToken, err)
	}
	if id.IsZero() {
		return identity.Zero, fmt.Errorf("%w: null subject", ErrInvalidToken)
	}
	return id, nil
}
