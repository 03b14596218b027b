package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	internal "github.com/nandasafiqal/access-grant-management/internal"
)

// Actor is the authenticated caller as seen by the grant service. ClientIDs
// scopes which clients' grants the actor may operate on; an empty slice means
// no client restriction (platform operators).
type Actor struct {
	Email       string   `json:"email"`
	Permissions []string `json:"permissions,omitempty"`
	ClientIDs   []string `json:"client_ids,omitempty"`
}

// Claims represents JWT token claims
type Claims struct {
	Email       string   `json:"email"`
	Permissions []string `json:"permissions,omitempty"`
	ClientIDs   []string `json:"client_ids,omitempty"`
	jwt.RegisteredClaims
}

// TokenValidator verifies HMAC signed access tokens and produces the actor.
type TokenValidator struct {
	secret []byte
}

func NewTokenValidator(secret string) *TokenValidator {
	return &TokenValidator{secret: []byte(secret)}
}

func (v *TokenValidator) ValidateToken(tokenString string) (*Actor, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, internal.ErrTokenExpired
		}
		return nil, internal.ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, internal.ErrInvalidToken
	}

	return &Actor{
		Email:       claims.Email,
		Permissions: claims.Permissions,
		ClientIDs:   claims.ClientIDs,
	}, nil
}

// GenerateToken signs an access token for the given actor; used by the seeder
// and tests, there is no interactive login flow in this service.
func GenerateToken(secret string, actor Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Email:       actor.Email,
		Permissions: actor.Permissions,
		ClientIDs:   actor.ClientIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
