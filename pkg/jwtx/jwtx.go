// Package jwtx implements the signed-token codec used for access and
// refresh tokens. Tokens are HMAC-SHA256 JWTs carrying the user identity;
// access and refresh tokens are signed with distinct secrets so that a
// compromise of one token type cannot forge the other.
package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers signature mismatch, malformed structure and expiry.
// Callers must not distinguish between those causes.
var ErrInvalidToken = errors.New("jwtx: invalid token")

// Identity is the claim payload embedded in every token.
type Identity struct {
	UserID string
	Email  string
}

// Claims is the wire shape of the token payload.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Identity reconstructs the Identity from verified claims.
func (c *Claims) Identity() Identity {
	return Identity{UserID: c.Subject, Email: c.Email}
}

// Codec signs and verifies tokens with a single symmetric secret and a
// fixed issuer. TTL is supplied per call so the refresh codec can vary it
// by remember-me.
type Codec struct {
	secret []byte
	issuer string
}

func NewCodec(secret, issuer string) *Codec {
	return &Codec{secret: []byte(secret), issuer: issuer}
}

// Sign issues a token for id expiring after ttl.
func (c *Codec) Sign(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("jwtx: sign: %w", err)
	}
	return signed, nil
}

// Verify parses and validates raw, returning its claims. Any failure
// (signature, structure, expiry, wrong algorithm) collapses to
// ErrInvalidToken.
func (c *Codec) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithIssuer(c.issuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
