// Package session implements the client-held session envelope: a signed,
// time-boxed token carrying the user identity and the current token pair,
// delivered only through an HTTP-only cookie.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DecodeStatus tags the outcome of decoding a presented cookie. The external
// behaviour is fail-closed either way; the tag lets callers distinguish a
// session that aged out from one that was tampered with.
type DecodeStatus int

const (
	DecodeOK DecodeStatus = iota
	DecodeExpired
	DecodeInvalid
)

// Envelope is the decrypted session cookie payload. It is re-issued
// wholesale on every token change, never patched.
type Envelope struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`

	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	RememberMe   bool   `json:"rememberMe"`
}

type envelopeClaims struct {
	Envelope
	jwt.RegisteredClaims
}

// Codec signs and verifies session envelopes with a process-wide symmetric
// secret. The envelope TTL follows the remember-me flag: a short default so
// a stolen cookie from a shared machine goes stale quickly, a long one when
// the user opted in.
type Codec struct {
	secret      []byte
	ttl         time.Duration
	rememberTTL time.Duration
}

func NewCodec(secret string, ttl, rememberTTL time.Duration) *Codec {
	return &Codec{secret: []byte(secret), ttl: ttl, rememberTTL: rememberTTL}
}

// TTL returns the envelope lifetime for the given remember-me choice.
func (c *Codec) TTL(rememberMe bool) time.Duration {
	if rememberMe {
		return c.rememberTTL
	}
	return c.ttl
}

// Encode signs env into an opaque cookie value.
func (c *Codec) Encode(env Envelope) (string, error) {
	now := time.Now()
	claims := envelopeClaims{
		Envelope: env,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   env.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.TTL(env.RememberMe))),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("session: encode: %w", err)
	}
	return signed, nil
}

// Decode verifies raw and returns the envelope. Any failure yields a zero
// envelope: an expired cookie reports DecodeExpired, everything else
// (bad signature, malformed, wrong algorithm) reports DecodeInvalid.
func (c *Codec) Decode(raw string) (Envelope, DecodeStatus) {
	claims := &envelopeClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Envelope{}, DecodeExpired
		}
		return Envelope{}, DecodeInvalid
	}
	if !token.Valid {
		return Envelope{}, DecodeInvalid
	}
	return claims.Envelope, DecodeOK
}
