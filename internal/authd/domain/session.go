package domain

import "time"

// Session models a stored sign-in session. A user may hold several
// concurrent sessions (one per device); each is keyed by the fingerprint of
// its current refresh token.
//
// RefreshToken keeps the raw current token solely so a grace-period refresh
// can re-bind the caller to it; the previous token is never stored raw.
type Session struct {
	ID           string
	UserID       string
	AccessToken  string
	RefreshToken string
	// RefreshTokenHash is the SHA-256 fingerprint of RefreshToken and the
	// unique lookup key for this record.
	RefreshTokenHash string
	// PrevRefreshTokenHash is set only immediately after a rotation and
	// authenticates until PrevRefreshExpiresAt, absorbing in-flight
	// duplicate refresh calls.
	PrevRefreshTokenHash string
	PrevRefreshExpiresAt *time.Time
	RememberMe           bool
	// ExpiresAt bounds the session independently of the refresh token's own
	// expiry claim; both are checked.
	ExpiresAt time.Time
	UserAgent string
	IPAddress string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TokenPair is what the sign-in and refresh operations hand back.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}
