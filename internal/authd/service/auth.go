package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/openvitals/vitalgate/internal/authd/domain"
	"github.com/openvitals/vitalgate/internal/authd/store"
	"github.com/openvitals/vitalgate/pkg/cryptox"
	"github.com/openvitals/vitalgate/pkg/idx"
	"github.com/openvitals/vitalgate/pkg/jwtx"
	"github.com/openvitals/vitalgate/pkg/slogx"
)

var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrEmailTaken         = errors.New("email_taken")
	ErrInvalidRefresh     = errors.New("invalid_refresh_token")
	ErrTokenReuse         = errors.New("token_reuse_detected")
)

// AuthService owns the credential and session lifecycle: sign-up, sign-in,
// server-side refresh rotation, and sign-out.
type AuthService struct {
	Store store.Store

	Access  *jwtx.Codec // signs short-lived access tokens
	Refresh *jwtx.Codec // signs refresh tokens with a distinct secret

	AccessTTL     time.Duration // access token lifetime
	SessionTTL    time.Duration // session + refresh lifetime, browser session
	RememberMeTTL time.Duration // session + refresh lifetime when remember_me is set
	GracePeriod   time.Duration // window in which a just-rotated refresh token is still honoured
}

// SignUp registers a new user with an argon2id password hash.
func (s *AuthService) SignUp(ctx context.Context, email, password, firstName, lastName string) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return domain.User{}, err
	}

	now := time.Now().UTC()
	u := domain.User{
		ID:           idx.New().String(),
		Email:        email,
		FirstName:    strings.TrimSpace(firstName),
		LastName:     strings.TrimSpace(lastName),
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.Store.Users().CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.User{}, ErrEmailTaken
		}
		return domain.User{}, err
	}

	return u, nil
}

// SignIn verifies credentials and opens a new session, issuing a fresh
// access/refresh pair. userAgent and ipAddress are recorded for audit.
func (s *AuthService) SignIn(
	ctx context.Context,
	email, password string,
	rememberMe bool,
	userAgent, ipAddress string,
) (domain.User, domain.TokenPair, error) {
	l := slogx.FromContext(ctx)
	email = strings.ToLower(strings.TrimSpace(email))

	u, err := s.Store.Users().GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn a verification anyway so response timing does not leak
			// whether the email exists.
			_ = cryptox.VerifyPassword(password, cryptox.DummyHash)
			return domain.User{}, domain.TokenPair{}, ErrInvalidCredentials
		}
		return domain.User{}, domain.TokenPair{}, err
	}

	if err := cryptox.VerifyPassword(password, u.PasswordHash); err != nil {
		l.Info("sign-in password verification failed", slog.String("user_id", u.ID))
		return domain.User{}, domain.TokenPair{}, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	pair, sess, err := s.issueSession(u, rememberMe, now)
	if err != nil {
		return domain.User{}, domain.TokenPair{}, err
	}
	sess.UserAgent = userAgent
	sess.IPAddress = ipAddress

	if err := s.Store.Sessions().CreateSession(ctx, sess); err != nil {
		return domain.User{}, domain.TokenPair{}, err
	}

	return u, pair, nil
}

// RefreshResult carries the outcome of a rotation alongside the user the
// session belongs to.
type RefreshResult struct {
	User domain.User
	Pair domain.TokenPair
}

// RefreshTokens rotates the session identified by refreshToken.
//
// The presented token is matched against the session's current and previous
// refresh fingerprints:
//
//   - current match: full rotation. A new pair is issued, the old fingerprint
//     is retained for a short grace window, and the session lifetime slides.
//   - previous match inside the grace window: a concurrent caller lost the
//     rotation race. It gets a fresh access token bound to the already
//     rotated refresh token, with no further rotation.
//   - previous match outside the grace window: replay of a consumed token.
//     The request is denied and the event logged; the session record is kept
//     for audit.
func (s *AuthService) RefreshTokens(ctx context.Context, refreshToken string, rememberMe bool) (RefreshResult, error) {
	l := slogx.FromContext(ctx)
	now := time.Now().UTC()

	// The token must be a well-formed, unexpired token of ours before we
	// touch the database at all.
	claims, err := s.Refresh.Verify(refreshToken)
	if err != nil {
		return RefreshResult{}, ErrInvalidRefresh
	}

	fp := cryptox.FingerprintToken(refreshToken)

	var result RefreshResult
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		sess, err := tx.Sessions().GetSessionByTokenHash(ctx, fp)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidRefresh
			}
			return err
		}

		if now.After(sess.ExpiresAt) {
			return ErrInvalidRefresh
		}

		u, err := tx.Users().GetUserByID(ctx, sess.UserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidRefresh
			}
			return err
		}
		result.User = u

		switch {
		case fp == sess.RefreshTokenHash:
			// Current token: rotate.
			pair, rotated, err := s.issueSession(u, rememberMe, now)
			if err != nil {
				return err
			}
			graceUntil := now.Add(s.gracePeriod())

			sess.AccessToken = pair.AccessToken
			sess.RefreshToken = pair.RefreshToken
			sess.RefreshTokenHash = cryptox.FingerprintToken(pair.RefreshToken)
			sess.PrevRefreshTokenHash = fp
			sess.PrevRefreshExpiresAt = &graceUntil
			sess.RememberMe = rememberMe
			sess.ExpiresAt = rotated.ExpiresAt
			sess.UpdatedAt = now

			if err := tx.Sessions().UpdateSession(ctx, sess); err != nil {
				return err
			}
			result.Pair = pair
			return nil

		case fp == sess.PrevRefreshTokenHash &&
			sess.PrevRefreshExpiresAt != nil &&
			now.Before(*sess.PrevRefreshExpiresAt):
			// Grace window: reissue access only, bound to the refresh token
			// that already won the rotation.
			access, err := s.Access.Sign(jwtx.Identity{UserID: u.ID, Email: u.Email}, s.AccessTTL)
			if err != nil {
				return err
			}

			sess.AccessToken = access
			sess.UpdatedAt = now
			if err := tx.Sessions().UpdateSession(ctx, sess); err != nil {
				return err
			}

			result.Pair = domain.TokenPair{
				AccessToken:  access,
				RefreshToken: sess.RefreshToken,
			}
			return nil

		default:
			// Previous token presented after the grace window closed.
			l.Warn("refresh token reuse detected",
				slog.String("user_id", sess.UserID),
				slog.String("session_id", sess.ID),
				slog.String("subject", claims.Subject),
			)
			return ErrTokenReuse
		}
	})
	if err != nil {
		return RefreshResult{}, err
	}

	return result, nil
}

// SignOut revokes the session holding refreshToken. It is idempotent: an
// unknown or already revoked token is not an error.
func (s *AuthService) SignOut(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	fp := cryptox.FingerprintToken(refreshToken)
	return s.Store.Sessions().DeleteSessionByTokenHash(ctx, fp)
}

// RevokeUserSessions removes every session for a user, e.g. after a
// password change.
func (s *AuthService) RevokeUserSessions(ctx context.Context, userID string) error {
	return s.Store.Sessions().DeleteUserSessions(ctx, userID)
}

// issueSession signs a fresh token pair and builds the session record shell
// for it. The caller persists the record (or merges it into an existing one).
func (s *AuthService) issueSession(u domain.User, rememberMe bool, now time.Time) (domain.TokenPair, domain.Session, error) {
	id := jwtx.Identity{UserID: u.ID, Email: u.Email}

	sessionTTL := s.SessionTTL
	if rememberMe {
		sessionTTL = s.RememberMeTTL
	}

	access, err := s.Access.Sign(id, s.AccessTTL)
	if err != nil {
		return domain.TokenPair{}, domain.Session{}, err
	}
	refresh, err := s.Refresh.Sign(id, sessionTTL)
	if err != nil {
		return domain.TokenPair{}, domain.Session{}, err
	}

	pair := domain.TokenPair{AccessToken: access, RefreshToken: refresh}
	sess := domain.Session{
		ID:               idx.New().String(),
		UserID:           u.ID,
		AccessToken:      access,
		RefreshToken:     refresh,
		RefreshTokenHash: cryptox.FingerprintToken(refresh),
		RememberMe:       rememberMe,
		ExpiresAt:        now.Add(sessionTTL),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return pair, sess, nil
}

func (s *AuthService) gracePeriod() time.Duration {
	if s.GracePeriod <= 0 {
		return 20 * time.Second
	}
	return s.GracePeriod
}
