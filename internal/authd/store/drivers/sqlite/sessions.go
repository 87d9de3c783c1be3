package sqlite

import (
	"context"

	"github.com/openvitals/vitalgate/internal/authd/domain"
)

type sessionsRepo struct {
	db querier
}

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, user_id, access_token, refresh_token, refresh_token_hash,
			prev_refresh_token_hash, prev_refresh_expires_at,
			remember_me, expires_at, user_agent, ip_address, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID,
		s.UserID,
		s.AccessToken,
		s.RefreshToken,
		s.RefreshTokenHash,
		mapStringNull(s.PrevRefreshTokenHash),
		mapOptionalTime(s.PrevRefreshExpiresAt),
		s.RememberMe,
		s.ExpiresAt,
		mapStringNull(s.UserAgent),
		mapStringNull(s.IPAddress),
		s.CreatedAt,
		s.UpdatedAt,
	)
	return mapConflict(err)
}

// GetSessionByTokenHash matches either the current or the previous refresh
// token fingerprint. The caller decides which one matched and what that means.
func (r *sessionsRepo) GetSessionByTokenHash(ctx context.Context, hash string) (domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, access_token, refresh_token, refresh_token_hash,
		       prev_refresh_token_hash, prev_refresh_expires_at,
		       remember_me, expires_at, user_agent, ip_address, created_at, updated_at
		FROM sessions
		WHERE refresh_token_hash = ? OR prev_refresh_token_hash = ?`,
		hash, hash,
	)
	return scanSession(row)
}

func (r *sessionsRepo) UpdateSession(ctx context.Context, s domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET access_token = ?,
		    refresh_token = ?,
		    refresh_token_hash = ?,
		    prev_refresh_token_hash = ?,
		    prev_refresh_expires_at = ?,
		    remember_me = ?,
		    expires_at = ?,
		    updated_at = ?
		WHERE id = ?`,
		s.AccessToken,
		s.RefreshToken,
		s.RefreshTokenHash,
		mapStringNull(s.PrevRefreshTokenHash),
		mapOptionalTime(s.PrevRefreshExpiresAt),
		s.RememberMe,
		s.ExpiresAt,
		s.UpdatedAt,
		s.ID,
	)
	return err
}

func (r *sessionsRepo) DeleteSessionByTokenHash(ctx context.Context, hash string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM sessions
		WHERE refresh_token_hash = ? OR prev_refresh_token_hash = ?`,
		hash, hash,
	)
	return err
}

func (r *sessionsRepo) DeleteUserSessions(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
	return err
}

func (r *sessionsRepo) DeleteExpiredSessions(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= CURRENT_TIMESTAMP`)
	return err
}
