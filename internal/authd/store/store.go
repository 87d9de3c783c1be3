package store

import (
	"context"
	"errors"

	"github.com/openvitals/vitalgate/internal/authd/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. It exposes sub-repositories to
// keep concerns tidy and testable; the sqlite driver is the only concrete
// implementation, everything else treats sessions as an opaque store.
type Store interface {
	Users() Users
	Sessions() Sessions

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed. Use it for
	// multi-step operations that must be atomic (e.g., refresh rotation).
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	// GetUserByID returns a user by id.
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByEmail is used during sign-in.
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// CreateUser inserts a new user (id is provided by app via ULID).
	// Returns ErrAlreadyExists if the email is taken.
	CreateUser(ctx context.Context, u domain.User) error
}

type Sessions interface {
	// CreateSession stores a new session record on sign-in.
	CreateSession(ctx context.Context, s domain.Session) error

	// GetSessionByTokenHash returns the session whose current OR previous
	// refresh token fingerprint matches hash.
	GetSessionByTokenHash(ctx context.Context, hash string) (domain.Session, error)

	// UpdateSession rewrites the mutable token fields of the record
	// identified by s.ID and bumps updated_at. Used for rotation and for
	// grace-period access reissue.
	UpdateSession(ctx context.Context, s domain.Session) error

	// DeleteSessionByTokenHash removes a session on sign-out.
	DeleteSessionByTokenHash(ctx context.Context, hash string) error

	// DeleteUserSessions bulk revocation for a user (e.g., password reset).
	DeleteUserSessions(ctx context.Context, userID string) error

	// DeleteExpiredSessions is housekeeping.
	DeleteExpiredSessions(ctx context.Context) error
}
