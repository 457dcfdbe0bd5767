package auth

import (
	"context"
	"time"
)

// Store describes persistence required by the session and password reset flows.
// Lookups return errors matching apperr.ErrNotFound when the row is absent.
type Store interface {
	UserByDNI(ctx context.Context, dni string) (User, error)
	UserByID(ctx context.Context, id string) (User, error)
	UserAccess(ctx context.Context, userID string) (Access, error)

	// ReplaceSession locks the user row, deletes its sessions and inserts sess,
	// all inside one serializable transaction.
	ReplaceSession(ctx context.Context, sess Session) error
	SessionByTokenHash(ctx context.Context, tokenHash string) (Session, error)
	DeleteSessionByTokenHash(ctx context.Context, tokenHash string) (int64, error)
	TouchSession(ctx context.Context, sessionID string, at time.Time) error

	// CreateResetToken marks the user's unused tokens as used and inserts tok atomically.
	CreateResetToken(ctx context.Context, tok PasswordResetToken) error
	// ConsumeResetToken atomically swaps the password, marks the token used and
	// deletes every session of the owner. It returns the owner's id.
	ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (string, error)

	Profile(ctx context.Context, userID string) (UserProfile, error)
	UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (User, error)
}
