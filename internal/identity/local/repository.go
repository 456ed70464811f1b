package local

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for account, code and session persistence.
// Finders return nil, nil when nothing matches.
type Repository interface {
	// Account operations
	FindAccountByEmail(ctx context.Context, email string) (*Account, error)
	CreateAccount(ctx context.Context, account Account) (Account, error)
	UpdateAccount(ctx context.Context, account Account) error

	// Code operations
	SaveCode(ctx context.Context, code Code) error
	FindCode(ctx context.Context, accountID uuid.UUID, purpose CodePurpose) (*Code, error)
	DeleteCode(ctx context.Context, accountID uuid.UUID, purpose CodePurpose) error

	// Session operations
	CreateSession(ctx context.Context, session Session, tokenHash string) error
	FindSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, *Account, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
	DeleteAccountSessions(ctx context.Context, accountID uuid.UUID) error

	// DeleteExpired removes sessions and codes that expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
