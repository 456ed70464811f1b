package local

import (
	"time"

	"github.com/google/uuid"
)

// CodePurpose distinguishes the two kinds of one-time codes.
type CodePurpose string

const (
	PurposeConfirmSignUp CodePurpose = "confirm_sign_up"
	PurposeResetPassword CodePurpose = "reset_password"
)

// Account is a registered email/password account.
type Account struct {
	ID            uuid.UUID
	Email         string
	PasswordHash  string
	Confirmed     bool
	EmailVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastLoginAt   *time.Time
}

// Session is an issued sign-in session. Only the SHA-256 of its token is stored.
type Session struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Code is a pending one-time code. Only its hash is stored.
type Code struct {
	AccountID uuid.UUID
	Purpose   CodePurpose
	CodeHash  string
	ExpiresAt time.Time
	CreatedAt time.Time
}
