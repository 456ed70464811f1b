// Package identity defines the contract the application consumes from an
// identity provider: account registration, confirmation, authentication and
// password recovery. Concrete providers live in sub-packages.
package identity

import (
	"context"
	"time"
)

// NextStep tells the caller what the provider expects before an operation
// can be considered complete. It is an expected branch, not a failure.
type NextStep string

const (
	StepDone                 NextStep = "DONE"
	StepConfirmSignUp        NextStep = "CONFIRM_SIGN_UP"
	StepConfirmResetPassword NextStep = "CONFIRM_RESET_PASSWORD_WITH_CODE"
)

// Identity is the account currently known to the provider.
type Identity struct {
	UserID        string
	Username      string
	Email         string
	EmailVerified bool
}

// Attributes holds the profile attributes the provider stores for an account.
type Attributes struct {
	Email         string
	EmailVerified bool
	Extra         map[string]string
}

// SignUpInput carries the fields needed to register an account.
type SignUpInput struct {
	Email    string
	Password string
}

// CodeDelivery describes where a one-time code was sent.
type CodeDelivery struct {
	Medium      string
	Destination string
}

// SignUpResult reports whether registration finished or needs confirmation.
type SignUpResult struct {
	Complete bool
	UserID   string
	NextStep NextStep
	Delivery CodeDelivery
}

// SignInResult reports whether authentication finished or needs another step.
type SignInResult struct {
	SignedIn bool
	NextStep NextStep
}

// ResetResult is returned when a password reset code has been issued.
type ResetResult struct {
	NextStep NextStep
	Delivery CodeDelivery
}

// Provider is the identity provider client.
type Provider interface {
	SignUp(ctx context.Context, input SignUpInput) (SignUpResult, error)
	ConfirmSignUp(ctx context.Context, email, code string) error
	ResendConfirmationCode(ctx context.Context, email string) (CodeDelivery, error)
	SignIn(ctx context.Context, email, password string) (SignInResult, error)
	SignOut(ctx context.Context) error
	RequestPasswordReset(ctx context.Context, email string) (ResetResult, error)
	ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error
	GetCurrentIdentity(ctx context.Context) (Identity, error)
	GetUserAttributes(ctx context.Context) (Attributes, error)
}

// Default validity windows for one-time codes.
const (
	ConfirmationCodeTTL = 24 * time.Hour
	ResetCodeTTL        = 1 * time.Hour
)
