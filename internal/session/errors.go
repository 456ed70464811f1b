package session

import (
	"errors"
	"fmt"

	"todoapp/internal/identity"
)

// Kind classifies a failed session operation for display and metrics.
type Kind string

const (
	KindUserNotFound     Kind = "user_not_found"
	KindNotAuthorized    Kind = "not_authorized"
	KindUserNotConfirmed Kind = "user_not_confirmed"
	KindInvalidCode      Kind = "invalid_code"
	KindCodeExpired      Kind = "code_expired"
	KindRateLimited      Kind = "rate_limited"
	KindPasswordPolicy   Kind = "password_policy"
	KindUsernameExists   Kind = "username_exists"
	KindValidation       Kind = "validation"
	KindUnknown          Kind = "unknown"
)

var (
	// ErrBusy is returned while another session operation is in flight.
	ErrBusy = errors.New("another session operation is in progress")
	// ErrPasswordMismatch is returned when a password and its confirmation differ.
	ErrPasswordMismatch = errors.New("passwords do not match")
)

// Error is a session operation failure.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Detail)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Kind
	}
	return kindFromProvider(err)
}

func kindFromProvider(err error) Kind {
	switch {
	case errors.Is(err, identity.ErrUserNotFound):
		return KindUserNotFound
	case errors.Is(err, identity.ErrNotAuthorized):
		return KindNotAuthorized
	case errors.Is(err, identity.ErrUserNotConfirmed):
		return KindUserNotConfirmed
	case errors.Is(err, identity.ErrCodeMismatch):
		return KindInvalidCode
	case errors.Is(err, identity.ErrCodeExpired):
		return KindCodeExpired
	case errors.Is(err, identity.ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, identity.ErrPasswordPolicy):
		return KindPasswordPolicy
	case errors.Is(err, identity.ErrUsernameExists):
		return KindUsernameExists
	case errors.Is(err, identity.ErrInvalidParameter), errors.Is(err, ErrPasswordMismatch):
		return KindValidation
	default:
		return KindUnknown
	}
}

func wrapProviderError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:   kindFromProvider(err),
		Op:     op,
		Detail: identity.Detail(err),
		Err:    err,
	}
}

func validationError(op, detail string, err error) error {
	return &Error{Kind: KindValidation, Op: op, Detail: detail, Err: err}
}

// policyError is a password rejected locally, before reaching the provider.
func policyError(op string, minLength int) error {
	return &Error{
		Kind:   KindPasswordPolicy,
		Op:     op,
		Detail: fmt.Sprintf("Password must be at least %d characters", minLength),
		Err:    identity.ErrPasswordPolicy,
	}
}

// Message returns the text shown to the user for err. Confirmation errors
// read differently depending on the operation that produced them.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrBusy) {
		return "Please wait for the current request to finish."
	}

	var serr *Error
	op, detail := "", identity.Detail(err)
	if errors.As(err, &serr) {
		op = serr.Op
		if serr.Detail != "" {
			detail = serr.Detail
		}
	}

	switch KindOf(err) {
	case KindUserNotFound:
		return "No account found with this email."
	case KindNotAuthorized:
		if op == opConfirmSignUp {
			return "User is already confirmed or code is invalid."
		}
		return "Incorrect email or password."
	case KindUserNotConfirmed:
		return "Please verify your email before logging in. Check your inbox for the verification code."
	case KindInvalidCode:
		return "Invalid verification code. Please try again."
	case KindCodeExpired:
		return "Verification code has expired. Please request a new one."
	case KindRateLimited:
		return "Too many attempts. Please try again later."
	case KindPasswordPolicy:
		var perr *identity.Error
		if !errors.As(err, &perr) {
			return detail
		}
		return "Password does not meet requirements: " + detail
	case KindUsernameExists:
		return "An account with this email already exists."
	case KindValidation:
		if errors.Is(err, ErrPasswordMismatch) {
			return "Passwords do not match"
		}
		return detail
	default:
		return "operation failed: " + detail
	}
}
