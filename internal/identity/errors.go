package identity

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every provider.
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrNotAuthorized    = errors.New("not authorized")
	ErrUserNotConfirmed = errors.New("user not confirmed")
	ErrCodeMismatch     = errors.New("code mismatch")
	ErrCodeExpired      = errors.New("code expired")
	ErrRateLimited      = errors.New("rate limited")
	ErrPasswordPolicy   = errors.New("password policy violation")
	ErrUsernameExists   = errors.New("username exists")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNoCredential     = errors.New("no current credential")
)

// Error carries the provider's own code and message alongside the taxonomy
// sentinel it maps to.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an Error for the given sentinel.
func NewError(code string, sentinel error, message string) *Error {
	return &Error{Code: code, Message: message, Err: sentinel}
}

// Detail returns the provider message for err when one is available.
func Detail(err error) string {
	var perr *Error
	if errors.As(err, &perr) && perr.Message != "" {
		return perr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
