package cognito

import (
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"

	"todoapp/internal/identity"
)

// mapError translates a user pool exception into the identity taxonomy.
// Errors that are not user pool exceptions are returned unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var (
		notFound     *types.UserNotFoundException
		notAuth      *types.NotAuthorizedException
		notConfirmed *types.UserNotConfirmedException
		mismatch     *types.CodeMismatchException
		expired      *types.ExpiredCodeException
		limit        *types.LimitExceededException
		tooMany      *types.TooManyRequestsException
		attempts     *types.TooManyFailedAttemptsException
		password     *types.InvalidPasswordException
		exists       *types.UsernameExistsException
		invalid      *types.InvalidParameterException
		alias        *types.AliasExistsException
	)

	switch {
	case errors.As(err, &notFound):
		return wrap(notFound.ErrorCode(), identity.ErrUserNotFound, notFound.ErrorMessage(), err)
	case errors.As(err, &notAuth):
		return wrap(notAuth.ErrorCode(), identity.ErrNotAuthorized, notAuth.ErrorMessage(), err)
	case errors.As(err, &notConfirmed):
		return wrap(notConfirmed.ErrorCode(), identity.ErrUserNotConfirmed, notConfirmed.ErrorMessage(), err)
	case errors.As(err, &mismatch):
		return wrap(mismatch.ErrorCode(), identity.ErrCodeMismatch, mismatch.ErrorMessage(), err)
	case errors.As(err, &expired):
		return wrap(expired.ErrorCode(), identity.ErrCodeExpired, expired.ErrorMessage(), err)
	case errors.As(err, &limit):
		return wrap(limit.ErrorCode(), identity.ErrRateLimited, limit.ErrorMessage(), err)
	case errors.As(err, &tooMany):
		return wrap(tooMany.ErrorCode(), identity.ErrRateLimited, tooMany.ErrorMessage(), err)
	case errors.As(err, &attempts):
		return wrap(attempts.ErrorCode(), identity.ErrRateLimited, attempts.ErrorMessage(), err)
	case errors.As(err, &password):
		return wrap(password.ErrorCode(), identity.ErrPasswordPolicy, password.ErrorMessage(), err)
	case errors.As(err, &exists):
		return wrap(exists.ErrorCode(), identity.ErrUsernameExists, exists.ErrorMessage(), err)
	case errors.As(err, &alias):
		return wrap(alias.ErrorCode(), identity.ErrUsernameExists, alias.ErrorMessage(), err)
	case errors.As(err, &invalid):
		return wrap(invalid.ErrorCode(), identity.ErrInvalidParameter, invalid.ErrorMessage(), err)
	default:
		return err
	}
}

// wrap matches both the sentinel and the original SDK error.
func wrap(code string, sentinel error, message string, cause error) error {
	return &identity.Error{
		Code:    code,
		Message: message,
		Err:     errors.Join(sentinel, cause),
	}
}
