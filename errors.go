package accounts

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes surfaced to API clients alongside the error category.
const (
	TextCodeInvalidCreds      = "INVALID_CREDENTIALS"
	TextCodeAccountNotFound   = "ACCOUNT_NOT_FOUND"
	TextCodeDuplicateIdentity = "DUPLICATE_IDENTITY"
	TextCodeInvalidState      = "INVALID_ACCOUNT_STATE"
	TextCodeTokenInvalid      = "TOKEN_INVALID"
	TextCodeTokenExpired      = "TOKEN_EXPIRED"
	TextCodeTokenReplay       = "TOKEN_REPLAY"
	TextCodePasswordMismatch  = "PASSWORD_MISMATCH"
	TextCodeWeakPassword      = "WEAK_PASSWORD"
	TextCodeNotActivated      = "ACCOUNT_NOT_ACTIVATED"
	TextCodeAccountInactive   = "ACCOUNT_INACTIVE"
	TextCodeAccountLocked     = "ACCOUNT_LOCKED"
	TextCodeTooManyAttempts   = "TOO_MANY_LOGIN_ATTEMPTS"
	TextCodeEmptyPassword     = "EMPTY_PASSWORD"
	TextCodeUnknownRole       = "UNKNOWN_ROLE"
)

// ErrInvalidCredentials is returned for both unknown identifiers and wrong
// passwords so callers cannot enumerate accounts.
var ErrInvalidCredentials = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountNotFound is returned when an account lookup by id or email misses.
var ErrAccountNotFound = goerrors.New("account not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeAccountNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrDuplicateIdentity is returned when a unique identity attribute (email,
// national id, username) is already taken.
var ErrDuplicateIdentity = goerrors.New("an account with this identity already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateIdentity).
	WithCode(goerrors.CodeConflict)

// ErrInvalidState is returned when the account is in the wrong lifecycle state
// for the requested transition.
var ErrInvalidState = goerrors.New("account is in an invalid state for this operation", goerrors.CategoryConflict).
	WithTextCode(TextCodeInvalidState).
	WithCode(goerrors.CodeConflict)

// ErrTokenInvalid covers malformed structure, bad signatures, and wrong kinds.
var ErrTokenInvalid = goerrors.New("token is invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned when a token is past its expiry beyond the
// configured clock skew allowance.
var ErrTokenExpired = goerrors.New("token has expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenReplay is returned when a presented activation token does not match
// the token currently stored on the account.
var ErrTokenReplay = goerrors.New("token does not match the current activation token", goerrors.CategoryConflict).
	WithTextCode(TextCodeTokenReplay).
	WithCode(goerrors.CodeConflict)

// ErrPasswordMismatch is returned when a password and its confirmation differ.
var ErrPasswordMismatch = goerrors.New("passwords do not match", goerrors.CategoryValidation).
	WithTextCode(TextCodePasswordMismatch).
	WithCode(goerrors.CodeBadRequest)

// ErrWeakPassword is returned when a chosen password fails the strength policy.
var ErrWeakPassword = goerrors.New("password does not meet the strength requirements", goerrors.CategoryValidation).
	WithTextCode(TextCodeWeakPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrAccountNotActivated gates login for accounts that never completed
// activation (enabled=false).
var ErrAccountNotActivated = goerrors.New("account has not been activated", goerrors.CategoryAuth).
	WithTextCode(TextCodeNotActivated).
	WithCode(goerrors.CodeForbidden)

// ErrAccountInactive gates login for accounts that were activated but later
// disabled (active=false).
var ErrAccountInactive = goerrors.New("account is disabled", goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountInactive).
	WithCode(goerrors.CodeForbidden)

// ErrAccountLocked gates login for administratively locked accounts.
var ErrAccountLocked = goerrors.New("account is locked", goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountLocked).
	WithCode(goerrors.CodeForbidden)

// ErrTooManyLoginAttempts is returned when the cooldown window has not elapsed.
var ErrTooManyLoginAttempts = goerrors.New("too many login attempts, try again later", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyAttempts)

// ErrUnknownRole rejects role sets containing entries outside the hierarchy.
var ErrUnknownRole = goerrors.New("unknown role", goerrors.CategoryValidation).
	WithTextCode(TextCodeUnknownRole).
	WithCode(goerrors.CodeBadRequest)

// ErrNoEmptyString rejects empty passwords before they reach the hasher.
var ErrNoEmptyString = goerrors.New("value must not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// IsBusinessError reports whether err is one of the expected, client-facing
// domain errors as opposed to an unexpected internal failure.
func IsBusinessError(err error) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	switch rich.Category {
	case goerrors.CategoryInternal, goerrors.CategoryOperation:
		return false
	default:
		return true
	}
}

// IsTokenExpiredError checks for expired tokens, including errors produced by
// the underlying JWT library.
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.TextCode == TextCodeTokenExpired {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError checks for structurally invalid tokens.
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}
