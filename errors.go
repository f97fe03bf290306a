package idp

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeUserExists         = "USER_ALREADY_EXISTS"
	textCodeInvalidCredentials = "INVALID_CREDENTIALS"
	textCodeEmailNotVerified   = "EMAIL_NOT_VERIFIED"
	textCodeNoSession          = "NO_SESSION"
	textCodeInvalidSession     = "INVALID_SESSION"
	textCodeTokenSpent         = "TOKEN_SPENT"
	textCodeTokenExpired       = "TOKEN_EXPIRED"
	textCodeSendFailed         = "NOTIFICATION_SEND_FAILED"
)

// ErrUserAlreadyExists is returned when registration hits a duplicate email.
var ErrUserAlreadyExists = goerrors.New("a user with this email already exists", goerrors.CategoryConflict).
	WithTextCode(textCodeUserExists).
	WithCode(goerrors.CodeConflict)

// ErrInvalidCredentials covers both unknown identifiers and bad passwords,
// deliberately indistinguishable to the caller.
var ErrInvalidCredentials = goerrors.New("invalid email or password", goerrors.CategoryAuth).
	WithTextCode(textCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrEmailNotVerified blocks sign-in when the deployment requires a verified
// email and the account has none.
var ErrEmailNotVerified = goerrors.New("email address has not been verified", goerrors.CategoryAuth).
	WithTextCode(textCodeEmailNotVerified).
	WithCode(goerrors.CodeForbidden)

// ErrNoSession is returned when the request carried no usable credential.
var ErrNoSession = goerrors.New("no session credential supplied", goerrors.CategoryAuth).
	WithTextCode(textCodeNoSession).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidSession covers unknown, expired, and revoked session handles.
var ErrInvalidSession = goerrors.New("invalid or expired session", goerrors.CategoryAuth).
	WithTextCode(textCodeInvalidSession).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenSpent is returned on the second and subsequent redemption attempts
// of a single-use token.
var ErrTokenSpent = goerrors.New("token has already been redeemed", goerrors.CategoryAuth).
	WithTextCode(textCodeTokenSpent).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned for redemption attempts past the token lifetime.
var ErrTokenExpired = goerrors.New("token has expired", goerrors.CategoryAuth).
	WithTextCode(textCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// WrapSendError marks a notification transport failure. An unnotified token
// issuance is a correctness problem, so these surface as internal errors from
// the operation that minted the token.
func WrapSendError(err error, msg string) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg).
		WithTextCode(textCodeSendFailed).
		WithCode(goerrors.CodeInternal)
}

// IsSendError reports whether err originated in the notification transport.
func IsSendError(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == textCodeSendFailed
}

// IsAuthError reports whether err should surface as a 401/403 at the HTTP
// boundary rather than a 5xx.
func IsAuthError(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category == goerrors.CategoryAuth || richErr.Category == goerrors.CategoryAuthz
}
