package authcore

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong
	// password. The two cases are indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidTwoFactorCode is returned when the second factor fails,
	// without saying whether the code, the challenge or the account was at fault.
	ErrInvalidTwoFactorCode = errors.New("invalid two-factor code")
	// ErrInvalidOrExpiredToken covers unknown, expired, revoked and malformed
	// refresh tokens.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	// ErrTokenReuseSuspected marks a replay of an already rotated refresh
	// token. It is only used in audit events; callers see ErrInvalidOrExpiredToken.
	ErrTokenReuseSuspected = errors.New("refresh token reuse suspected")
	// ErrRateLimited is wrapped by [RateLimitError].
	ErrRateLimited = errors.New("too many requests")
	// ErrSpamRejected is wrapped by [SpamError].
	ErrSpamRejected = errors.New("submission rejected")
	// ErrUnauthorized is returned when an access token is missing or invalid.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when the caller's role lacks a capability.
	ErrForbidden = errors.New("forbidden")
	// ErrBackendUnavailable wraps storage and counter failures, including
	// timeouts. It is retryable.
	ErrBackendUnavailable = errors.New("backend unavailable")

	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication already enabled")
	ErrTwoFactorNotPending     = errors.New("two-factor enrollment not started")
	ErrTwoFactorNotEnabled     = errors.New("two-factor authentication not enabled")

	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
	ErrEngineNotReady  = errors.New("engine not initialized")
	ErrInvalidRequest  = errors.New("invalid request")
	// ErrPasswordPolicy is returned when a new password is too short.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is returned when the new password equals the old one.
	ErrPasswordReuse = errors.New("new password must be different from current password")
)

// RateLimitError reports a rejected request and how long until the window
// that rejected it resets.
type RateLimitError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many requests (%s), retry after %s", e.Scope, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1.
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// RetryAfterHeader formats RetryAfterSeconds for the Retry-After header.
func (e *RateLimitError) RetryAfterHeader() string {
	return strconv.Itoa(e.RetryAfterSeconds())
}

// SpamError reports a lead submission refused by the abuse screener.
// UserMessage is safe to return to the submitter. RetryAfter is set only
// when waiting helps, which is the daily cap.
type SpamError struct {
	Stage       string
	UserMessage string
	Hostile     bool
	RetryAfter  time.Duration
}

func (e *SpamError) Error() string {
	return "submission rejected: " + e.Stage
}

func (e *SpamError) Unwrap() error { return ErrSpamRejected }

func backendErr(err error) error {
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}
