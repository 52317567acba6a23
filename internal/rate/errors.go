package rate

import "errors"

var (
	// ErrRateLimited is returned by callers that want an error form of a denied Decision.
	ErrRateLimited = errors.New("rate limited")
	// ErrStoreUnavailable wraps counter store failures and timeouts.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
	// ErrUnknownScope is returned when a scope has no configured policy.
	ErrUnknownScope = errors.New("unknown rate limit scope")
)
