package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Scope names an independently budgeted class of requests.
type Scope string

const (
	ScopeGlobal    Scope = "global"
	ScopeAuth      Scope = "auth"
	ScopeTwoFactor Scope = "two-factor"
	ScopeQuote     Scope = "quote"
)

// Policy is the budget of one scope: at most Max hits per Window.
type Policy struct {
	Max    int
	Window time.Duration
}

// Decision is the outcome of one guarded hit.
type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	RetryAfter time.Duration
}

// Guard applies per-scope policies on top of a Store.
type Guard struct {
	store    Store
	policies map[Scope]Policy
	timeout  time.Duration
}

// NewGuard builds a guard. A zero timeout leaves store calls bounded only by
// the caller's context.
func NewGuard(store Store, policies map[Scope]Policy, timeout time.Duration) *Guard {
	copied := make(map[Scope]Policy, len(policies))
	for k, v := range policies {
		copied[k] = v
	}
	return &Guard{store: store, policies: copied, timeout: timeout}
}

// Key returns the counter key for scope and identifiers.
func Key(scope Scope, identifiers ...string) string {
	return "rl:" + string(scope) + ":" + strings.Join(identifiers, "|")
}

// Allow counts one hit against scope for the compound identifier and
// reports whether it is within budget. A store failure is returned as an
// ErrStoreUnavailable error with a zero Decision.
func (g *Guard) Allow(ctx context.Context, scope Scope, identifiers ...string) (Decision, error) {
	if g == nil || g.store == nil {
		return Decision{Allowed: true}, nil
	}
	p, ok := g.policies[scope]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownScope, scope)
	}
	if p.Max <= 0 || p.Window <= 0 {
		return Decision{Allowed: true, Limit: p.Max}, nil
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	count, resetIn, err := g.store.Increment(ctx, Key(scope, identifiers...), p.Window)
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return Decision{}, err
		}
		return Decision{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	d := Decision{Allowed: count <= int64(p.Max), Count: count, Limit: p.Max}
	if !d.Allowed {
		d.RetryAfter = resetIn
		if d.RetryAfter <= 0 {
			d.RetryAfter = time.Second
		}
	}
	return d, nil
}

// Reset clears the counter for scope and identifiers.
func (g *Guard) Reset(ctx context.Context, scope Scope, identifiers ...string) error {
	if g == nil || g.store == nil {
		return nil
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	return g.store.Reset(ctx, Key(scope, identifiers...))
}

// Policy returns the configured budget for scope.
func (g *Guard) Policy(scope Scope) (Policy, bool) {
	if g == nil {
		return Policy{}, false
	}
	p, ok := g.policies[scope]
	return p, ok
}
