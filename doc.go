// Package authcore is the authentication, two-factor and lead-abuse core of
// the supplier website backend. It issues short-lived JWT access tokens and
// rotating opaque refresh tokens, runs the two-step login protocol with TOTP
// and backup codes, and screens public quote submissions.
//
// Engine methods are safe for concurrent use after [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface: [Engine], [Builder], [Config], the store
// interfaces [AccountStore] and [QuoteStore], and value types. Refresh
// records live behind session.Store, rate counters behind internal/rate,
// pending login challenges behind internal/stores, secret sealing and
// backup code hashing in internal/vault, lead heuristics in internal/abuse.
//
// # What this package must NOT do
//
//   - Log or return refresh secrets, TOTP secrets or backup codes after
//     the call that created them.
//   - Reveal whether an email exists or which second-factor check failed.
//   - Revoke access tokens; they expire on their own.
//   - Import the HTTP layer or any package that imports authcore.
//
// # Failure model
//
// Every store call is bounded by Config.Timeouts.Store. Store failures,
// including timeouts, surface as ErrBackendUnavailable and leave no partial
// state behind.
package authcore
