// Package session models refresh token records and provides a Redis-backed
// [Store] with atomic rotation.
//
// # Rotation
//
// Redeeming a refresh token marks its record revoked, points ReplacedBy at a
// freshly created successor, and returns the successor. The check-and-swap
// runs as one Lua script so concurrent redemptions of the same token cannot
// both succeed. Revoked records are kept (for a retention window in Redis,
// forever in the relational store) so that a replayed token is recognised as
// reuse rather than as an unknown id.
//
// # Architecture boundaries
//
// This package owns the [Record] model, the [Store] contract and its error
// values. It does NOT mint token strings, sign access tokens, or decide what a
// reuse signal means for the account; those belong to the engine.
//
// # What this package must NOT do
//
//   - Import authcore, jwt, or permission (no upward imports).
//   - Store the plaintext refresh secret. Only its SHA-256 digest is persisted.
//   - Physically delete a revoked record before its retention window ends.
package session
