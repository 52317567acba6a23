// Package internal contains helpers that are private to the auth core,
// chiefly the refresh token codec and ULID record identifiers.
//
// # Sub-packages
//
//   - abuse - lead-submission screening (honeypot, timing, duplicate, daily cap)
//   - audit - async event dispatch (Dispatcher + Sink implementations)
//   - config - environment loading for the service binary
//   - httpapi - fiber routes, request DTOs and error mapping
//   - rate - counter stores (Redis, memory) and the scoped rate limit guard
//   - stores - short-lived second-factor login challenges
//   - vault - TOTP secret encryption and backup-code generation/hashing
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
//   - Be imported by any package outside this module.
package internal
