// Package stores holds the pending second-factor login challenge: the
// short-lived record that exists between a correct password and a correct
// second factor.
//
// # Design
//
// A challenge is keyed by account id, so a fresh password login replaces
// any earlier challenge for the same account. The Redis store persists a
// versioned binary record with a TTL; RecordFailure uses WATCH/MULTI with
// retry on contention, and Consume is a DEL whose reply count picks a single
// winner when two confirmations race. The memory store gives the same
// semantics inside one process.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for challenge
// records. It does NOT verify codes or issue credentials.
//
// # What this package must NOT do
//
//   - Import authcore or any sibling internal package.
//   - Store codes or secrets.
package stores
