// Package store is the SQL persistence for authcore, built on gorm. It
// provides [Accounts] (authcore.AccountStore), [Quotes] (authcore.QuoteStore)
// and [Sessions] (session.Store) over PostgreSQL or SQLite.
//
// # Architecture boundaries
//
// Every state transition the engine relies on for atomicity is a single
// conditional UPDATE whose RowsAffected decides the winner: backup code
// consumption, TOTP counter advancement, 2FA state changes and refresh
// rotation. Refresh records are never deleted.
//
// # What this package must NOT do
//
//   - Hash, seal or otherwise interpret secrets; it stores what it is given.
//   - Apply timeouts; callers bound every call through ctx.
package store
