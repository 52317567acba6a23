// Package abuse screens lead (quote) submissions for automated or
// repetitive traffic before they reach persistence.
//
// Checks run in a fixed order and stop at the first rejection:
// honeypot, form timing, duplicate contact, daily cap. Every rejection is
// a *[Rejection] carrying the stage, the identifier it was keyed by and
// the measured value, so the caller can emit a precise security event.
//
// # What this package must NOT do
//
//   - Persist submissions (the caller does that after a clean screen).
//   - Rate limit by IP (that is the job of internal/rate).
package abuse
