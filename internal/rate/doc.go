// Package rate provides fixed-window counters and the scoped guard that
// sits in front of the login, second-factor and lead-submission endpoints.
//
// # Window semantics
//
// A counter is created on the first hit with a TTL equal to the window;
// later hits in the same window only increment. When the TTL elapses the
// counter disappears and the next hit opens a fresh window. Keys are
// "rl:" + scope + ":" + identifiers joined with "|".
//
// # Stores
//
//   - [RedisStore] - one Lua round trip (INCR, PEXPIRE on first hit, PTTL);
//     correct across instances.
//   - [MemoryStore] - mutex-guarded map with periodic eviction; correct
//     only within one process.
//
// # What this package must NOT do
//
//   - Decide which identifiers a request is keyed by (the caller does).
//   - Be imported outside this module.
package rate
