// Package password implements password hashing and verification with Argon2id defaults.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Salt and hash are unpadded standard base64. Verify accepts only this exact
// form, and refuses stored costs above 1 GiB, sixteen passes or sixteen lanes.
// Passwords are bounded to [MinLength, MaxLength] bytes.
//
// The [Hasher] supports transparent upgrades: if the stored hash was produced
// with weaker parameters, or is a legacy bcrypt hash, [Hasher.NeedsUpgrade]
// returns true so the caller can re-hash on the next successful login.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy (length, reuse
// history) is enforced by the engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords; callers supply plaintext and receive hashes.
//   - Import any other authcore package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
