// Package vault protects the second-factor secrets held at rest.
//
// TOTP shared secrets are sealed with AES-256-GCM under a key derived by
// HKDF-SHA256 from process configuration; the account id is bound in as
// additional data so a ciphertext copied onto another account fails to open.
// Backup codes are generated from an unambiguous alphabet and stored only as
// keyed HMAC-SHA256 digests.
//
// # What this package must NOT do
//
//   - Derive keys from user input.
//   - Log or return plaintext backup codes after generation.
package vault
