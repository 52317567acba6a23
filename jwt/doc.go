// Package jwt issues and verifies the short-lived access tokens handed out
// after a successful login or refresh. Tokens carry the account id as the
// subject and the account role; they are never persisted and there is no
// revocation list, so their lifetime is the only bound on misuse.
package jwt
