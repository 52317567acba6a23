// Package httpapi exposes the Engine over fiber: the /auth and /quotes
// routes, request validation and the mapping from engine errors to status
// codes.
//
// # What this package must NOT do
//
//   - Put a refresh token in a JSON body or a URL; it travels only in the
//     HttpOnly cookie.
//   - Tell a caller which credential or which second-factor check failed.
//   - Make auth decisions of its own.
package httpapi
