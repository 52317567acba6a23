// Package middleware adapts authcore.Engine to fiber.
//
// # Handlers
//
//   - [RequireAuth] verifies the bearer access token and stores the principal.
//   - [RequireCapability] checks the principal's role against the role table.
//   - [GlobalRateLimit] charges every request to the global scope.
//   - [RequestLogger] writes one structured line per request.
//   - [CORS] allows the admin front end to send the refresh cookie.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. Every auth and
// rate decision is made by the Engine.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly.
//   - Touch Redis or the database.
//   - Log tokens, codes or Authorization headers.
package middleware
