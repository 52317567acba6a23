// Package permission maps the fixed account roles to capability sets.
//
// Capabilities are bits in a [Mask64]; the highest bit is the root bit and is
// only granted to super-admin. Authorization asks [RoleManager.Can] whether a
// role holds a capability. Roles do not inherit from each other.
//
// # Architecture boundaries
//
// This package is a pure in-memory table with no I/O. It is consulted by the
// HTTP middleware after the access token has been verified, and knows nothing
// about how tokens are issued.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import authcore, jwt, or session.
//   - Change the table after [RoleManager.Freeze].
package permission
