// Package middleware adapts guardian.Engine to net/http.
//
// # Guards
//
//   - [RequireAccess] verifies the bearer access token and stores its claims
//     in the request context.
//   - [RequireRole] admits only the listed roles. It must run after
//     RequireAccess.
//   - [Authorize] resolves a resource from the request and asks the engine
//     whether the caller may act on it.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does not parse
// tokens or decide access itself; every verdict comes from the engine.
// Resources the caller may not learn about are answered with 404, the same
// as resources that do not exist.
package middleware
