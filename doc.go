// Package guardian is the identity, session and authorization core of a
// platform where parents record data about their children and share it with
// professionals.
//
// The [Engine] registers accounts, authenticates them with argon2id password
// hashes behind a per-identifier lockout, issues short-lived JWT access
// tokens with rotating refresh tokens, and decides whether a caller may act
// on a child-scoped resource. Engine methods are safe for concurrent use
// after [Builder.Build].
//
// # Architecture boundaries
//
// guardian is the public surface: [Engine], [Builder], [Config] and the value
// types exchanged with callers. Durable users, grants and resource ownership
// come from the caller through [UserRepository], [GrantRepository] and
// [ResourceDirectory]. Refresh sessions, rate-limit counters and verification
// tokens live behind the session, ratelimit and verification stores, in
// memory or in Redis; store/postgres provides PostgreSQL versions of all of
// them.
//
// # Failure semantics
//
// A store or repository failure surfaces as [ErrDependencyUnavailable]. The
// engine never authenticates, refreshes or authorizes on a failed
// dependency.
//
// # Concurrency contract
//
// Concurrent failed logins for one identifier are each counted exactly once
// and lock the account at most once. Concurrent refreshes with one token
// have a single winner; any later presentation of that token revokes its
// whole rotation chain.
package guardian
