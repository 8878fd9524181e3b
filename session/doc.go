// Package session is the registry of issued refresh tokens.
//
// Every login starts a rotation chain keyed by the first record's id. Each
// refresh appends a record to the chain and retires its parent. Presenting a
// retired record again is a replay: the whole chain is revoked.
//
// [MemoryStore] serves a single process; [RedisStore] runs every mutation as
// one Lua script so concurrent redemptions of one token have a single winner.
package session
