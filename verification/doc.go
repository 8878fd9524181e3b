// Package verification issues and redeems single-use account verification
// tokens.
//
// A token has the form "<id>.<secret>". Only the SHA-256 of the secret is
// stored, keyed by id, so a leaked store does not leak usable tokens. Wrong
// secrets count against the record and it is deleted after MaxAttempts.
package verification
