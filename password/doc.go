// Package password hashes and verifies passwords.
//
// Argon2id is the default algorithm; hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Bcrypt hashes are accepted for verification through [Multi] and are
// reported by NeedsUpgrade so callers can re-hash after a successful login.
//
// [Policy] is separate from hashing: callers check it before calling Hash.
// Nothing in this package logs or stores plaintext.
package password
