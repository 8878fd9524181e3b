// Package jwt signs and verifies the access and refresh tokens.
//
// Both token kinds use standard JWS compact framing with header {alg, typ}
// and payload {sub, role, iat, exp, jti}. The typ header ("at+jwt" or
// "rt+jwt") keeps one kind from being accepted as the other.
package jwt
