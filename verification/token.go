package verification

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("verification record not found")
	ErrSecretMismatch   = errors.New("verification secret mismatch")
	ErrAttemptsExceeded = errors.New("verification attempts exceeded")
	ErrMalformedToken   = errors.New("malformed verification token")
	ErrUnavailable      = errors.New("verification backend unavailable")
)

const secretBytes = 32

// Record is what the store keeps for one outstanding token.
type Record struct {
	UserID     string
	SecretHash [32]byte
	ExpiresAt  time.Time
	Attempts   int
}

// Store keeps records until they are consumed or expire.
//
// Consume is atomic: exactly one caller presenting the right secret gets the
// record back and the record is gone afterwards.
type Store interface {
	Save(ctx context.Context, id string, rec Record, ttl time.Duration) error
	Consume(ctx context.Context, id string, secretHash [32]byte, maxAttempts int, now time.Time) (*Record, error)
}

// NewToken returns a fresh token string with the id and secret hash to save.
func NewToken() (token, id string, secretHash [32]byte, err error) {
	secret := make([]byte, secretBytes)
	if _, err = rand.Read(secret); err != nil {
		return "", "", secretHash, err
	}
	id = uuid.NewString()
	enc := base64.RawURLEncoding.EncodeToString(secret)
	return id + "." + enc, id, sha256.Sum256([]byte(enc)), nil
}

// ParseToken splits token into its id and the hash of its secret.
func ParseToken(token string) (id string, secretHash [32]byte, err error) {
	id, secret, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || id == "" || secret == "" {
		return "", secretHash, ErrMalformedToken
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", secretHash, ErrMalformedToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(secret)
	if err != nil || len(raw) != secretBytes {
		return "", secretHash, ErrMalformedToken
	}
	return id, sha256.Sum256([]byte(secret)), nil
}

func hashesEqual(a, b [32]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
