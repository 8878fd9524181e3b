package password

import "errors"

var (
	// ErrMalformedHash is returned when a stored hash cannot be parsed.
	ErrMalformedHash = errors.New("malformed password hash")
	// ErrUnsupportedHash is returned when no configured algorithm understands a stored hash.
	ErrUnsupportedHash = errors.New("unsupported password hash")
)

// Hasher hashes and verifies passwords.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
	NeedsUpgrade(encodedHash string) (bool, error)
}

// Algorithm is a Hasher that can recognize its own encodings.
type Algorithm interface {
	Hasher
	Algorithm() string
	Handles(encodedHash string) bool
}

// Multi hashes with a primary algorithm and verifies hashes produced by any
// of the configured algorithms. Hashes not produced by the primary algorithm
// always need an upgrade.
type Multi struct {
	primary Algorithm
	others  []Algorithm
}

// NewMulti builds a Multi around primary. Legacy algorithms are only used for
// verification.
func NewMulti(primary Algorithm, legacy ...Algorithm) *Multi {
	return &Multi{primary: primary, others: legacy}
}

func (m *Multi) Hash(password string) (string, error) {
	return m.primary.Hash(password)
}

func (m *Multi) Verify(password, encodedHash string) (bool, error) {
	alg, err := m.pick(encodedHash)
	if err != nil {
		return false, err
	}
	return alg.Verify(password, encodedHash)
}

func (m *Multi) NeedsUpgrade(encodedHash string) (bool, error) {
	if m.primary.Handles(encodedHash) {
		return m.primary.NeedsUpgrade(encodedHash)
	}
	if _, err := m.pick(encodedHash); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Multi) pick(encodedHash string) (Algorithm, error) {
	if m.primary.Handles(encodedHash) {
		return m.primary, nil
	}
	for _, alg := range m.others {
		if alg.Handles(encodedHash) {
			return alg, nil
		}
	}
	return nil, ErrUnsupportedHash
}
