package password

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"
)

// ErrWeakPassword is returned by Policy.Check.
var ErrWeakPassword = errors.New("password does not satisfy policy")

// Policy is checked before a password is ever hashed. Lengths count bytes.
type Policy struct {
	MinLength      int
	MaxLength      int
	MinCharClasses int
}

// DefaultPolicy requires 10 to 256 bytes and three of the four classes
// lower, upper, digit and symbol.
func DefaultPolicy() Policy {
	return Policy{MinLength: 10, MaxLength: 256, MinCharClasses: 3}
}

func (p Policy) Check(password string) error {
	if len(password) < p.MinLength {
		return fmt.Errorf("%w: shorter than %d bytes", ErrWeakPassword, p.MinLength)
	}
	if p.MaxLength > 0 && len(password) > p.MaxLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrWeakPassword, p.MaxLength)
	}
	if !utf8.ValidString(password) {
		return fmt.Errorf("%w: not valid UTF-8", ErrWeakPassword)
	}
	if n := charClasses(password); n < p.MinCharClasses {
		return fmt.Errorf("%w: uses %d of %d required character classes", ErrWeakPassword, n, p.MinCharClasses)
	}
	return nil
}

func charClasses(s string) int {
	var lower, upper, digit, symbol bool
	for _, r := range s {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsSpace(r):
		default:
			symbol = true
		}
	}
	n := 0
	for _, ok := range []bool{lower, upper, digit, symbol} {
		if ok {
			n++
		}
	}
	return n
}
