package password

import (
	"errors"
	"strings"
	"testing"
)

func TestPolicyCheck(t *testing.T) {
	p := DefaultPolicy()

	cases := []struct {
		name     string
		password string
		ok       bool
	}{
		{"too short", "Ab1!", false},
		{"single class", "aaaaaaaaaaaa", false},
		{"two classes", "aaaaaaaa1111", false},
		{"three classes", "Aaaaaaaa1111", true},
		{"four classes", "Aaaaaaa!1111", true},
		{"too long", "Aa1" + strings.Repeat("x", 300), false},
		{"invalid utf8", "Aa1aaaaaaa\xff", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := p.Check(tc.password)
			if tc.ok && err != nil {
				t.Fatalf("expected policy pass, got %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrWeakPassword) {
				t.Fatalf("expected ErrWeakPassword, got %v", err)
			}
		})
	}
}

func TestPolicyErrorDoesNotEchoPassword(t *testing.T) {
	err := DefaultPolicy().Check("secretpw")
	if err == nil {
		t.Fatal("expected weak password")
	}
	if strings.Contains(err.Error(), "secretpw") {
		t.Fatalf("error leaks password: %v", err)
	}
}
