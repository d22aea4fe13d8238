package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestEmail(t *testing.T) {
	tests := []struct {
		name  string
		email string
		valid bool
	}{
		{
			name:  "plain address",
			email: "user@example.com",
			valid: true,
		},
		{
			name:  "surrounding spaces",
			email: "  user@example.com ",
			valid: true,
		},
		{
			name:  "empty string",
			email: "",
			valid: false,
		},
		{
			name:  "missing at",
			email: "user.example.com",
			valid: false,
		},
		{
			name:  "display name",
			email: "User <user@example.com>",
			valid: false,
		},
		{
			name:  "domain without dot",
			email: "user@localhost",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Email(tt.email)
			if (err == nil) != tt.valid {
				t.Fatalf("Email(%q) error = %v, want valid=%v", tt.email, err, tt.valid)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Fatalf("Email(%q) error %v does not wrap ErrInvalid", tt.email, err)
			}
		})
	}
}

func TestPassword(t *testing.T) {
	if err := Password("12345"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("short password must be rejected, got %v", err)
	}
	if err := Password("123456"); err != nil {
		t.Fatalf("six characters must be accepted, got %v", err)
	}
	if err := Password("пароль"); err != nil {
		t.Fatalf("length is counted in characters, got %v", err)
	}
}

func TestNameAndBio(t *testing.T) {
	if err := Name(""); err != nil {
		t.Fatalf("empty name must be accepted, got %v", err)
	}
	if err := Name(strings.Repeat("a", MaxNameLength+1)); !errors.Is(err, ErrInvalid) {
		t.Fatalf("long name must be rejected, got %v", err)
	}
	if err := Bio(strings.Repeat("b", MaxBioLength+1)); !errors.Is(err, ErrInvalid) {
		t.Fatalf("long bio must be rejected, got %v", err)
	}
}

func TestCredentials(t *testing.T) {
	if err := Credentials("user@example.com", "secret1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Credentials("bad", "secret1"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("bad email must be rejected, got %v", err)
	}
	if err := Credentials("user@example.com", "1"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("short password must be rejected, got %v", err)
	}
}
