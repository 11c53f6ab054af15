// Package model defines domain entities for the application.
package model

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// ErrInvalidArgument is the base error for malformed input.
// Validation errors wrap it with the name of the offending field.
var ErrInvalidArgument = errors.New("invalid argument")

const (
	maxEmailLength = 254
	maxNameLength  = 100
)

// PasswordCredential is the stored, derived form of a password.
type PasswordCredential struct {
	Hash       []byte
	Salt       []byte
	Algorithm  string
	Iterations int
}

// User is a registered tenant.
type User struct {
	ID             string             `json:"id"`
	Email          string             `json:"email"`
	Name           string             `json:"name,omitempty"`
	Password       PasswordCredential `json:"-"`
	APIKeyHash     string             `json:"-"` // Never serialize
	APIKeyPrefix   string             `json:"api_key_prefix"`
	APIKeyIssuedAt time.Time          `json:"api_key_issued_at"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// APIKeyCredential is the stored form of a freshly issued API key.
type APIKeyCredential struct {
	Hash     string
	Prefix   string
	IssuedAt time.Time
}

// NormalizeEmail trims and lower-cases an email address and checks its shape.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidArgument)
	}
	if len(email) > maxEmailLength {
		return "", fmt.Errorf("%w: email is too long", ErrInvalidArgument)
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: email is malformed", ErrInvalidArgument)
	}
	_, domain, _ := strings.Cut(email, "@")
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return "", fmt.Errorf("%w: email is malformed", ErrInvalidArgument)
	}
	return email, nil
}

// NormalizeName trims a display name and enforces its length.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if len(name) > maxNameLength {
		return "", fmt.Errorf("%w: name is too long", ErrInvalidArgument)
	}
	return name, nil
}
