// Package credential holds the input rules for e-mail addresses and passwords.
// Every check here is local: nothing in this package talks to the identity
// provider.
package credential

import (
	"errors"
	"net/mail"
	"strings"
	"unicode/utf8"
)

const (
	MinPasswordLength = 6
	// MaxPasswordLength is measured in bytes, the most bcrypt will consider.
	MaxPasswordLength = 72
)

// ErrValidation matches every *ValidationError via errors.Is.
var ErrValidation = errors.New("credential: validation failed")

// ValidationError is a caller-fixable input problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// RequireEmail rejects an empty or malformed address. The trimmed address is returned.
func RequireEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", invalid("email", "Please enter your email address")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", invalid("email", "Please enter a valid email address")
	}
	return email, nil
}

// ValidateSignIn requires both sign-in fields to be present.
func ValidateSignIn(email, password string) error {
	if strings.TrimSpace(email) == "" || password == "" {
		return invalid("email", "Please enter both email and password")
	}
	return nil
}

// ValidatePasswordLength enforces the minimum length shared by every password path.
func ValidatePasswordLength(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return invalid("password", "Password must be at least 6 characters long")
	}
	return nil
}

// ValidateNewPassword checks a new password and its confirmation.
func ValidateNewPassword(password, confirm string) error {
	if password == "" || confirm == "" {
		return invalid("password", "Please enter both password fields")
	}
	if password != confirm {
		return invalid("confirm", "Passwords do not match")
	}
	if err := ValidatePasswordLength(password); err != nil {
		return err
	}
	if len(password) > MaxPasswordLength {
		return invalid("password", "Password must be at most 72 characters long")
	}
	return nil
}
