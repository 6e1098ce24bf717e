// Package credential hashes and verifies user passwords.
package credential

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinPasswordLength is the shortest accepted password, in bytes.
	MinPasswordLength = 8
	// MaxPasswordLength is the bcrypt input limit, in bytes.
	MaxPasswordLength = 72
)

var (
	// ErrPasswordTooShort is returned for passwords under MinPasswordLength bytes.
	ErrPasswordTooShort = errors.New("password too short")
	// ErrPasswordTooLong is returned for passwords over MaxPasswordLength bytes.
	ErrPasswordTooLong = errors.New("password too long")
	// ErrMismatch is returned when a password does not match its hash.
	ErrMismatch = errors.New("password does not match")
)

// Cost is the bcrypt work factor used by Hash. Tests lower it.
var Cost = bcrypt.DefaultCost

// CheckPassword enforces the password length bounds.
func CheckPassword(password string) error {
	switch {
	case len(password) < MinPasswordLength:
		return ErrPasswordTooShort
	case len(password) > MaxPasswordLength:
		return ErrPasswordTooLong
	}
	return nil
}

// Hash creates a bcrypt hash of a password after checking its length.
func Hash(password string) (string, error) {
	if err := CheckPassword(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), Cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Verify compares a password with a stored hash.
func Verify(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrMismatch
	}
	if err != nil {
		return fmt.Errorf("failed to verify password: %w", err)
	}
	return nil
}
