package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/dmchat/internal/apperr"
)

const (
	// MinPasswordLength is the shortest password signup accepts.
	MinPasswordLength = 6
	// MaxPasswordLength is the longest password bcrypt can hash, in bytes.
	MaxPasswordLength = 72
)

const passwordCost = 10

// ValidatePassword rejects passwords shorter than MinPasswordLength or
// longer than MaxPasswordLength bytes.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return apperr.Validation("Password must be at least 6 characters")
	}
	if len(password) > MaxPasswordLength {
		return apperr.Validation("Password must be at most 72 bytes")
	}
	return nil
}

// HashPassword hashes the password
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", apperr.Validation("Password must be at most 72 bytes")
	}
	return string(bytes), err
}

// CheckPassword checks if the password matches the hash
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
