package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordLength is the longest password bcrypt accepts
const MaxPasswordLength = 72

// BcryptCost is the cost factor for bcrypt hashing
var BcryptCost = bcrypt.DefaultCost

var (
	// ErrPasswordEmpty is returned for an empty password
	ErrPasswordEmpty = errors.New("password is required")
	// ErrPasswordTooLong is returned when a password exceeds bcrypt's input limit
	ErrPasswordTooLong = errors.New("password must be at most 72 bytes")
)

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// CheckPassword compares a password with its hash
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidatePassword checks that a password can be hashed
func ValidatePassword(password string) error {
	if password == "" {
		return ErrPasswordEmpty
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}
