package addons

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var ErrEmptyPassphrase = errors.New("addons: empty passphrase")

// HashPassphrase returns the bcrypt hash stored with an add-on.
func HashPassphrase(passphrase string) (string, error) {
	if passphrase == "" {
		return "", ErrEmptyPassphrase
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(passphrase), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("addons: hash passphrase: %w", err)
	}
	return string(hash), nil
}

// CheckPassphrase reports whether passphrase matches hash.
func CheckPassphrase(hash string, passphrase string) bool {
	if hash == "" || passphrase == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(passphrase)) == nil
}
