// Package keyring stores the vault password in the OS keyring so that
// unattended runs can unlock without a prompt.
package keyring

import (
	"errors"

	"github.com/zalando/go-keyring"
)

const serviceName = "unvault"

// ErrNotFound is returned when no password is saved for a vault
var ErrNotFound = keyring.ErrNotFound

// SavePassword stores a password for the vault in the OS keyring
func SavePassword(vaultID string, password string) error {
	return keyring.Set(serviceName, vaultID, password)
}

// GetPassword retrieves the saved password for the vault
func GetPassword(vaultID string) (string, error) {
	return keyring.Get(serviceName, vaultID)
}

// DeletePassword removes the saved password. Deleting a missing entry
// returns ErrNotFound.
func DeletePassword(vaultID string) error {
	return keyring.Delete(serviceName, vaultID)
}

// HasPassword reports whether a password is saved for the vault
func HasPassword(vaultID string) bool {
	_, err := keyring.Get(serviceName, vaultID)
	return err == nil
}

// IsNotFound reports whether err means no password was saved
func IsNotFound(err error) bool {
	return errors.Is(err, keyring.ErrNotFound)
}
