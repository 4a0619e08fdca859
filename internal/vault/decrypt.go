package vault

import (
	"os"

	"github.com/illarion/unvault/internal/crypto"
)

// DecryptBytes authenticates and decrypts one file's ciphertext with the
// DEK and the file's own tag and nonce. The vault-level iv is accepted for
// interface symmetry but is not part of per-file decryption.
func DecryptBytes(name string, ciphertext, dek, iv, tag, nonce []byte) ([]byte, error) {
	plaintext, err := crypto.OpenDetached(dek, nonce, ciphertext, tag)
	if err != nil {
		return nil, &DecryptError{Path: name, Reason: "authenticated decryption failed", Err: err}
	}
	return plaintext, nil
}

// DecryptFile reads and decrypts the ciphertext at path
func DecryptFile(path string, dek, iv, tag, nonce []byte) ([]byte, error) {
	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return nil, &DecryptError{Path: path, Reason: "read ciphertext", Err: err}
	}
	return DecryptBytes(path, ciphertext, dek, iv, tag, nonce)
}
