package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	KeySize       = 32     // AES-256 key size
	TagSize       = 16     // GCM authentication tag size
	BlobNonceSize = 16     // Nonce size used by wrapped key blobs
	MinNonceSize  = 8      // Smallest accepted per-file nonce
	MaxNonceSize  = 128    // Largest accepted per-file nonce
	MinIterations = 100000 // PBKDF2 iteration floor
)

var (
	ErrInvalidKey        = errors.New("invalid key")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrAuthFailed        = errors.New("authentication failed")
)

// KDF handles key derivation from passwords
type KDF struct {
	Salt       []byte
	Iterations int
}

// DeriveKey derives a key-encryption key from a password
func (k *KDF) DeriveKey(password []byte) ([]byte, error) {
	return DeriveKey(password, k.Salt, k.Iterations, KeySize)
}

// DeriveKey runs PBKDF2-HMAC-SHA256. The same inputs always produce the
// same key; the password itself is not checked here.
func DeriveKey(password, salt []byte, iterations, keyLen int) ([]byte, error) {
	if len(salt) == 0 {
		return nil, fmt.Errorf("%w: empty salt", ErrInvalidKey)
	}
	if iterations < MinIterations {
		return nil, fmt.Errorf("%w: %d iterations is below the minimum of %d", ErrInvalidKey, iterations, MinIterations)
	}
	if keyLen <= 0 {
		return nil, fmt.Errorf("%w: key length must be positive", ErrInvalidKey)
	}
	return pbkdf2.Key(password, salt, iterations, keyLen, sha256.New), nil
}

// OpenDetached authenticates and decrypts an AES-256-GCM ciphertext whose
// tag is stored separately. No plaintext is returned unless the tag verifies.
func OpenDetached(key, nonce, ciphertext, tag []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	if len(tag) != TagSize {
		return nil, fmt.Errorf("%w: tag must be %d bytes, got %d", ErrInvalidCiphertext, TagSize, len(tag))
	}
	if len(nonce) < MinNonceSize || len(nonce) > MaxNonceSize {
		return nil, fmt.Errorf("%w: nonce length %d out of range", ErrInvalidCiphertext, len(nonce))
	}

	gcm, err := newGCM(key, len(nonce))
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

// SealDetached is the inverse of OpenDetached. It returns the ciphertext and
// the tag separately.
func SealDetached(key, nonce, plaintext []byte) (ciphertext, tag []byte, err error) {
	if len(key) != KeySize {
		return nil, nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	if len(nonce) < MinNonceSize || len(nonce) > MaxNonceSize {
		return nil, nil, fmt.Errorf("%w: nonce length %d out of range", ErrInvalidCiphertext, len(nonce))
	}

	gcm, err := newGCM(key, len(nonce))
	if err != nil {
		return nil, nil, err
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	split := len(sealed) - TagSize
	return sealed[:split], sealed[split:], nil
}

func newGCM(key []byte, nonceSize int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// ClearBytes securely clears a byte slice
func ClearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ConstantTimeCompare performs a constant-time comparison of two byte slices
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// GenerateRandom generates n random bytes
func GenerateRandom(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}
