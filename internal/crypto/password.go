package crypto

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ArgonParams controls the cost of the password verifier hash
type ArgonParams struct {
	Memory      uint32 // in KiB
	Time        uint32
	Parallelism uint8
	SaltLen     int
	KeyLen      uint32
}

var ErrInvalidHash = errors.New("invalid password hash")

const (
	argonPrefix = "argon2id$"

	// Bounds accepted from a stored verifier
	maxArgonMemory = 4 * 1024 * 1024 // 4 GiB in KiB
	maxArgonTime   = 64
	maxArgonKeyLen = 64
)

// HashPassword encodes a verifier as argon2id$m=<M>,t=<T>,p=<P>$<salt>$<key>.
// The verifier is never used as key material.
func HashPassword(p ArgonParams, password []byte) (string, error) {
	salt, err := GenerateRandom(p.SaltLen)
	if err != nil {
		return "", err
	}
	key := argon2.IDKey(password, salt, p.Time, p.Memory, p.Parallelism, p.KeyLen)
	defer ClearBytes(key)

	return fmt.Sprintf("%sm=%d,t=%d,p=%d$%s$%s", argonPrefix,
		p.Memory, p.Time, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyPassword checks a candidate password against an encoded verifier
func VerifyPassword(encoded string, password []byte) (bool, error) {
	if !strings.HasPrefix(encoded, argonPrefix) {
		return false, ErrInvalidHash
	}
	parts := strings.Split(encoded[len(argonPrefix):], "$")
	if len(parts) != 3 {
		return false, ErrInvalidHash
	}

	var m, t uint32
	var p uint8
	if _, err := fmt.Sscanf(parts[0], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil {
		return false, ErrInvalidHash
	}
	if t < 1 || t > maxArgonTime || p < 1 || m < 8*uint32(p) || m > maxArgonMemory {
		return false, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return false, ErrInvalidHash
	}
	keyRef, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil || len(keyRef) == 0 || len(keyRef) > maxArgonKeyLen {
		return false, ErrInvalidHash
	}

	key := argon2.IDKey(password, salt, t, m, p, uint32(len(keyRef)))
	defer ClearBytes(key)
	return ConstantTimeCompare(key, keyRef), nil
}
