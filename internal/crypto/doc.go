// Package crypto provides the cryptographic primitives used to open a vault.
//
// Key derivation uses PBKDF2-HMAC-SHA256 with:
//   - the vault salt stored at setup time (never regenerated)
//   - at least 100,000 iterations
//   - a 32-byte output used as the key-encryption key (KEK)
//
// Every unwrap and file decryption is AES-256-GCM with a detached
// 16-byte tag. Nonces are carried next to the ciphertext and may be
// longer than the standard 12 bytes.
//
// Memory safety:
//   - Recovered keys live in a Secret (memguard locked buffer)
//   - Use ClearBytes() to zero transient copies after use
package crypto
