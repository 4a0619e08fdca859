// Package storage provides the BBolt state database for unvault.
//
// Database structure uses two buckets:
//   - config: vault salt, KDF iterations, password verifier, the wrapped
//     main key blob, vault id and timestamps
//   - recovery: one marker per directory with an operation in progress
//
// Nothing in the database is plaintext key material. The main key is only
// stored wrapped under the password-derived key.
//
// BBolt provides ACID transactions and file locking, so a marker is either
// fully written or absent.
package storage
