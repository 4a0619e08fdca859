// Package core runs unvault operations against a vault directory.
//
// Decrypt proceeds in a fixed order:
//   - write the recovery marker for the directory
//   - check the state database holds a password verifier
//   - read keys_ivs/encrypted_keys_ivs.bin
//   - pass passwords through the access gate until one unlocks the
//     main key and the DEK, or the gate locks
//   - decrypt every complete <name>.enc into <name>
//   - warn about decrypted files git could commit
//
// Keys live in locked memory for the duration of the run and are destroyed
// on return. The marker is removed on every return path.
package core
