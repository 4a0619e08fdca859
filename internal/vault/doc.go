// Package vault decrypts a directory of individually encrypted files.
//
// Each encrypted file <name><suffix> has two sidecars holding the raw GCM
// tag and nonce: <name><suffix>.tag and <name><suffix>.nonce. A file is
// only decrypted when all three exist. Plaintext is written atomically to
// <name>, and only then are the three sources securely erased.
//
// Per-file problems never abort the batch. They are returned as results
// and collected into a Report.
package vault
