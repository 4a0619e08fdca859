// Package testvault builds encrypted vault fixtures for tests. It performs
// the encrypting half of the format, which the product never does.
package testvault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/illarion/unvault/internal/crypto"
	"github.com/illarion/unvault/internal/storage"
)

const (
	Suffix     = ".enc"
	Iterations = crypto.MinIterations
	FileNonce  = 12
)

// CheapArgon keeps verifier hashing fast in tests
var CheapArgon = crypto.ArgonParams{Memory: 1024, Time: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32}

// Vault is an on-disk fixture together with the secrets that built it
type Vault struct {
	Dir      string
	Password string
	Salt     []byte
	MainKey  []byte
	DEK      []byte
	IV       []byte

	MainKeyBlob  []byte
	PasswordHash string
}

// Option customizes a fixture
type Option func(*Vault)

// WithDEK fixes the DEK and IV instead of generating them
func WithDEK(dek, iv []byte) Option {
	return func(v *Vault) {
		v.DEK = dek
		v.IV = iv
	}
}

// New creates a vault directory under t.TempDir() with a key blob
// wrapping DEK || IV under a random main key, itself wrapped under the
// KEK derived from password.
func New(t testing.TB, password string, opts ...Option) *Vault {
	t.Helper()

	v := &Vault{
		Dir:      t.TempDir(),
		Password: password,
		Salt:     random(t, 32),
		MainKey:  random(t, crypto.KeySize),
		DEK:      random(t, crypto.KeySize),
		IV:       random(t, 16),
	}
	for _, opt := range opts {
		opt(v)
	}

	kek, err := crypto.DeriveKey([]byte(password), v.Salt, Iterations, crypto.KeySize)
	require.NoError(t, err)
	v.MainKeyBlob = Wrap(t, kek, v.MainKey)

	keyPlain := append(append([]byte(nil), v.DEK...), v.IV...)
	v.WriteKeyBlob(t, Wrap(t, v.MainKey, keyPlain))

	v.PasswordHash, err = crypto.HashPassword(CheapArgon, []byte(password))
	require.NoError(t, err)
	return v
}

// Wrap seals plaintext under key in the ciphertext || tag || nonce layout
func Wrap(t testing.TB, key, plaintext []byte) []byte {
	t.Helper()
	nonce := random(t, crypto.BlobNonceSize)
	ct, tag, err := crypto.SealDetached(key, nonce, plaintext)
	require.NoError(t, err)
	blob := &crypto.WrappedBlob{Ciphertext: ct, Tag: tag, Nonce: nonce}
	return blob.Bytes()
}

// WriteKeyBlob replaces keys_ivs/encrypted_keys_ivs.bin
func (v *Vault) WriteKeyBlob(t testing.TB, blob []byte) {
	t.Helper()
	dir := filepath.Join(v.Dir, "keys_ivs")
	require.NoError(t, os.MkdirAll(dir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "encrypted_keys_ivs.bin"), blob, 0600))
}

// AddFile encrypts plaintext with the DEK into name.enc plus its tag and
// nonce sidecars, returning the ciphertext path
func (v *Vault) AddFile(t testing.TB, name string, plaintext []byte) string {
	t.Helper()
	nonce := random(t, FileNonce)
	ct, tag, err := crypto.SealDetached(v.DEK, nonce, plaintext)
	require.NoError(t, err)

	path := filepath.Join(v.Dir, name+Suffix)
	require.NoError(t, os.WriteFile(path, ct, 0600))
	require.NoError(t, os.WriteFile(path+".tag", tag, 0600))
	require.NoError(t, os.WriteFile(path+".nonce", nonce, 0600))
	return path
}

// Path joins name onto the vault directory
func (v *Vault) Path(name string) string {
	return filepath.Join(v.Dir, name)
}

// Provision records the vault's salt, iterations, verifier and wrapped
// main key in the state store
func (v *Vault) Provision(t testing.TB, store *storage.Storage) {
	t.Helper()
	require.NoError(t, store.Initialize())
	require.NoError(t, store.SetSalt(v.Salt))
	require.NoError(t, store.SetIterations(Iterations))
	require.NoError(t, store.SetPasswordHash(v.PasswordHash))
	require.NoError(t, store.SetMainKeyBlob(v.MainKeyBlob))
}

func random(t testing.TB, n int) []byte {
	t.Helper()
	b, err := crypto.GenerateRandom(n)
	require.NoError(t, err)
	return b
}
