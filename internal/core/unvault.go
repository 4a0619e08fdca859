package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/illarion/unvault/internal/crypto"
	"github.com/illarion/unvault/internal/erase"
	"github.com/illarion/unvault/internal/gate"
	"github.com/illarion/unvault/internal/git"
	"github.com/illarion/unvault/internal/keyring"
	"github.com/illarion/unvault/internal/logger"
	"github.com/illarion/unvault/internal/progress"
	"github.com/illarion/unvault/internal/recovery"
	"github.com/illarion/unvault/internal/settings"
	"github.com/illarion/unvault/internal/storage"
	"github.com/illarion/unvault/internal/vault"
)

const OpDecrypt = "decrypt"

var (
	ErrNotInitialized = errors.New("vault not initialized")
	ErrKeyBlobInvalid = errors.New("encrypted keys file failed authentication")
	ErrWrongPassword  = gate.ErrWrongPassword
	ErrLockedOut      = gate.ErrLockedOut
	ErrMissingKeyBlob = vault.ErrMissingKeyBlob
)

// Unvault runs operations against one vault directory using the state
// database for the password verifier and wrapped main key
type Unvault struct {
	dir       string
	settings  settings.Settings
	store     *storage.Storage
	log       logger.Logger
	eraser    erase.Eraser
	passwords PasswordSource
	progress  io.Writer
}

// Option configures an Unvault
type Option func(*Unvault)

// WithPasswords replaces the default password sources
func WithPasswords(src PasswordSource) Option {
	return func(u *Unvault) {
		u.passwords = src
	}
}

// WithEraser replaces the secure eraser
func WithEraser(e erase.Eraser) Option {
	return func(u *Unvault) {
		u.eraser = e
	}
}

// WithProgress sets where the spinner draws
func WithProgress(w io.Writer) Option {
	return func(u *Unvault) {
		u.progress = w
	}
}

// New creates an Unvault for dir
func New(dir string, s settings.Settings, store *storage.Storage, log logger.Logger, opts ...Option) (*Unvault, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve directory: %w", err)
	}

	u := &Unvault{
		dir:      abs,
		settings: s,
		store:    store,
		log:      log,
		eraser:   erase.NewSecureEraser(s.SecureDeletePasses),
		progress: os.Stderr,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

// Dir returns the absolute vault directory
func (u *Unvault) Dir() string {
	return u.dir
}

// Result summarizes a decrypt run
type Result struct {
	Report   *vault.Report
	Exposure *git.Exposure
	Stale    *storage.Marker   // Unfinished marker from an earlier run
	Wiped    *erase.WipeResult // Set after a lockout with wiping enabled
	Elapsed  time.Duration
}

// session holds the unwrapped keys for the length of one decrypt run
type session struct {
	dek *crypto.Secret
	iv  *crypto.Secret
}

func (s *session) Destroy() {
	if s == nil {
		return
	}
	s.dek.Destroy()
	s.iv.Destroy()
}

// Decrypt unlocks the key chain through the access gate and decrypts
// every complete encrypted file in the directory. The recovery marker is
// written first and removed on every return path.
func (u *Unvault) Decrypt(ctx context.Context) (*Result, error) {
	start := time.Now()

	// The caller's interrupt handler only cancels ctx, and ctx is first
	// checked after the marker is written
	guard, err := recovery.Begin(u.store, OpDecrypt, u.dir, u.log)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	result := &Result{Stale: guard.Stale()}
	defer func() { result.Elapsed = time.Since(start) }()

	chain, err := u.loadKeyChain()
	if err != nil {
		return result, err
	}

	v, err := vault.Open(u.dir, u.settings, u.eraser, u.log)
	if err != nil {
		return result, err
	}
	defer v.Close()

	keyBlob, err := v.KeyBlob()
	if err != nil {
		return result, err
	}

	passwords := u.passwords
	if passwords == nil {
		vaultID, _ := u.store.GetVaultID()
		passwords = DefaultPasswords(u.settings.UseKeyring, vaultID)
	}

	var sess *session
	defer func() { sess.Destroy() }()

	g := gate.New(u.settings, v, u.log)
	err = g.Run(ctx, passwords.Password, func(_ context.Context, password []byte) error {
		s, err := u.unlock(chain, password, keyBlob)
		if err != nil {
			return err
		}
		sess = s
		return nil
	})
	result.Wiped = g.Wiped()
	if err != nil {
		return result, err
	}
	u.log.Infof("Vault unlocked, decrypting %s", u.dir)

	spinner := progress.New(u.progress, "Decrypting files")
	spinner.Start()
	defer spinner.Stop()

	report, err := v.DecryptAll(ctx, sess.dek.Bytes(), sess.iv.Bytes())
	spinner.Stop()
	result.Report = report
	if err != nil {
		return result, err
	}

	if u.settings.GitCheck {
		if decrypted := report.Decrypted(); len(decrypted) > 0 {
			result.Exposure = git.CheckExposure(u.dir, decrypted)
			for _, file := range result.Exposure.Tracked {
				u.log.Warnf("Decrypted file %s is tracked by git", file)
			}
			for _, file := range result.Exposure.Unignored {
				u.log.Warnf("Decrypted file %s is not ignored by git", file)
			}
		}
	}
	return result, nil
}

// keyChain is the persisted state needed to unlock, loaded before any
// password is asked for
type keyChain struct {
	hash       string
	salt       []byte
	iterations uint32
	mainBlob   *crypto.WrappedBlob
}

func (u *Unvault) loadKeyChain() (*keyChain, error) {
	hash, err := u.store.GetPasswordHash()
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read password verifier: %w", err)
	}

	salt, err := u.store.GetSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to get salt: %w", err)
	}
	iterations, err := u.store.GetIterations()
	if err != nil {
		return nil, fmt.Errorf("failed to get iterations: %w", err)
	}
	mainBlobData, err := u.store.GetMainKeyBlob()
	if err != nil {
		return nil, fmt.Errorf("failed to get main key: %w", err)
	}
	mainBlob, err := crypto.ParseWrappedBlob(mainBlobData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse main key: %w", err)
	}
	return &keyChain{hash: hash, salt: salt, iterations: iterations, mainBlob: mainBlob}, nil
}

// unlock verifies the password and walks the key chain. Nothing persisted
// is modified on failure.
func (u *Unvault) unlock(chain *keyChain, password []byte, keyBlob *crypto.WrappedBlob) (*session, error) {
	ok, err := crypto.VerifyPassword(chain.hash, password)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return nil, ErrWrongPassword
	}

	kdf := &crypto.KDF{Salt: chain.salt, Iterations: int(chain.iterations)}
	kek, err := kdf.DeriveKey(password)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(kek)

	// A wrong KEK fails here with crypto.ErrAuthFailed and counts as an attempt
	mainKey, err := crypto.UnwrapMainKey(kek, chain.mainBlob)
	if err != nil {
		return nil, err
	}
	defer mainKey.Destroy()

	dek, iv, err := crypto.UnwrapDEK(mainKey.Bytes(), keyBlob)
	if errors.Is(err, crypto.ErrAuthFailed) {
		return nil, ErrKeyBlobInvalid
	}
	if err != nil {
		return nil, err
	}
	return &session{dek: dek, iv: iv}, nil
}

// VerifyPassword checks a password against the stored verifier and the
// wrapped main key without decrypting anything
func (u *Unvault) VerifyPassword(password []byte) error {
	hash, err := u.store.GetPasswordHash()
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotInitialized
	}
	if err != nil {
		return err
	}
	ok, err := crypto.VerifyPassword(hash, password)
	if err != nil {
		return err
	}
	if !ok {
		return ErrWrongPassword
	}
	return nil
}

// Status describes the vault without a password
type Status struct {
	Dir         string
	Initialized bool
	Iterations  uint32
	Modified    time.Time
	VaultID     string
	Inventory   *vault.Inventory
	Markers     []storage.Marker
	InKeyring   bool
}

// Status reports state database and directory information
func (u *Unvault) Status(ctx context.Context) (*Status, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st := &Status{Dir: u.dir}
	ready, err := u.store.IsInitialized()
	if err != nil {
		return nil, fmt.Errorf("failed to read vault state: %w", err)
	}
	if ready {
		_, err = u.store.GetPasswordHash()
		st.Initialized = err == nil
	}

	if st.Initialized {
		st.Iterations, _ = u.store.GetIterations()
		st.Modified, _ = u.store.GetModified()
		st.VaultID, _ = u.store.GetVaultID()
		if st.VaultID != "" {
			st.InKeyring = keyring.HasPassword(st.VaultID)
		}
	}

	v, err := vault.Open(u.dir, u.settings, u.eraser, u.log)
	if err != nil {
		return nil, err
	}
	defer v.Close()

	st.Inventory, err = v.Inventory()
	if err != nil {
		return nil, err
	}

	st.Markers, err = u.store.ListMarkers()
	if err != nil {
		return nil, fmt.Errorf("failed to list recovery markers: %w", err)
	}
	return st, nil
}

// Recover removes leftover recovery markers, for this directory or for
// all directories, and compacts the state database
func (u *Unvault) Recover(ctx context.Context, all bool) ([]storage.Marker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var cleared []storage.Marker
	if all {
		markers, err := u.store.ListMarkers()
		if err != nil {
			return nil, err
		}
		for _, m := range markers {
			if err := u.store.DeleteMarker(m.Directory); err != nil {
				return cleared, err
			}
			cleared = append(cleared, m)
		}
	} else {
		m, err := recovery.Clear(u.store, u.dir)
		if err != nil {
			return nil, err
		}
		if m != nil {
			cleared = append(cleared, *m)
		}
	}

	for _, m := range cleared {
		u.log.Infof("Cleared %s marker for %s (session %s)", m.Operation, m.Directory, m.Session)
	}
	if err := u.store.Compact(); err != nil {
		return cleared, fmt.Errorf("failed to compact state database: %w", err)
	}
	return cleared, nil
}

// SaveToKeyring verifies password and stores it in the OS keyring
func (u *Unvault) SaveToKeyring(password []byte) error {
	if err := u.VerifyPassword(password); err != nil {
		return err
	}
	vaultID, err := u.store.GetOrCreateVaultID()
	if err != nil {
		return err
	}
	return keyring.SavePassword(vaultID, string(password))
}

// DeleteFromKeyring removes the saved password. It returns false if none
// was saved.
func (u *Unvault) DeleteFromKeyring() (bool, error) {
	vaultID, err := u.store.GetVaultID()
	if err != nil {
		return false, nil
	}
	if err := keyring.DeletePassword(vaultID); err != nil {
		if keyring.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// KeyringStatus reports whether a password is saved for this vault
func (u *Unvault) KeyringStatus() bool {
	vaultID, err := u.store.GetVaultID()
	if err != nil {
		return false
	}
	return keyring.HasPassword(vaultID)
}
