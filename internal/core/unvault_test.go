package core

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/illarion/unvault/internal/erase"
	"github.com/illarion/unvault/internal/logger"
	"github.com/illarion/unvault/internal/settings"
	"github.com/illarion/unvault/internal/storage"
	"github.com/illarion/unvault/internal/testvault"
	"github.com/illarion/unvault/internal/vault"
)

// scripted hands out a fixed list of passwords and records how many were asked for
type scripted struct {
	passwords []string
	asked     int
}

func (s *scripted) Password(_ context.Context, attempt int) ([]byte, error) {
	if s.asked >= len(s.passwords) {
		return nil, ErrPasswordRequired
	}
	pw := s.passwords[s.asked]
	s.asked++
	return []byte(pw), nil
}

type fixture struct {
	vault *testvault.Vault
	store *storage.Storage
	s     settings.Settings
	log   logger.Logger
}

func newFixture(t *testing.T, opts ...testvault.Option) *fixture {
	t.Helper()
	fx := testvault.New(t, "correct-password", opts...)

	store, err := storage.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	fx.Provision(t, store)

	s := settings.Default()
	s.SecureDeletePasses = 1
	s.GitCheck = false
	s.StatePath = store.Path()

	l := logger.NewLogger(0)
	l.SetWriter(io.Discard)
	return &fixture{vault: fx, store: store, s: s, log: l}
}

func (f *fixture) unvault(t *testing.T, passwords ...string) (*Unvault, *scripted) {
	t.Helper()
	src := &scripted{passwords: passwords}
	u, err := New(f.vault.Dir, f.s, f.store, f.log, WithPasswords(src), WithProgress(io.Discard))
	require.NoError(t, err)
	return u, src
}

func (f *fixture) requireNoMarker(t *testing.T) {
	t.Helper()
	markers, err := f.store.ListMarkers()
	require.NoError(t, err)
	require.Empty(t, markers)
}

func scenarioDEK() testvault.Option {
	dek := make([]byte, 32)
	dek[31] = 0x01
	return testvault.WithDEK(dek, make([]byte, 16))
}

func TestDecryptScenario(t *testing.T) {
	f := newFixture(t, scenarioDEK())
	f.vault.AddFile(t, "report.txt", []byte("Q3 revenue: 1.2M\n"))

	u, src := f.unvault(t, "correct-password")
	result, err := u.Decrypt(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, src.asked)

	require.Equal(t, []string{"report.txt"}, result.Report.Decrypted())
	require.Empty(t, result.Report.Skipped())
	require.Nil(t, result.Wiped)

	got, err := os.ReadFile(f.vault.Path("report.txt"))
	require.NoError(t, err)
	require.Equal(t, "Q3 revenue: 1.2M\n", string(got))
	for _, name := range []string{"report.txt.enc", "report.txt.enc.tag", "report.txt.enc.nonce"} {
		_, err := os.Stat(f.vault.Path(name))
		require.True(t, os.IsNotExist(err), name)
	}
	f.requireNoMarker(t)
}

func TestDecryptRetriesThenUnlocks(t *testing.T) {
	f := newFixture(t)
	f.vault.AddFile(t, "a.txt", []byte("alpha"))

	u, src := f.unvault(t, "nope", "still-no", "correct-password")
	result, err := u.Decrypt(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, src.asked)
	require.Equal(t, []string{"a.txt"}, result.Report.Decrypted())
}

func TestDecryptLockoutKeepsFiles(t *testing.T) {
	f := newFixture(t)
	f.vault.AddFile(t, "report.txt", []byte("secret"))

	u, src := f.unvault(t, "a", "b", "c", "correct-password")
	result, err := u.Decrypt(context.Background())
	require.ErrorIs(t, err, ErrLockedOut)
	require.Equal(t, 3, src.asked, "no fourth attempt")
	require.Nil(t, result.Wiped)
	require.Nil(t, result.Report)

	for _, name := range []string{"report.txt.enc", "report.txt.enc.tag", "report.txt.enc.nonce"} {
		_, err := os.Stat(f.vault.Path(name))
		require.NoError(t, err, name)
	}
	_, err = os.Stat(f.vault.Path("report.txt"))
	require.True(t, os.IsNotExist(err))
	f.requireNoMarker(t)
}

func TestDecryptLockoutWipes(t *testing.T) {
	f := newFixture(t)
	f.s.WipeAfterMaxAttempts = true
	f.vault.AddFile(t, "report.txt", []byte("secret"))
	require.NoError(t, os.WriteFile(f.vault.Path("notes.txt"), []byte("keep"), 0600))

	u, _ := f.unvault(t, "a", "b", "c")
	result, err := u.Decrypt(context.Background())
	require.ErrorIs(t, err, ErrLockedOut)
	require.NotNil(t, result.Wiped)
	require.Len(t, result.Wiped.Removed, 3)

	for _, name := range []string{"report.txt.enc", "report.txt.enc.tag", "report.txt.enc.nonce"} {
		_, err := os.Stat(f.vault.Path(name))
		require.True(t, os.IsNotExist(err), name)
	}
	_, err = os.Stat(f.vault.Path("notes.txt"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(f.vault.Dir, vault.KeysDir, vault.KeyBlobName))
	require.NoError(t, err)
	f.requireNoMarker(t)
}

func TestDecryptNotInitialized(t *testing.T) {
	f := newFixture(t)
	empty, err := storage.Open(filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	defer empty.Close()

	src := &scripted{passwords: []string{"correct-password"}}
	u, err := New(f.vault.Dir, f.s, empty, f.log, WithPasswords(src))
	require.NoError(t, err)

	_, err = u.Decrypt(context.Background())
	require.ErrorIs(t, err, ErrNotInitialized)
	require.Zero(t, src.asked)

	markers, err := empty.ListMarkers()
	require.NoError(t, err)
	require.Empty(t, markers)
}

func TestDecryptMissingKeyBlob(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.RemoveAll(filepath.Join(f.vault.Dir, vault.KeysDir)))

	u, src := f.unvault(t, "correct-password")
	_, err := u.Decrypt(context.Background())
	require.ErrorIs(t, err, ErrMissingKeyBlob)
	require.Zero(t, src.asked)
	f.requireNoMarker(t)
}

func TestDecryptCorruptKeyBlobIsNotRetried(t *testing.T) {
	f := newFixture(t)
	blob, err := os.ReadFile(filepath.Join(f.vault.Dir, vault.KeysDir, vault.KeyBlobName))
	require.NoError(t, err)
	blob[0] ^= 0x01
	f.vault.WriteKeyBlob(t, blob)

	u, src := f.unvault(t, "correct-password", "correct-password")
	_, err = u.Decrypt(context.Background())
	require.ErrorIs(t, err, ErrKeyBlobInvalid)
	require.Equal(t, 1, src.asked)
	f.requireNoMarker(t)
}

func TestDecryptWrongMainKeyCountsAsAttempt(t *testing.T) {
	f := newFixture(t)
	// The verifier accepts the password but the main key was wrapped under
	// another KEK
	other := testvault.New(t, "another-password")
	require.NoError(t, f.store.SetMainKeyBlob(other.MainKeyBlob))

	u, src := f.unvault(t, "correct-password", "correct-password", "correct-password")
	_, err := u.Decrypt(context.Background())
	require.ErrorIs(t, err, ErrLockedOut)
	require.Equal(t, 3, src.asked)
}

func TestDecryptInterrupted(t *testing.T) {
	f := newFixture(t)
	f.vault.AddFile(t, "a.txt", []byte("alpha"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	u, _ := f.unvault(t, "correct-password")
	_, err := u.Decrypt(ctx)
	require.ErrorIs(t, err, context.Canceled)

	_, err = os.Stat(f.vault.Path("a.txt.enc"))
	require.NoError(t, err)
	f.requireNoMarker(t)
}

// cancelAfter cancels the run once a given artifact has been erased
type cancelAfter struct {
	name   string
	cancel context.CancelFunc
	next   erase.Eraser
}

func (c *cancelAfter) Erase(path string) error {
	err := c.next.Erase(path)
	if filepath.Base(path) == c.name {
		c.cancel()
	}
	return err
}

func TestDecryptInterruptedBetweenFiles(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		f.vault.AddFile(t, name, []byte(name))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eraser := &cancelAfter{name: "a.txt.enc.nonce", cancel: cancel, next: erase.NewSecureEraser(1)}

	src := &scripted{passwords: []string{"correct-password"}}
	u, err := New(f.vault.Dir, f.s, f.store, f.log, WithPasswords(src), WithProgress(io.Discard), WithEraser(eraser))
	require.NoError(t, err)

	result, err := u.Decrypt(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []string{"a.txt"}, result.Report.Decrypted())

	_, err = os.Stat(f.vault.Path("a.txt"))
	require.NoError(t, err)
	_, err = os.Stat(f.vault.Path("a.txt.enc"))
	require.True(t, os.IsNotExist(err))
	for _, name := range []string{"b.txt.enc", "c.txt.enc"} {
		_, err := os.Stat(f.vault.Path(name))
		require.NoError(t, err, name)
	}
	_, err = os.Stat(f.vault.Path("b.txt"))
	require.True(t, os.IsNotExist(err))
	f.requireNoMarker(t)
}

func TestDecryptMissingSaltFailsBeforePrompt(t *testing.T) {
	f := newFixture(t)
	partial, err := storage.Open(filepath.Join(t.TempDir(), "partial.db"))
	require.NoError(t, err)
	defer partial.Close()
	require.NoError(t, partial.Initialize())
	require.NoError(t, partial.SetPasswordHash(f.vault.PasswordHash))

	src := &scripted{passwords: []string{"correct-password"}}
	u, err := New(f.vault.Dir, f.s, partial, f.log, WithPasswords(src))
	require.NoError(t, err)

	_, err = u.Decrypt(context.Background())
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.Zero(t, src.asked)

	markers, err := partial.ListMarkers()
	require.NoError(t, err)
	require.Empty(t, markers)
}

func TestStatusUninitializedState(t *testing.T) {
	f := newFixture(t)
	empty, err := storage.Open(filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	defer empty.Close()

	u, err := New(f.vault.Dir, f.s, empty, f.log)
	require.NoError(t, err)
	st, err := u.Status(context.Background())
	require.NoError(t, err)
	require.False(t, st.Initialized)
	require.Zero(t, st.Iterations)
}

func TestDecryptNothingToDo(t *testing.T) {
	f := newFixture(t)
	u, _ := f.unvault(t, "correct-password")
	result, err := u.Decrypt(context.Background())
	require.NoError(t, err)
	require.True(t, result.Report.Empty())
}

func TestDecryptReportsStaleMarker(t *testing.T) {
	f := newFixture(t)
	u, _ := f.unvault(t, "correct-password")
	require.NoError(t, f.store.PutMarker(storage.NewMarker(OpDecrypt, u.Dir())))

	result, err := u.Decrypt(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result.Stale)
	f.requireNoMarker(t)
}

func TestStatus(t *testing.T) {
	keyring.MockInit()
	f := newFixture(t)
	f.vault.AddFile(t, "a.txt", []byte("alpha"))
	f.vault.AddFile(t, "b.txt", []byte("bravo"))
	require.NoError(t, os.Remove(f.vault.Path("b.txt.enc.tag")))

	u, _ := f.unvault(t)
	st, err := u.Status(context.Background())
	require.NoError(t, err)
	require.True(t, st.Initialized)
	require.EqualValues(t, testvault.Iterations, st.Iterations)
	require.Len(t, st.Inventory.Encrypted, 2)
	require.Equal(t, 1, st.Inventory.Complete())
	require.True(t, st.Inventory.HasKeyBlob)
	require.Empty(t, st.Markers)
	require.False(t, st.InKeyring)
}

func TestRecover(t *testing.T) {
	f := newFixture(t)
	u, _ := f.unvault(t)
	require.NoError(t, f.store.PutMarker(storage.NewMarker(OpDecrypt, u.Dir())))
	require.NoError(t, f.store.PutMarker(storage.NewMarker(OpDecrypt, "/elsewhere")))

	cleared, err := u.Recover(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, cleared, 1)
	require.Equal(t, u.Dir(), cleared[0].Directory)

	markers, err := f.store.ListMarkers()
	require.NoError(t, err)
	require.Len(t, markers, 1)

	cleared, err = u.Recover(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, cleared, 1)
	f.requireNoMarker(t)

	// State survives compaction
	_, err = f.store.GetPasswordHash()
	require.NoError(t, err)
}

func TestKeyring(t *testing.T) {
	keyring.MockInit()
	f := newFixture(t)
	u, _ := f.unvault(t)

	require.False(t, u.KeyringStatus())
	require.ErrorIs(t, u.SaveToKeyring([]byte("wrong")), ErrWrongPassword)
	require.NoError(t, u.SaveToKeyring([]byte("correct-password")))
	require.True(t, u.KeyringStatus())

	// A keyring password is used before the prompt
	vaultID, err := f.store.GetVaultID()
	require.NoError(t, err)
	src := NewChain(&KeyringSource{VaultID: vaultID}, &scripted{})
	pw, err := src.Password(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, "correct-password", string(pw))

	deleted, err := u.DeleteFromKeyring()
	require.NoError(t, err)
	require.True(t, deleted)
	deleted, err = u.DeleteFromKeyring()
	require.NoError(t, err)
	require.False(t, deleted)
}
