package recovery

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/illarion/unvault/internal/logger"
	"github.com/illarion/unvault/internal/storage"
)

func setup(t *testing.T) (*storage.Storage, *bytes.Buffer, logger.Logger) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	var buf bytes.Buffer
	l := logger.NewLogger(5) // debug
	l.SetWriter(&buf)
	return store, &buf, l
}

func markerFor(t *testing.T, store *storage.Storage, dir string) *storage.Marker {
	t.Helper()
	abs, err := filepath.Abs(dir)
	require.NoError(t, err)
	m, err := store.GetMarker(abs)
	require.NoError(t, err)
	return m
}

func TestMarkerClearedAfterCompletion(t *testing.T) {
	store, _, log := setup(t)
	dir := t.TempDir()

	run := func() error {
		guard, err := Begin(store, "decrypt", dir, log)
		if err != nil {
			return err
		}
		defer guard.Release()

		require.NotNil(t, markerFor(t, store, dir), "marker must exist while running")
		return nil
	}
	require.NoError(t, run())
	require.Nil(t, markerFor(t, store, dir))
}

func TestMarkerClearedAfterError(t *testing.T) {
	store, _, log := setup(t)
	dir := t.TempDir()
	boom := errors.New("boom")

	run := func() error {
		guard, err := Begin(store, "decrypt", dir, log)
		if err != nil {
			return err
		}
		defer guard.Release()
		return boom
	}
	require.ErrorIs(t, run(), boom)
	require.Nil(t, markerFor(t, store, dir))
}

func TestMarkerClearedAfterInterrupt(t *testing.T) {
	store, _, log := setup(t)
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())

	run := func() error {
		guard, err := Begin(store, "decrypt", dir, log)
		if err != nil {
			return err
		}
		defer guard.Release()

		cancel()
		<-ctx.Done()
		return ctx.Err()
	}
	require.ErrorIs(t, run(), context.Canceled)
	require.Nil(t, markerFor(t, store, dir))
}

func TestMarkerClearedAfterPanic(t *testing.T) {
	store, _, log := setup(t)
	dir := t.TempDir()

	func() {
		defer func() { require.NotNil(t, recover()) }()
		guard, err := Begin(store, "decrypt", dir, log)
		require.NoError(t, err)
		defer guard.Release()
		panic("unexpected")
	}()
	require.Nil(t, markerFor(t, store, dir))
}

func TestReleaseIsIdempotent(t *testing.T) {
	store, _, log := setup(t)
	guard, err := Begin(store, "decrypt", t.TempDir(), log)
	require.NoError(t, err)
	require.NoError(t, guard.Release())
	require.NoError(t, guard.Release())
}

func TestStaleMarkerIsReportedAndReplaced(t *testing.T) {
	store, buf, log := setup(t)
	dir := t.TempDir()
	abs, err := filepath.Abs(dir)
	require.NoError(t, err)

	old := storage.NewMarker("decrypt", abs)
	old.PID = 4242
	require.NoError(t, store.PutMarker(old))

	guard, err := Begin(store, "decrypt", dir, log)
	require.NoError(t, err)
	require.NotNil(t, guard.Stale())
	require.Equal(t, old.Session, guard.Stale().Session)
	require.NotEqual(t, old.Session, guard.Marker().Session)
	require.Contains(t, buf.String(), "did not finish")
	require.Contains(t, buf.String(), "pid 4242")

	current := markerFor(t, store, dir)
	require.Equal(t, guard.Marker().Session, current.Session)

	require.NoError(t, guard.Release())
	require.Nil(t, markerFor(t, store, dir))
}

func TestClear(t *testing.T) {
	store, _, _ := setup(t)
	dir := t.TempDir()

	m, err := Clear(store, dir)
	require.NoError(t, err)
	require.Nil(t, m)

	abs, err := filepath.Abs(dir)
	require.NoError(t, err)
	require.NoError(t, store.PutMarker(storage.NewMarker("decrypt", abs)))

	m, err = Clear(store, dir)
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Equal(t, "decrypt", m.Operation)
	require.Nil(t, markerFor(t, store, dir))
}
