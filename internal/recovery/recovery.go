// Package recovery brackets an operation with a persisted marker so that
// a crash can be detected on the next run.
//
// Typical use:
//
//	guard, err := recovery.Begin(store, "decrypt", dir, log)
//	if err != nil {
//		return err
//	}
//	defer guard.Release()
package recovery

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/illarion/unvault/internal/logger"
	"github.com/illarion/unvault/internal/storage"
)

// MarkerStore persists recovery markers
type MarkerStore interface {
	PutMarker(m storage.Marker) error
	GetMarker(directory string) (*storage.Marker, error)
	DeleteMarker(directory string) error
}

// Guard owns the marker of one operation
type Guard struct {
	store  MarkerStore
	marker storage.Marker
	stale  *storage.Marker
	log    logger.Logger

	once sync.Once
	err  error
}

// Begin writes the marker for operation on dir. A marker left by an
// earlier run that never finished is reported and replaced.
func Begin(store MarkerStore, operation, dir string, log logger.Logger) (*Guard, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve directory: %w", err)
	}

	stale, err := store.GetMarker(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read recovery marker: %w", err)
	}
	if stale != nil {
		log.Warnf("Previous %s of %s did not finish (session %s, pid %d, started %s), check for leftover files",
			stale.Operation, stale.Directory, stale.Session, stale.PID, humanize.Time(stale.Started))
	}

	marker := storage.NewMarker(operation, abs)
	if err := store.PutMarker(marker); err != nil {
		return nil, fmt.Errorf("failed to write recovery marker: %w", err)
	}
	log.Debugf("Recovery marker set for %s (session %s)", abs, marker.Session)

	return &Guard{
		store:  store,
		marker: marker,
		stale:  stale,
		log:    log,
	}, nil
}

// Marker returns the marker written by Begin
func (g *Guard) Marker() storage.Marker {
	return g.marker
}

// Stale returns the unfinished marker found by Begin, if any
func (g *Guard) Stale() *storage.Marker {
	return g.stale
}

// Release removes the marker. It is safe to call more than once and from
// a deferred call on every exit path.
func (g *Guard) Release() error {
	g.once.Do(func() {
		g.err = g.store.DeleteMarker(g.marker.Directory)
		if g.err != nil {
			g.log.Errorf("Failed to remove recovery marker for %s: %v", g.marker.Directory, g.err)
			return
		}
		g.log.Debugf("Recovery marker cleared for %s", g.marker.Directory)
	})
	return g.err
}

// Clear removes a leftover marker for dir without running anything. It
// returns the removed marker, or nil if there was none.
func Clear(store MarkerStore, dir string) (*storage.Marker, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve directory: %w", err)
	}
	marker, err := store.GetMarker(abs)
	if err != nil || marker == nil {
		return nil, err
	}
	if err := store.DeleteMarker(abs); err != nil {
		return nil, err
	}
	return marker, nil
}
