package storage

import (
	"os"
	"time"

	"github.com/google/uuid"
)

// Marker records an operation in progress for a directory. It is written
// before the operation starts and removed when it ends, so a marker found
// at startup belongs to a run that did not finish.
type Marker struct {
	Operation string    `json:"operation"`
	Directory string    `json:"directory"`
	Session   string    `json:"session"`
	PID       int       `json:"pid"`
	Started   time.Time `json:"started"`
}

// NewMarker creates a marker for the current process
func NewMarker(operation, directory string) Marker {
	return Marker{
		Operation: operation,
		Directory: directory,
		Session:   uuid.NewString(),
		PID:       os.Getpid(),
		Started:   time.Now(),
	}
}

// Age returns how long ago the marked operation started
func (m Marker) Age() time.Duration {
	return time.Since(m.Started)
}
