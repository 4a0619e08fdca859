package crypto

import (
	"github.com/awnumar/memguard"
)

// Secret holds key material in a locked, guarded buffer.
type Secret struct {
	buf *memguard.LockedBuffer
}

// NewSecret moves b into guarded memory. The source slice is wiped.
func NewSecret(b []byte) *Secret {
	if len(b) == 0 {
		return &Secret{}
	}
	return &Secret{buf: memguard.NewBufferFromBytes(b)}
}

// Bytes returns the guarded bytes. The slice is only valid until Destroy.
func (s *Secret) Bytes() []byte {
	if s == nil || s.buf == nil || !s.buf.IsAlive() {
		return nil
	}
	return s.buf.Bytes()
}

// Len returns the size of the secret in bytes
func (s *Secret) Len() int {
	return len(s.Bytes())
}

// Destroy wipes and releases the secret. Safe to call more than once.
func (s *Secret) Destroy() {
	if s == nil || s.buf == nil {
		return
	}
	s.buf.Destroy()
}
