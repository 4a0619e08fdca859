package vault

import (
	"errors"
	"fmt"
)

var (
	ErrMissingKeyBlob = errors.New("encrypted keys file not found")
)

// DecryptError describes why a single file could not be decrypted. It
// never carries key material.
type DecryptError struct {
	Path   string // File path
	Reason string // Step that failed
	Err    error  // Underlying error
}

func (e *DecryptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decrypt error: %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("decrypt error: %s: %s", e.Path, e.Reason)
}

func (e *DecryptError) Unwrap() error {
	return e.Err
}
