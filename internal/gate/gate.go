// Package gate limits how many passwords an operator may try before the
// vault locks for the rest of the invocation.
package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/illarion/unvault/internal/crypto"
	"github.com/illarion/unvault/internal/erase"
	"github.com/illarion/unvault/internal/logger"
	"github.com/illarion/unvault/internal/settings"
)

// MaxAttempts is the number of passwords accepted per invocation
const MaxAttempts = 3

var (
	ErrWrongPassword = errors.New("wrong password")
	ErrLockedOut     = errors.New("too many failed attempts")
	ErrUnlocked      = errors.New("gate already unlocked")
)

// State of the gate
type State int

const (
	AwaitingPassword State = iota
	Unlocked
	Locked
)

func (s State) String() string {
	switch s {
	case AwaitingPassword:
		return "awaiting password"
	case Unlocked:
		return "unlocked"
	case Locked:
		return "locked"
	}
	return "unknown"
}

// AttemptError is returned for a rejected password while attempts remain
type AttemptError struct {
	Remaining int
	Err       error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("%v, %d attempt(s) remaining", e.Err, e.Remaining)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// UnlockFunc tries a password. ErrWrongPassword and crypto.ErrAuthFailed
// count as a failed attempt; any other error is returned as is.
type UnlockFunc func(ctx context.Context, password []byte) error

// PasswordFunc supplies the next password to try
type PasswordFunc func(ctx context.Context, attempt int) ([]byte, error)

// Wiper erases the encrypted artifacts of a vault
type Wiper interface {
	Wipe() (*erase.WipeResult, error)
}

// Gate is the attempt-limited state machine guarding an unlock. The
// counter lives in memory only and starts at zero for every invocation.
type Gate struct {
	state    State
	failures int
	wipe     bool
	wiper    Wiper
	wiped    *erase.WipeResult
	log      logger.Logger
}

// New creates a gate. wiper is used only when settings enable wiping.
func New(s settings.Settings, wiper Wiper, log logger.Logger) *Gate {
	return &Gate{
		wipe:  s.WipeAfterMaxAttempts,
		wiper: wiper,
		log:   log,
	}
}

// State returns the current state
func (g *Gate) State() State {
	return g.state
}

// Remaining returns how many attempts are left
func (g *Gate) Remaining() int {
	return MaxAttempts - g.failures
}

// Wiped returns the wipe result after a lockout with wiping enabled
func (g *Gate) Wiped() *erase.WipeResult {
	return g.wiped
}

// Attempt submits one password
func (g *Gate) Attempt(ctx context.Context, password []byte, unlock UnlockFunc) error {
	switch g.state {
	case Locked:
		return ErrLockedOut
	case Unlocked:
		return ErrUnlocked
	}

	err := unlock(ctx, password)
	if err == nil {
		g.state = Unlocked
		return nil
	}
	if !isMismatch(err) {
		return err
	}

	g.failures++
	if g.failures < MaxAttempts {
		g.log.Warnf("Incorrect password, %d attempt(s) remaining", g.Remaining())
		return &AttemptError{Remaining: g.Remaining(), Err: ErrWrongPassword}
	}
	return g.lock()
}

// Run asks next for passwords until one unlocks, the gate locks, or a
// non-password error occurs. Each password is zeroed after its attempt.
func (g *Gate) Run(ctx context.Context, next PasswordFunc, unlock UnlockFunc) error {
	for g.state == AwaitingPassword {
		if err := ctx.Err(); err != nil {
			return err
		}
		password, err := next(ctx, g.failures)
		if err != nil {
			return err
		}
		err = g.Attempt(ctx, password, unlock)
		crypto.ClearBytes(password)
		if err != nil && !errors.Is(err, ErrWrongPassword) {
			return err
		}
	}
	if g.state == Locked {
		return ErrLockedOut
	}
	return nil
}

func (g *Gate) lock() error {
	g.state = Locked
	g.log.Errorf("Maximum number of attempts (%d) reached, vault locked", MaxAttempts)

	if !g.wipe {
		return ErrLockedOut
	}
	if g.wiper == nil {
		return fmt.Errorf("%w: no vault to wipe", ErrLockedOut)
	}

	result, err := g.wiper.Wipe()
	g.wiped = result
	if result != nil {
		g.log.Warnf("Wiped %d encrypted artifact(s)", len(result.Removed))
		for path, ferr := range result.Failed {
			g.log.Errorf("Failed to wipe %s: %v", path, ferr)
		}
	}
	if err != nil {
		return fmt.Errorf("%w: wipe incomplete: %v", ErrLockedOut, err)
	}
	return ErrLockedOut
}

func isMismatch(err error) bool {
	return errors.Is(err, ErrWrongPassword) || errors.Is(err, crypto.ErrAuthFailed)
}
