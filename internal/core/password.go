package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/illarion/unvault/internal/keyring"
)

// PasswordEnv names the environment variable read before prompting
const PasswordEnv = "UNVAULT_PASSWORD"

var (
	ErrNoPassword       = errors.New("no password from this source")
	ErrPasswordRequired = errors.New("password required")
	ErrNoTerminal       = errors.New("cannot prompt for password: stdin is not a terminal")
)

// PasswordSource supplies passwords to the access gate. attempt is the
// number of failed attempts so far. A source with nothing (more) to offer
// returns ErrNoPassword.
type PasswordSource interface {
	Password(ctx context.Context, attempt int) ([]byte, error)
}

// EnvSource offers the value of an environment variable once
type EnvSource struct {
	Name string
	used bool
}

func (s *EnvSource) Password(_ context.Context, _ int) ([]byte, error) {
	if s.used {
		return nil, ErrNoPassword
	}
	s.used = true
	value := os.Getenv(s.Name)
	if value == "" {
		return nil, ErrNoPassword
	}
	return []byte(value), nil
}

// KeyringSource offers the password saved in the OS keyring once
type KeyringSource struct {
	VaultID string
	used    bool
}

func (s *KeyringSource) Password(_ context.Context, _ int) ([]byte, error) {
	if s.used || s.VaultID == "" {
		return nil, ErrNoPassword
	}
	s.used = true
	password, err := keyring.GetPassword(s.VaultID)
	if err != nil || password == "" {
		return nil, ErrNoPassword
	}
	return []byte(password), nil
}

// PromptSource reads passwords from the terminal without echo
type PromptSource struct {
	In  *os.File
	Out io.Writer
}

func (s *PromptSource) Password(ctx context.Context, attempt int) ([]byte, error) {
	prompt := "Enter password: "
	if attempt > 0 {
		prompt = fmt.Sprintf("Enter password (attempt %d): ", attempt+1)
	}
	return ReadPassword(ctx, s.In, s.Out, prompt)
}

// ReadPassword reads a password from in without echoing. If ctx is
// cancelled while waiting, the terminal state is restored and ctx.Err()
// is returned.
func ReadPassword(ctx context.Context, in *os.File, out io.Writer, prompt string) ([]byte, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return nil, ErrNoTerminal
	}

	state, err := term.GetState(fd)
	if err != nil {
		return nil, fmt.Errorf("failed to read terminal state: %w", err)
	}

	fmt.Fprint(out, prompt)

	type result struct {
		password []byte
		err      error
	}
	done := make(chan result, 1)
	go func() {
		password, err := term.ReadPassword(fd)
		done <- result{password, err}
	}()

	select {
	case r := <-done:
		fmt.Fprintln(out)
		if r.err != nil {
			return nil, fmt.Errorf("failed to read password: %w", r.err)
		}
		return r.password, nil
	case <-ctx.Done():
		_ = term.Restore(fd, state)
		fmt.Fprintln(out)
		return nil, ctx.Err()
	}
}

// Chain tries each source in order, moving on when one runs out
type Chain struct {
	sources []PasswordSource
	current int
}

// NewChain creates a chain over sources
func NewChain(sources ...PasswordSource) *Chain {
	return &Chain{sources: sources}
}

func (c *Chain) Password(ctx context.Context, attempt int) ([]byte, error) {
	for c.current < len(c.sources) {
		password, err := c.sources[c.current].Password(ctx, attempt)
		if errors.Is(err, ErrNoPassword) {
			c.current++
			continue
		}
		return password, err
	}
	return nil, ErrPasswordRequired
}

// DefaultPasswords builds the standard order: environment, keyring when
// enabled, then the terminal prompt
func DefaultPasswords(useKeyring bool, vaultID string) PasswordSource {
	sources := []PasswordSource{&EnvSource{Name: PasswordEnv}}
	if useKeyring {
		sources = append(sources, &KeyringSource{VaultID: vaultID})
	}
	sources = append(sources, &PromptSource{In: os.Stdin, Out: os.Stderr})
	return NewChain(sources...)
}
