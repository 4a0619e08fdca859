package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli"

	"github.com/illarion/unvault/internal/core"
	"github.com/illarion/unvault/internal/logger"
	"github.com/illarion/unvault/internal/settings"
	"github.com/illarion/unvault/internal/storage"
)

// Exit codes
const (
	ExitOK        = 0
	ExitLockedOut = 1
	ExitFailure   = 2
)

var (
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

// env is what every command needs: settings, a logger and the state store
type env struct {
	settings settings.Settings
	log      logger.Logger
	store    *storage.Storage
}

func (e *env) Close() error {
	return e.store.Close()
}

// openEnv loads settings from --config, applies --level and opens the
// state database
func openEnv(c *cli.Context) (*env, error) {
	configPath := c.GlobalString("config")
	if configPath == "" {
		configPath = settings.DefaultConfigPath()
	}
	s, err := settings.Load(configPath)
	if err != nil {
		return nil, err
	}
	if level := c.GlobalString("level"); level != "" {
		s.LogLevel, err = logger.GetLogLevel(level)
		if err != nil {
			return nil, err
		}
	}

	log := logger.NewLogger(s.LogLevel)
	log.SetWriter(os.Stderr)

	store, err := storage.Open(s.StatePath)
	if err != nil {
		return nil, err
	}
	return &env{settings: s, log: log, store: store}, nil
}

// newUnvault opens the environment and an Unvault for the directory
// argument, defaulting to the current directory
func newUnvault(c *cli.Context, opts ...core.Option) (*core.Unvault, *env, error) {
	e, err := openEnv(c)
	if err != nil {
		return nil, nil, err
	}
	dir := c.Args().First()
	if dir == "" {
		dir = "."
	}
	u, err := core.New(dir, e.settings, e.store, e.log, opts...)
	if err != nil {
		e.Close()
		return nil, nil, err
	}
	return u, e, nil
}

// ExitCode maps an error to the process exit status
func ExitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, core.ErrNotInitialized):
		return ExitOK
	case errors.Is(err, core.ErrLockedOut):
		return ExitLockedOut
	default:
		return ExitFailure
	}
}

// HandleError prints err for the operator and returns the exit status
func HandleError(w io.Writer, err error) int {
	switch {
	case err == nil:
	case errors.Is(err, core.ErrNotInitialized):
		fmt.Fprintln(w, warnStyle.Render("Vault not initialized: no password verifier in the state database"))
		fmt.Fprintln(w, "Complete the vault setup before decrypting")
	case errors.Is(err, core.ErrLockedOut):
		fmt.Fprintln(w, errorStyle.Render("Error: maximum number of password attempts reached"))
	case errors.Is(err, core.ErrMissingKeyBlob):
		fmt.Fprintln(w, errorStyle.Render("Error: keys_ivs/encrypted_keys_ivs.bin not found in the vault directory"))
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(w, warnStyle.Render("Interrupted, remaining files were left encrypted"))
	default:
		fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf("Error: %s", err)))
	}
	return ExitCode(err)
}
