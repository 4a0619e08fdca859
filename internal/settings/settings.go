// Package settings loads the security settings that shape a decrypt run.
//
// Settings are read once, at the start of an operation, and passed by
// value to the components that need them.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/illarion/unvault/internal/logger"
)

const (
	DefaultSuffix     = ".enc"
	DefaultPasses     = 3
	DefaultLogLevel   = "info"
	DefaultStateDir   = ".unvault"
	DefaultStateFile  = "state.db"
	DefaultConfigFile = "security.yaml"
	envPrefix         = "UNVAULT"
)

// CollisionPolicy decides what happens when a plaintext target already
// exists with different content
type CollisionPolicy string

const (
	CollisionKeepBoth  CollisionPolicy = "keep-both"
	CollisionSkip      CollisionPolicy = "skip"
	CollisionOverwrite CollisionPolicy = "overwrite"
)

// Settings is the immutable security configuration for one run
type Settings struct {
	WipeAfterMaxAttempts bool
	EncryptedSuffix      string
	SecureDeletePasses   int
	Collision            CollisionPolicy
	StatePath            string
	LogLevel             uint32
	GitCheck             bool
	UseKeyring           bool
}

// Default returns the settings used when no file is present
func Default() Settings {
	level, _ := logger.GetLogLevel(DefaultLogLevel)
	return Settings{
		EncryptedSuffix:    DefaultSuffix,
		SecureDeletePasses: DefaultPasses,
		Collision:          CollisionKeepBoth,
		StatePath:          defaultStatePath(),
		LogLevel:           level,
		GitCheck:           true,
	}
}

// DefaultConfigPath returns ~/.unvault/security.yaml
func DefaultConfigPath() string {
	return filepath.Join(homeDir(), DefaultStateDir, DefaultConfigFile)
}

func defaultStatePath() string {
	return filepath.Join(homeDir(), DefaultStateDir, DefaultStateFile)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("wipe_files_after_max_attempts", d.WipeAfterMaxAttempts)
	v.SetDefault("encrypted_suffix", d.EncryptedSuffix)
	v.SetDefault("secure_delete.passes", d.SecureDeletePasses)
	v.SetDefault("collision", string(d.Collision))
	v.SetDefault("state_path", d.StatePath)
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("git_check", d.GitCheck)
	v.SetDefault("use_keyring", d.UseKeyring)
	return v
}

// Load reads the settings file at path. A missing file is not an error and
// yields the defaults, still subject to UNVAULT_* environment overrides.
func Load(path string) (Settings, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return Settings{}, fmt.Errorf("failed to read settings %s: %w", path, err)
			}
		}
	}
	return parse(v)
}

func parse(v *viper.Viper) (Settings, error) {
	s := Settings{
		WipeAfterMaxAttempts: v.GetBool("wipe_files_after_max_attempts"),
		EncryptedSuffix:      v.GetString("encrypted_suffix"),
		SecureDeletePasses:   v.GetInt("secure_delete.passes"),
		Collision:            CollisionPolicy(strings.ToLower(v.GetString("collision"))),
		StatePath:            v.GetString("state_path"),
		GitCheck:             v.GetBool("git_check"),
		UseKeyring:           v.GetBool("use_keyring"),
	}

	level, err := logger.GetLogLevel(v.GetString("log.level"))
	if err != nil {
		return Settings{}, err
	}
	s.LogLevel = level

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks that the settings are usable
func (s Settings) Validate() error {
	if s.EncryptedSuffix == "" || !strings.HasPrefix(s.EncryptedSuffix, ".") {
		return fmt.Errorf("encrypted_suffix must start with '.', got %q", s.EncryptedSuffix)
	}
	if strings.ContainsRune(s.EncryptedSuffix, filepath.Separator) {
		return fmt.Errorf("encrypted_suffix must not contain a path separator")
	}
	if s.SecureDeletePasses < 1 {
		return fmt.Errorf("secure_delete.passes must be at least 1, got %d", s.SecureDeletePasses)
	}
	switch s.Collision {
	case CollisionKeepBoth, CollisionSkip, CollisionOverwrite:
	default:
		return fmt.Errorf("invalid collision policy %q", s.Collision)
	}
	if s.StatePath == "" {
		return fmt.Errorf("state_path must not be empty")
	}
	return nil
}

// TagSuffix returns the suffix of the tag sidecar, e.g. ".enc.tag"
func (s Settings) TagSuffix() string {
	return s.EncryptedSuffix + ".tag"
}

// NonceSuffix returns the suffix of the nonce sidecar, e.g. ".enc.nonce"
func (s Settings) NonceSuffix() string {
	return s.EncryptedSuffix + ".nonce"
}
