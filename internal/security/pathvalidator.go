package security

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrPathEscapes  = errors.New("path escapes vault directory")
	ErrAbsolutePath = errors.New("absolute paths are not allowed")
	ErrEmptyPath    = errors.New("empty path not allowed")
)

// PathValidator confines file access to one vault directory using the
// os.Root API. Symlinks that resolve outside the directory are rejected
// by the kernel-level lookup, not by string checks alone.
type PathValidator struct {
	root    *os.Root
	dirPath string
}

// New creates a PathValidator for the vault directory at dirPath.
func New(dirPath string) (*PathValidator, error) {
	absPath, err := filepath.Abs(dirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	root, err := os.OpenRoot(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open vault directory: %w", err)
	}

	return &PathValidator{
		root:    root,
		dirPath: absPath,
	}, nil
}

// Close releases resources held by the PathValidator.
func (pv *PathValidator) Close() error {
	if pv.root != nil {
		return pv.root.Close()
	}
	return nil
}

// Dir returns the absolute vault directory
func (pv *PathValidator) Dir() string {
	return pv.dirPath
}

// ValidateAndNormalize validates a relative path and returns it cleaned,
// with forward slashes. It rejects:
// - Empty paths
// - Absolute paths
// - Paths that escape the vault directory (using ..)
// - Paths that are not local (using filepath.IsLocal)
func (pv *PathValidator) ValidateAndNormalize(userPath string) (string, error) {
	if userPath == "" {
		return "", ErrEmptyPath
	}

	if !filepath.IsLocal(userPath) {
		if filepath.IsAbs(userPath) {
			return "", fmt.Errorf("%w: %s", ErrAbsolutePath, userPath)
		}
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, userPath)
	}

	cleanPath := filepath.Clean(userPath)
	relPath, err := filepath.Rel(pv.dirPath, filepath.Join(pv.dirPath, cleanPath))
	if err != nil {
		return "", fmt.Errorf("failed to compute relative path: %w", err)
	}
	if strings.HasPrefix(relPath, "..") || filepath.IsAbs(relPath) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, userPath)
	}

	return filepath.ToSlash(relPath), nil
}

// Abs returns the absolute path of a validated relative path
func (pv *PathValidator) Abs(path string) (string, error) {
	clean, err := pv.ValidateAndNormalize(filepath.FromSlash(path))
	if err != nil {
		return "", err
	}
	return filepath.Join(pv.dirPath, filepath.FromSlash(clean)), nil
}

// ReadFileInRoot reads a file inside the vault directory.
func (pv *PathValidator) ReadFileInRoot(path string) ([]byte, error) {
	platformPath := filepath.FromSlash(path)
	if _, err := pv.ValidateAndNormalize(platformPath); err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	return pv.root.ReadFile(platformPath)
}

// StatInRoot stats a file inside the vault directory, following symlinks
// only while they stay inside it.
func (pv *PathValidator) StatInRoot(path string) (os.FileInfo, error) {
	platformPath := filepath.FromSlash(path)
	if _, err := pv.ValidateAndNormalize(platformPath); err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	return pv.root.Stat(platformPath)
}

// ExistsInRoot reports whether path names an existing entry. Errors other
// than "does not exist" are returned.
func (pv *PathValidator) ExistsInRoot(path string) (bool, error) {
	platformPath := filepath.FromSlash(path)
	if _, err := pv.ValidateAndNormalize(platformPath); err != nil {
		return false, fmt.Errorf("invalid path: %w", err)
	}
	_, err := pv.root.Lstat(platformPath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
