// Package erase overwrites and removes vault artifacts.
package erase

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const bufSize = 64 * 1024

// Eraser removes a file so that its previous contents cannot be recovered
// from the file system.
type Eraser interface {
	Erase(path string) error
}

// SecureEraser overwrites a file in place before unlinking it. Passes
// alternate zeros, ones and random data, ending with random data.
type SecureEraser struct {
	Passes int
}

// NewSecureEraser creates an eraser with the given number of passes
func NewSecureEraser(passes int) *SecureEraser {
	if passes < 1 {
		passes = 1
	}
	return &SecureEraser{Passes: passes}
}

// Erase overwrites then removes path
func (e *SecureEraser) Erase(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("refusing to erase non-regular file %s", path)
	}

	size := info.Size()

	file, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open file for overwrite: %w", err)
	}

	for pass := 0; pass < e.Passes; pass++ {
		var perr error
		switch {
		case pass == e.Passes-1:
			perr = overwriteFileRandom(file, size)
		case pass%2 == 0:
			perr = overwriteFile(file, size, 0x00)
		default:
			perr = overwriteFile(file, size, 0xFF)
		}
		if perr != nil {
			file.Close()
			return fmt.Errorf("pass %d failed: %w", pass+1, perr)
		}
		if err := file.Sync(); err != nil {
			file.Close()
			return fmt.Errorf("failed to sync file: %w", err)
		}
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

// overwriteFile overwrites a file with a specific byte pattern.
func overwriteFile(file *os.File, size int64, pattern byte) error {
	buf := make([]byte, bufSize)
	for i := range buf {
		buf[i] = pattern
	}
	return overwrite(file, size, func(b []byte) error { return nil }, buf)
}

// overwriteFileRandom overwrites a file with random data.
func overwriteFileRandom(file *os.File, size int64) error {
	buf := make([]byte, bufSize)
	return overwrite(file, size, func(b []byte) error {
		_, err := io.ReadFull(rand.Reader, b)
		return err
	}, buf)
}

func overwrite(file *os.File, size int64, fill func([]byte) error, buf []byte) error {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	written := int64(0)
	for written < size {
		toWrite := int64(len(buf))
		if written+toWrite > size {
			toWrite = size - written
		}
		if err := fill(buf[:toWrite]); err != nil {
			return err
		}
		n, err := file.Write(buf[:toWrite])
		if err != nil {
			return err
		}
		written += int64(n)
	}
	return nil
}

// IsArtifact reports whether name is an encrypted file or one of its
// sidecars for the given suffix
func IsArtifact(name, suffix string) bool {
	return strings.HasSuffix(name, suffix) ||
		strings.HasSuffix(name, suffix+".tag") ||
		strings.HasSuffix(name, suffix+".nonce")
}

// WipeResult lists what a wipe removed and what it could not
type WipeResult struct {
	Removed []string
	Failed  map[string]error
}

// WipeEncryptedFiles erases every encrypted artifact directly inside dir.
// Plaintext files and subdirectories are never touched. Every artifact is
// attempted even if some fail.
func WipeEncryptedFiles(dir, suffix string, eraser Eraser) (*WipeResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	result := &WipeResult{Failed: map[string]error{}}
	for _, entry := range entries {
		if entry.IsDir() || !IsArtifact(entry.Name(), suffix) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := eraser.Erase(path); err != nil {
			result.Failed[path] = err
			continue
		}
		result.Removed = append(result.Removed, path)
	}
	sort.Strings(result.Removed)

	if len(result.Failed) > 0 {
		return result, fmt.Errorf("failed to wipe %d of %d artifacts", len(result.Failed), len(result.Failed)+len(result.Removed))
	}
	return result, nil
}
