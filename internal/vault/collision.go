package vault

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/illarion/unvault/internal/settings"
)

const (
	textSampleSize   = 8192 // Bytes sampled for text/binary detection
	binaryThreshold  = 10   // Max % of control chars in a text file
	collisionSuffix  = ".decrypted"
	maxCollisionCopy = 100
)

// IsText reports whether data looks like text: no NUL bytes, valid UTF-8,
// and few control characters in the first few kilobytes.
func IsText(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	if bytes.IndexByte(data, 0) != -1 {
		return false
	}

	sample := data
	if len(sample) > textSampleSize {
		sample = sample[:textSampleSize]
	}
	if !utf8.Valid(sample) {
		return false
	}

	control := 0
	for _, b := range sample {
		if (b < 32 && b != '\t' && b != '\n' && b != '\r') || b == 127 {
			control++
		}
	}
	return control <= len(sample)*binaryThreshold/100
}

// SameContent reports whether two buffers are identical
func SameContent(a, b []byte) bool {
	ha := sha256.Sum256(a)
	hb := sha256.Sum256(b)
	return bytes.Equal(ha[:], hb[:])
}

// DiffSummary describes how existing content differs from decrypted content
// in lines added and removed. Binary content is summarized by size only.
func DiffSummary(existing, decrypted []byte) string {
	if !IsText(existing) || !IsText(decrypted) {
		return fmt.Sprintf("binary content differs (%d bytes on disk, %d bytes decrypted)", len(existing), len(decrypted))
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(string(existing), string(decrypted))
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	added, removed := 0, 0
	for _, d := range diffs {
		n := countLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += n
		case diffmatchpatch.DiffDelete:
			removed += n
		}
	}
	return fmt.Sprintf("+%d -%d lines", added, removed)
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

// resolution is what the walker does with one decrypted file
type resolution int

const (
	resolveWrite    resolution = iota // Write to target
	resolvePresent                    // Target already holds this plaintext
	resolveSkip                       // Leave sources, report target_exists
)

// resolveTarget decides where decrypted plaintext goes when base may
// already exist. exists and read are scoped to the vault directory.
func resolveTarget(base string, plaintext []byte, policy settings.CollisionPolicy,
	exists func(string) (bool, error), read func(string) ([]byte, error)) (string, resolution, string, error) {

	found, err := exists(base)
	if err != nil {
		return "", resolveSkip, "", err
	}
	if !found {
		return base, resolveWrite, "", nil
	}

	existing, err := read(base)
	if err != nil {
		return "", resolveSkip, "", err
	}
	if SameContent(existing, plaintext) {
		return base, resolvePresent, "", nil
	}
	summary := DiffSummary(existing, plaintext)

	switch policy {
	case settings.CollisionSkip:
		return base, resolveSkip, summary, nil
	case settings.CollisionOverwrite:
		return base, resolveWrite, summary, nil
	}

	for i := 0; i <= maxCollisionCopy; i++ {
		candidate := base + collisionSuffix
		if i > 0 {
			candidate = fmt.Sprintf("%s%s.%d", base, collisionSuffix, i)
		}
		found, err := exists(candidate)
		if err != nil {
			return "", resolveSkip, summary, err
		}
		if !found {
			return candidate, resolveWrite, summary, nil
		}
		if data, err := read(candidate); err == nil && SameContent(data, plaintext) {
			return candidate, resolvePresent, summary, nil
		}
	}
	return base, resolveSkip, summary, fmt.Errorf("no free name for %s after %d copies", base, maxCollisionCopy)
}
