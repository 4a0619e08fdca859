package vault

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/sirupsen/logrus"

	"github.com/illarion/unvault/internal/crypto"
	"github.com/illarion/unvault/internal/erase"
	"github.com/illarion/unvault/internal/logger"
	"github.com/illarion/unvault/internal/security"
	"github.com/illarion/unvault/internal/settings"
)

const (
	KeysDir     = "keys_ivs"
	KeyBlobName = "encrypted_keys_ivs.bin"
)

// Vault is one directory of encrypted files. All reads go through a
// PathValidator rooted at the directory.
type Vault struct {
	pv       *security.PathValidator
	settings settings.Settings
	eraser   erase.Eraser
	log      logger.Logger
}

// Open opens the vault directory dir
func Open(dir string, s settings.Settings, eraser erase.Eraser, log logger.Logger) (*Vault, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open vault directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	pv, err := security.New(dir)
	if err != nil {
		return nil, err
	}

	return &Vault{
		pv:       pv,
		settings: s,
		eraser:   eraser,
		log:      log,
	}, nil
}

// Close releases the directory handle
func (v *Vault) Close() error {
	return v.pv.Close()
}

// Dir returns the absolute vault directory
func (v *Vault) Dir() string {
	return v.pv.Dir()
}

// KeyBlob reads the wrapped DEK blob from keys_ivs/encrypted_keys_ivs.bin
func (v *Vault) KeyBlob() (*crypto.WrappedBlob, error) {
	data, err := v.pv.ReadFileInRoot(path.Join(KeysDir, KeyBlobName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrMissingKeyBlob
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read encrypted keys: %w", err)
	}
	return crypto.ParseWrappedBlob(data)
}

// Inventory counts the encrypted files in the vault without decrypting
type Inventory struct {
	Encrypted      []string // All <name><suffix> files
	MissingSidecar []string // Encrypted files lacking a tag or nonce
	HasKeyBlob     bool
}

// Complete returns the number of encrypted files with both sidecars
func (i *Inventory) Complete() int {
	return len(i.Encrypted) - len(i.MissingSidecar)
}

// Inventory lists encrypted files and their sidecar state
func (v *Vault) Inventory() (*Inventory, error) {
	names, err := v.encryptedNames()
	if err != nil {
		return nil, err
	}

	inv := &Inventory{}
	for _, name := range names {
		inv.Encrypted = append(inv.Encrypted, name)
		ok, err := v.hasSidecars(name)
		if err != nil {
			return nil, err
		}
		if !ok {
			inv.MissingSidecar = append(inv.MissingSidecar, name)
		}
	}

	inv.HasKeyBlob, err = v.pv.ExistsInRoot(path.Join(KeysDir, KeyBlobName))
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// Wipe securely erases every encrypted artifact directly inside the vault
func (v *Vault) Wipe() (*erase.WipeResult, error) {
	return erase.WipeEncryptedFiles(v.Dir(), v.settings.EncryptedSuffix, v.eraser)
}

// encryptedNames returns the sorted names of encrypted files. Sidecars
// are excluded since they end in .tag or .nonce, not the suffix.
func (v *Vault) encryptedNames() ([]string, error) {
	entries, err := os.ReadDir(v.Dir())
	if err != nil {
		return nil, fmt.Errorf("failed to read vault directory: %w", err)
	}

	suffix := v.settings.EncryptedSuffix
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, suffix) || len(name) == len(suffix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// sidecars returns the tag and nonce file names of an encrypted file
func (v *Vault) sidecars(name string) (tag, nonce string) {
	base := strings.TrimSuffix(name, v.settings.EncryptedSuffix)
	return base + v.settings.TagSuffix(), base + v.settings.NonceSuffix()
}

func (v *Vault) hasSidecars(name string) (bool, error) {
	tagName, nonceName := v.sidecars(name)
	for _, sidecar := range []string{tagName, nonceName} {
		ok, err := v.pv.ExistsInRoot(sidecar)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// DecryptAll decrypts every complete encrypted file in the vault. Per-file
// problems are recorded in the report. The context is checked between
// files; a file already being processed runs to completion.
func (v *Vault) DecryptAll(ctx context.Context, dek, iv []byte) (*Report, error) {
	names, err := v.encryptedNames()
	if err != nil {
		return nil, err
	}

	report := &Report{}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			v.log.Warnf("Stopping before %s: %v", name, err)
			return report, err
		}
		res, residual := v.decryptOne(name, dek, iv)
		report.add(res, residual)
	}
	return report, nil
}

func (v *Vault) decryptOne(name string, dek, iv []byte) (FileResult, []ResidualArtifact) {
	log := v.log.WithField("file", name)
	res := FileResult{Source: name}

	info, err := v.pv.StatInRoot(name)
	if err != nil || !info.Mode().IsRegular() {
		log.Warn("Skipping, not a regular file")
		res.Outcome, res.Reason, res.Err = Skipped, ReasonNotRegular, err
		return res, nil
	}

	ok, err := v.hasSidecars(name)
	if err != nil || !ok {
		log.Warn("Skipping, tag or nonce sidecar is missing")
		res.Outcome, res.Reason, res.Err = Skipped, ReasonMissingSidecar, err
		return res, nil
	}

	tagName, nonceName := v.sidecars(name)
	tag, err := v.pv.ReadFileInRoot(tagName)
	if err != nil {
		return skipIO(log, res, "read tag", err), nil
	}
	nonce, err := v.pv.ReadFileInRoot(nonceName)
	if err != nil {
		return skipIO(log, res, "read nonce", err), nil
	}
	ciphertext, err := v.pv.ReadFileInRoot(name)
	if err != nil {
		return skipIO(log, res, "read ciphertext", err), nil
	}

	plaintext, err := DecryptBytes(name, ciphertext, dek, iv, tag, nonce)
	if err != nil {
		log.Warnf("Skipping, %v", errors.Unwrap(err))
		res.Outcome, res.Reason, res.Err = Skipped, ReasonAuthOrIO, err
		return res, nil
	}
	defer crypto.ClearBytes(plaintext)

	base := strings.TrimSuffix(name, v.settings.EncryptedSuffix)
	target, action, summary, err := resolveTarget(base, plaintext, v.settings.Collision, v.pv.ExistsInRoot, v.pv.ReadFileInRoot)
	if err != nil {
		log.Errorf("Failed to resolve output name: %v", err)
		res.Outcome, res.Reason, res.Err = Failed, ReasonWriteFailed, err
		return res, nil
	}

	switch action {
	case resolveSkip:
		log.Warnf("Skipping, %s exists with different content (%s)", base, summary)
		res.Outcome, res.Reason = Skipped, ReasonTargetExists
		return res, nil
	case resolvePresent:
		log.Infof("%s already holds the decrypted content", target)
	case resolveWrite:
		if summary != "" {
			if target == base {
				log.Warnf("Overwriting %s (%s)", base, summary)
			} else {
				log.Warnf("%s exists with different content (%s), writing %s", base, summary, target)
			}
		}
		if err := v.write(target, plaintext); err != nil {
			log.Errorf("Failed to write plaintext: %v", err)
			res.Outcome, res.Reason, res.Err = Failed, ReasonWriteFailed, err
			return res, nil
		}
	}

	res.Outcome = Decrypted
	res.Output = target
	res.Size = int64(len(plaintext))

	var residual []ResidualArtifact
	for _, src := range []string{name, tagName, nonceName} {
		if err := v.eraseArtifact(src); err != nil {
			log.Errorf("Failed to erase %s, encrypted copy remains: %v", src, err)
			res.Residual = append(res.Residual, src)
			residual = append(residual, ResidualArtifact{Path: src, Err: err})
		}
	}

	log.Debugf("Decrypted to %s", target)
	return res, residual
}

func skipIO(log *logrus.Entry, res FileResult, step string, err error) FileResult {
	log.Warnf("Skipping, failed to %s: %v", step, err)
	res.Outcome, res.Reason = Skipped, ReasonAuthOrIO
	res.Err = &DecryptError{Path: res.Source, Reason: step, Err: err}
	return res
}

// write materializes plaintext atomically so that a crash never leaves a
// truncated file at the target name
func (v *Vault) write(name string, plaintext []byte) error {
	abs, err := v.pv.Abs(name)
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(abs, bytes.NewReader(plaintext)); err != nil {
		return fmt.Errorf("atomic write %s: %w", name, err)
	}
	return os.Chmod(abs, 0600)
}

func (v *Vault) eraseArtifact(name string) error {
	abs, err := v.pv.Abs(name)
	if err != nil {
		return err
	}
	return v.eraser.Erase(abs)
}
