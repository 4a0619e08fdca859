package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *Storage {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "state", "state.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenAndInitialize(t *testing.T) {
	db := openTestDB(t)

	initialized, err := db.IsInitialized()
	if err != nil {
		t.Fatalf("Failed to check initialization: %v", err)
	}
	if initialized {
		t.Error("Fresh database should not be initialized")
	}

	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}
	// Second call must be harmless
	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to re-initialize: %v", err)
	}

	initialized, err = db.IsInitialized()
	if err != nil {
		t.Fatalf("Failed to check initialization: %v", err)
	}
	if !initialized {
		t.Error("Database should be initialized")
	}

	info, err := os.Stat(filepath.Dir(db.Path()))
	if err != nil {
		t.Fatalf("State directory missing: %v", err)
	}
	if info.Mode().Perm() != 0700 {
		t.Errorf("State directory mode = %o, want 0700", info.Mode().Perm())
	}
}

func TestSaltAndIterations(t *testing.T) {
	db := openTestDB(t)
	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}

	salt := []byte("test-salt-32-bytes-long-exactly!")
	if err := db.SetSalt(salt); err != nil {
		t.Fatalf("Failed to set salt: %v", err)
	}

	retrievedSalt, err := db.GetSalt()
	if err != nil {
		t.Fatalf("Failed to get salt: %v", err)
	}
	if string(retrievedSalt) != string(salt) {
		t.Errorf("Salt mismatch: got %v, want %v", retrievedSalt, salt)
	}

	// The salt is write-once
	if err := db.SetSalt([]byte("another-salt")); err == nil {
		t.Error("Expected error when replacing salt")
	}

	iterations := uint32(100000)
	if err := db.SetIterations(iterations); err != nil {
		t.Fatalf("Failed to set iterations: %v", err)
	}

	retrievedIters, err := db.GetIterations()
	if err != nil {
		t.Fatalf("Failed to get iterations: %v", err)
	}
	if retrievedIters != iterations {
		t.Errorf("Iterations mismatch: got %d, want %d", retrievedIters, iterations)
	}
}

func TestPasswordHashAndMainKey(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.GetPasswordHash(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound before setup, got %v", err)
	}
	if _, err := db.GetMainKeyBlob(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for main key, got %v", err)
	}

	if err := db.SetPasswordHash("argon2id$m=1,t=1,p=1$c2FsdA$a2V5"); err != nil {
		t.Fatalf("Failed to set password hash: %v", err)
	}
	hash, err := db.GetPasswordHash()
	if err != nil {
		t.Fatalf("Failed to get password hash: %v", err)
	}
	if hash != "argon2id$m=1,t=1,p=1$c2FsdA$a2V5" {
		t.Errorf("Hash mismatch: got %q", hash)
	}

	blob := []byte("ciphertext||tag||nonce")
	if err := db.SetMainKeyBlob(blob); err != nil {
		t.Fatalf("Failed to set main key: %v", err)
	}
	got, err := db.GetMainKeyBlob()
	if err != nil {
		t.Fatalf("Failed to get main key: %v", err)
	}
	if string(got) != string(blob) {
		t.Errorf("Main key mismatch: got %q", got)
	}

	if _, err := db.GetModified(); err != nil {
		t.Errorf("Modified time should be set: %v", err)
	}
}

func TestVaultID(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.GetVaultID(); err == nil {
		t.Fatal("Expected error for missing vault ID")
	}

	id, err := db.GetOrCreateVaultID()
	if err != nil {
		t.Fatalf("Failed to create vault ID: %v", err)
	}
	if id == "" {
		t.Fatal("Vault ID should not be empty")
	}

	again, err := db.GetOrCreateVaultID()
	if err != nil {
		t.Fatalf("Failed to get vault ID: %v", err)
	}
	if again != id {
		t.Errorf("Vault ID changed: %s -> %s", id, again)
	}
}

func TestMarkers(t *testing.T) {
	db := openTestDB(t)

	// Reading markers before the bucket exists
	m, err := db.GetMarker("/vault")
	if err != nil {
		t.Fatalf("GetMarker failed: %v", err)
	}
	if m != nil {
		t.Fatal("Expected no marker")
	}
	if err := db.DeleteMarker("/vault"); err != nil {
		t.Fatalf("Deleting missing marker should succeed: %v", err)
	}

	marker := NewMarker("decrypt", "/vault")
	if err := db.PutMarker(marker); err != nil {
		t.Fatalf("PutMarker failed: %v", err)
	}
	if err := db.PutMarker(NewMarker("decrypt", "/other")); err != nil {
		t.Fatalf("PutMarker failed: %v", err)
	}

	m, err = db.GetMarker("/vault")
	if err != nil {
		t.Fatalf("GetMarker failed: %v", err)
	}
	if m == nil {
		t.Fatal("Expected marker")
	}
	if m.Operation != "decrypt" || m.Session != marker.Session || m.PID != os.Getpid() {
		t.Errorf("Marker mismatch: %+v", m)
	}

	markers, err := db.ListMarkers()
	if err != nil {
		t.Fatalf("ListMarkers failed: %v", err)
	}
	if len(markers) != 2 {
		t.Fatalf("Expected 2 markers, got %d", len(markers))
	}

	if err := db.DeleteMarker("/vault"); err != nil {
		t.Fatalf("DeleteMarker failed: %v", err)
	}
	m, err = db.GetMarker("/vault")
	if err != nil {
		t.Fatalf("GetMarker failed: %v", err)
	}
	if m != nil {
		t.Error("Marker should be gone")
	}
}

func TestCompact(t *testing.T) {
	db := openTestDB(t)
	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}
	if err := db.SetSalt([]byte("salt")); err != nil {
		t.Fatalf("Failed to set salt: %v", err)
	}
	if err := db.PutMarker(NewMarker("decrypt", "/vault")); err != nil {
		t.Fatalf("PutMarker failed: %v", err)
	}

	if err := db.Compact(); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}

	salt, err := db.GetSalt()
	if err != nil || string(salt) != "salt" {
		t.Errorf("Salt lost after compact: %q, %v", salt, err)
	}
	m, err := db.GetMarker("/vault")
	if err != nil || m == nil {
		t.Errorf("Marker lost after compact: %v", err)
	}
}
