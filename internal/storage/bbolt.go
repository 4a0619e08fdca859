package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	ConfigBucket   = []byte("config")   // Salt, iterations, verifier, wrapped main key
	RecoveryBucket = []byte("recovery") // In-progress operation markers keyed by directory
)

// Config keys
var (
	ConfigVersion      = []byte("version")
	ConfigCreated      = []byte("created")
	ConfigModified     = []byte("modified")
	ConfigSalt         = []byte("salt")
	ConfigIters        = []byte("iterations")
	ConfigPasswordHash = []byte("password_hash")
	ConfigMainKey      = []byte("main_key")
	ConfigVaultID      = []byte("vault_id")
)

var ErrNotFound = errors.New("not found")

const openTimeout = 2 * time.Second

// Storage provides BBolt-based storage for unvault state
type Storage struct {
	db *bolt.DB
}

// Open opens or creates the state database. The parent directory is
// created with owner-only permissions if missing.
func Open(path string) (*Storage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close closes the database
func (s *Storage) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *Storage) Path() string {
	return s.db.Path()
}

// Initialize creates the bucket structure for a new vault state
func (s *Storage) Initialize() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{ConfigBucket, RecoveryBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		config := tx.Bucket(ConfigBucket)
		if config.Get(ConfigVersion) != nil {
			return nil
		}
		if err := config.Put(ConfigVersion, []byte("1")); err != nil {
			return err
		}

		created, _ := time.Now().MarshalBinary()
		if err := config.Put(ConfigCreated, created); err != nil {
			return err
		}
		return config.Put(ConfigModified, created)
	})
}

// IsInitialized checks if the database has been initialized
func (s *Storage) IsInitialized() (bool, error) {
	var initialized bool
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config != nil && config.Get(ConfigVersion) != nil {
			initialized = true
		}
		return nil
	})
	return initialized, err
}

func (s *Storage) putConfig(key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		config, err := tx.CreateBucketIfNotExists(ConfigBucket)
		if err != nil {
			return err
		}
		if err := config.Put(key, value); err != nil {
			return err
		}
		modified, _ := time.Now().MarshalBinary()
		return config.Put(ConfigModified, modified)
	})
}

// getConfig returns a copy of a config value or ErrNotFound
func (s *Storage) getConfig(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return fmt.Errorf("config bucket: %w", ErrNotFound)
		}
		data := config.Get(key)
		if data == nil {
			return fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		// Make a copy since the slice is only valid during the transaction
		value = append([]byte(nil), data...)
		return nil
	})
	return value, err
}

// SetSalt stores the KDF salt. The salt is written once at setup and a
// second call is rejected, since a new salt would orphan the wrapped main key.
func (s *Storage) SetSalt(salt []byte) error {
	if _, err := s.GetSalt(); err == nil {
		return fmt.Errorf("salt already set")
	}
	return s.putConfig(ConfigSalt, salt)
}

// GetSalt retrieves the KDF salt
func (s *Storage) GetSalt() ([]byte, error) {
	return s.getConfig(ConfigSalt)
}

// SetIterations stores the KDF iterations
func (s *Storage) SetIterations(iterations uint32) error {
	iters := make([]byte, 4)
	binary.BigEndian.PutUint32(iters, iterations)
	return s.putConfig(ConfigIters, iters)
}

// GetIterations retrieves the KDF iterations
func (s *Storage) GetIterations() (uint32, error) {
	iters, err := s.getConfig(ConfigIters)
	if err != nil {
		return 0, err
	}
	if len(iters) != 4 {
		return 0, fmt.Errorf("iterations: malformed value")
	}
	return binary.BigEndian.Uint32(iters), nil
}

// SetPasswordHash stores the encoded password verifier
func (s *Storage) SetPasswordHash(hash string) error {
	return s.putConfig(ConfigPasswordHash, []byte(hash))
}

// GetPasswordHash retrieves the password verifier. ErrNotFound means the
// vault was never set up.
func (s *Storage) GetPasswordHash() (string, error) {
	hash, err := s.getConfig(ConfigPasswordHash)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// SetMainKeyBlob stores the main key wrapped under the KEK
func (s *Storage) SetMainKeyBlob(blob []byte) error {
	return s.putConfig(ConfigMainKey, blob)
}

// GetMainKeyBlob retrieves the wrapped main key
func (s *Storage) GetMainKeyBlob() ([]byte, error) {
	return s.getConfig(ConfigMainKey)
}

// GetModified retrieves the last modified timestamp
func (s *Storage) GetModified() (time.Time, error) {
	var modified time.Time
	data, err := s.getConfig(ConfigModified)
	if err != nil {
		return modified, err
	}
	return modified, modified.UnmarshalBinary(data)
}

// GetVaultID retrieves the vault ID from config bucket
func (s *Storage) GetVaultID() (string, error) {
	id, err := s.getConfig(ConfigVaultID)
	if err != nil {
		return "", err
	}
	return string(id), nil
}

// GetOrCreateVaultID retrieves existing vault ID or generates a new one
func (s *Storage) GetOrCreateVaultID() (string, error) {
	vaultID, err := s.GetVaultID()
	if err == nil {
		return vaultID, nil
	}

	vaultID = uuid.NewString()
	if err := s.putConfig(ConfigVaultID, []byte(vaultID)); err != nil {
		return "", err
	}
	return vaultID, nil
}

// PutMarker records an in-progress operation, replacing any marker for the
// same directory
func (s *Storage) PutMarker(m Marker) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		recovery, err := tx.CreateBucketIfNotExists(RecoveryBucket)
		if err != nil {
			return err
		}
		return recovery.Put([]byte(m.Directory), data)
	})
}

// GetMarker returns the marker for a directory, or nil if there is none
func (s *Storage) GetMarker(directory string) (*Marker, error) {
	var marker *Marker
	err := s.db.View(func(tx *bolt.Tx) error {
		recovery := tx.Bucket(RecoveryBucket)
		if recovery == nil {
			return nil
		}
		data := recovery.Get([]byte(directory))
		if data == nil {
			return nil
		}
		marker = &Marker{}
		return json.Unmarshal(data, marker)
	})
	return marker, err
}

// DeleteMarker removes the marker for a directory. Deleting a missing
// marker is not an error.
func (s *Storage) DeleteMarker(directory string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		recovery := tx.Bucket(RecoveryBucket)
		if recovery == nil {
			return nil
		}
		return recovery.Delete([]byte(directory))
	})
}

// ListMarkers returns every recorded marker
func (s *Storage) ListMarkers() ([]Marker, error) {
	var markers []Marker
	err := s.db.View(func(tx *bolt.Tx) error {
		recovery := tx.Bucket(RecoveryBucket)
		if recovery == nil {
			return nil
		}
		return recovery.ForEach(func(k, v []byte) error {
			var m Marker
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("marker %s: %w", k, err)
			}
			markers = append(markers, m)
			return nil
		})
	})
	return markers, err
}

// Compact creates a compacted copy of the database, removing unused space.
func (s *Storage) Compact() error {
	srcPath := s.db.Path()
	tmpPath := srcPath + ".compact"

	dst, err := bolt.Open(tmpPath, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return fmt.Errorf("failed to create compact database: %w", err)
	}

	err = s.db.View(func(srcTx *bolt.Tx) error {
		return dst.Update(func(dstTx *bolt.Tx) error {
			return srcTx.ForEach(func(name []byte, srcBucket *bolt.Bucket) error {
				dstBucket, err := dstTx.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				return srcBucket.ForEach(func(k, v []byte) error {
					return dstBucket.Put(k, v)
				})
			})
		})
	})

	if err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to copy data: %w", err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close compact database: %w", err)
	}

	if err := s.db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close source database: %w", err)
	}

	// Atomic replace
	backupPath := srcPath + ".backup"
	if err := os.Rename(srcPath, backupPath); err != nil {
		return fmt.Errorf("failed to backup original: %w", err)
	}
	if err := os.Rename(tmpPath, srcPath); err != nil {
		os.Rename(backupPath, srcPath) // rollback
		return fmt.Errorf("failed to replace database: %w", err)
	}
	os.Remove(backupPath)

	s.db, err = bolt.Open(srcPath, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return fmt.Errorf("failed to reopen database: %w", err)
	}

	return nil
}
