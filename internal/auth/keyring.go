package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gofrs/flock"
	"github.com/zalando/go-keyring"

	"github.com/timewarp/quickbooks-cli/internal/sdk"
)

const serviceName = "quickbooks-cli"

// lockTimeout is the maximum time to wait for the credentials file lock.
const lockTimeout = 2 * time.Second

// KeyringStore is a durable sdk.CredentialStore preferring the system
// keychain, with a flock-guarded plaintext file fallback. Two CLI
// invocations may race on the same realm; the file lock keeps the
// read-modify-write of credentials.json atomic across processes.
type KeyringStore struct {
	useKeyring  bool
	fallbackDir string
}

// NewKeyringStore creates a credential store rooted at fallbackDir.
// The QB_NO_KEYRING environment variable forces the file backend.
func NewKeyringStore(fallbackDir string) *KeyringStore {
	if os.Getenv("QB_NO_KEYRING") != "" {
		return &KeyringStore{useKeyring: false, fallbackDir: fallbackDir}
	}

	// Probe keyring availability
	testKey := serviceName + "::test"
	if err := keyring.Set(serviceName, testKey, "test"); err == nil {
		_ = keyring.Delete(serviceName, testKey) // Best-effort cleanup
		return &KeyringStore{useKeyring: true, fallbackDir: fallbackDir}
	}
	fmt.Fprintf(os.Stderr, "warning: system keyring unavailable, credentials stored in plaintext at %s\n",
		filepath.Join(fallbackDir, "credentials.json"))
	return &KeyringStore{useKeyring: false, fallbackDir: fallbackDir}
}

func key(realmID string) string {
	return serviceName + "::" + realmID
}

// Get retrieves credentials for the given realm.
func (s *KeyringStore) Get(realmID string) (*sdk.Credentials, error) {
	if s.useKeyring {
		return s.getFromKeyring(realmID)
	}
	return s.getFromFile(realmID)
}

// Put stores credentials for the given realm.
func (s *KeyringStore) Put(realmID string, creds *sdk.Credentials) error {
	if s.useKeyring {
		return s.putToKeyring(realmID, creds)
	}
	return s.putToFile(realmID, creds)
}

// Remove deletes credentials for the given realm.
func (s *KeyringStore) Remove(realmID string) error {
	if s.useKeyring {
		err := keyring.Delete(serviceName, key(realmID))
		if err != nil && err != keyring.ErrNotFound {
			return &sdk.StoreError{Operation: "remove", RealmID: realmID, Cause: err}
		}
		return nil
	}
	return s.removeFromFile(realmID)
}

// Keyring backend

func (s *KeyringStore) getFromKeyring(realmID string) (*sdk.Credentials, error) {
	data, err := keyring.Get(serviceName, key(realmID))
	if err != nil {
		return nil, sdk.ErrNotFound(realmID)
	}

	var creds sdk.Credentials
	if err := json.Unmarshal([]byte(data), &creds); err != nil {
		return nil, &sdk.StoreError{Operation: "get", RealmID: realmID, Message: "invalid credentials", Cause: err}
	}
	return &creds, nil
}

func (s *KeyringStore) putToKeyring(realmID string, creds *sdk.Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return &sdk.StoreError{Operation: "put", RealmID: realmID, Cause: err}
	}
	if err := keyring.Set(serviceName, key(realmID), string(data)); err != nil {
		return &sdk.StoreError{Operation: "put", RealmID: realmID, Cause: err}
	}
	return nil
}

// File backend

func (s *KeyringStore) credentialsPath() string {
	return filepath.Join(s.fallbackDir, "credentials.json")
}

func (s *KeyringStore) lockPath() string {
	return filepath.Join(s.fallbackDir, ".credentials.lock")
}

// withFileLock runs fn while holding an exclusive cross-process lock on
// the credentials file.
func (s *KeyringStore) withFileLock(fn func() error) error {
	if err := os.MkdirAll(s.fallbackDir, 0700); err != nil {
		return err
	}

	lock := flock.New(s.lockPath())
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, 25*time.Millisecond)
	if err != nil || !locked {
		return fmt.Errorf("could not lock credentials file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	return fn()
}

func (s *KeyringStore) loadAll() (map[string]*sdk.Credentials, error) {
	data, err := os.ReadFile(s.credentialsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*sdk.Credentials), nil
		}
		return nil, err
	}

	var all map[string]*sdk.Credentials
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	return all, nil
}

func (s *KeyringStore) saveAll(all map[string]*sdk.Credentials) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write with randomized temp file name
	tmpFile, err := os.CreateTemp(s.fallbackDir, "credentials-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	// Unix: rename atomically replaces the destination.
	// Windows: rename fails when destination exists.
	destPath := s.credentialsPath()
	if err := os.Rename(tmpPath, destPath); err != nil {
		if runtime.GOOS == "windows" {
			_ = os.Remove(destPath)
			return os.Rename(tmpPath, destPath)
		}
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *KeyringStore) getFromFile(realmID string) (*sdk.Credentials, error) {
	var creds *sdk.Credentials
	err := s.withFileLock(func() error {
		all, err := s.loadAll()
		if err != nil {
			return err
		}
		c, ok := all[realmID]
		if !ok {
			return sdk.ErrNotFound(realmID)
		}
		creds = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return creds, nil
}

func (s *KeyringStore) putToFile(realmID string, creds *sdk.Credentials) error {
	return s.withFileLock(func() error {
		all, err := s.loadAll()
		if err != nil {
			return err
		}
		all[realmID] = creds
		return s.saveAll(all)
	})
}

func (s *KeyringStore) removeFromFile(realmID string) error {
	return s.withFileLock(func() error {
		all, err := s.loadAll()
		if err != nil {
			return err
		}
		delete(all, realmID)
		return s.saveAll(all)
	})
}
