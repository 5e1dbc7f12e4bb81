package sdk

import (
	"errors"
	"sync"
)

// CredentialStore provides storage for OAuth credentials keyed by realm ID.
// Implementations can use an in-memory map, keychain, file storage, or
// other backends. Last write wins; implementations must be safe for
// concurrent use.
type CredentialStore interface {
	// Get retrieves the current credentials for the given realm.
	Get(realmID string) (*Credentials, error)

	// Put stores credentials for the given realm, replacing any
	// existing record.
	Put(realmID string, creds *Credentials) error

	// Remove deletes the credentials for the given realm.
	Remove(realmID string) error
}

// StoreError indicates a credential storage error.
type StoreError struct {
	Operation string // "get", "put", "remove"
	RealmID   string
	Message   string
	NotFound  bool
	Cause     error
}

func (e *StoreError) Error() string {
	msg := e.Operation + " credentials"
	if e.RealmID != "" {
		msg += " for realm " + e.RealmID
	}
	if e.Message != "" {
		msg += ": " + e.Message
	} else if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

// ErrNotFound reports a realm with no stored credentials.
func ErrNotFound(realmID string) *StoreError {
	return &StoreError{Operation: "get", RealmID: realmID, Message: "not found", NotFound: true}
}

// IsNotFound reports whether err is a missing-credentials store error.
func IsNotFound(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.NotFound
}

// MemoryStore is the default CredentialStore, a mutex-guarded map.
// Credentials are lost when the process exits.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]*Credentials
}

// NewMemoryStore creates an empty in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]*Credentials)}
}

// Get retrieves credentials for the given realm.
func (s *MemoryStore) Get(realmID string) (*Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	creds, ok := s.creds[realmID]
	if !ok {
		return nil, ErrNotFound(realmID)
	}
	return creds, nil
}

// Put stores credentials for the given realm.
func (s *MemoryStore) Put(realmID string, creds *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds[realmID] = creds
	return nil
}

// Remove deletes credentials for the given realm. Removing a realm that
// has no credentials is not an error.
func (s *MemoryStore) Remove(realmID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.creds, realmID)
	return nil
}
