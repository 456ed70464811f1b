// Package credentials keeps the identity provider credential between runs so
// a restarted process can resume the previous session.
package credentials

import (
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Credential is what a provider hands back after a successful sign-in.
type Credential struct {
	Token    *oauth2.Token `json:"token"`
	IDToken  string        `json:"id_token,omitempty"`
	Username string        `json:"username,omitempty"`
	SavedAt  time.Time     `json:"saved_at"`
}

// Valid reports whether the credential holds an unexpired access token.
func (c *Credential) Valid() bool {
	return c != nil && c.Token.Valid()
}

// Store persists at most one credential.
type Store interface {
	// Load returns nil, nil when no credential is stored.
	Load() (*Credential, error)
	Save(cred *Credential) error
	Clear() error
}

// MemoryStore keeps the credential in process memory only.
type MemoryStore struct {
	mu   sync.RWMutex
	cred *Credential
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return nil, nil
	}
	cp := *s.cred
	return &cp, nil
}

func (s *MemoryStore) Save(cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cred
	s.cred = &cp
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = nil
	return nil
}
