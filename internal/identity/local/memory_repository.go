package local

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"todoapp/internal/identity"
)

type codeKey struct {
	accountID uuid.UUID
	purpose   CodePurpose
}

type sessionEntry struct {
	session   Session
	tokenHash string
}

// InMemoryRepository stores accounts in process memory, ideal for local development or tests.
type InMemoryRepository struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]Account
	byEmail  map[string]uuid.UUID
	codes    map[codeKey]Code
	sessions map[uuid.UUID]sessionEntry
}

// NewInMemoryRepository constructs an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		accounts: make(map[uuid.UUID]Account),
		byEmail:  make(map[string]uuid.UUID),
		codes:    make(map[codeKey]Code),
		sessions: make(map[uuid.UUID]sessionEntry),
	}
}

// FindAccountByEmail returns the account registered with email.
func (r *InMemoryRepository) FindAccountByEmail(_ context.Context, email string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, nil
	}
	account := r.accounts[id]
	return &account, nil
}

// CreateAccount stores a new account. Emails are unique.
func (r *InMemoryRepository) CreateAccount(_ context.Context, account Account) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[account.Email]; exists {
		return Account{}, identity.NewError("UsernameExistsException", identity.ErrUsernameExists, "An account with the given email already exists.")
	}
	r.accounts[account.ID] = account
	r.byEmail[account.Email] = account.ID
	return account, nil
}

// UpdateAccount replaces an existing account.
func (r *InMemoryRepository) UpdateAccount(_ context.Context, account Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[account.ID]; !ok {
		return identity.ErrUserNotFound
	}
	r.accounts[account.ID] = account
	return nil
}

// SaveCode stores a code, replacing any pending code with the same purpose.
func (r *InMemoryRepository) SaveCode(_ context.Context, code Code) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.codes[codeKey{code.AccountID, code.Purpose}] = code
	return nil
}

// FindCode returns the pending code for an account and purpose.
func (r *InMemoryRepository) FindCode(_ context.Context, accountID uuid.UUID, purpose CodePurpose) (*Code, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	code, ok := r.codes[codeKey{accountID, purpose}]
	if !ok {
		return nil, nil
	}
	return &code, nil
}

// DeleteCode removes a pending code.
func (r *InMemoryRepository) DeleteCode(_ context.Context, accountID uuid.UUID, purpose CodePurpose) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.codes, codeKey{accountID, purpose})
	return nil
}

// CreateSession stores a session under its token hash.
func (r *InMemoryRepository) CreateSession(_ context.Context, session Session, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[session.ID] = sessionEntry{session: session, tokenHash: tokenHash}
	return nil
}

// FindSessionByTokenHash looks up a session and its account by token hash.
func (r *InMemoryRepository) FindSessionByTokenHash(_ context.Context, tokenHash string) (*Session, *Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, entry := range r.sessions {
		if entry.tokenHash != tokenHash {
			continue
		}
		account, ok := r.accounts[entry.session.AccountID]
		if !ok {
			return nil, nil, nil
		}
		session := entry.session
		return &session, &account, nil
	}
	return nil, nil, nil
}

// DeleteSession removes a session.
func (r *InMemoryRepository) DeleteSession(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, id)
	return nil
}

// DeleteAccountSessions removes every session of an account.
func (r *InMemoryRepository) DeleteAccountSessions(_ context.Context, accountID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, entry := range r.sessions {
		if entry.session.AccountID == accountID {
			delete(r.sessions, id)
		}
	}
	return nil
}

// DeleteExpired removes expired sessions and codes.
func (r *InMemoryRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for id, entry := range r.sessions {
		if entry.session.ExpiresAt.Before(now) {
			delete(r.sessions, id)
			removed++
		}
	}
	for key, code := range r.codes {
		if code.ExpiresAt.Before(now) {
			delete(r.codes, key)
			removed++
		}
	}
	return removed, nil
}
