package local

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"todoapp/internal/kv"
)

// accountsKey is the key-value key holding the serialized account directory.
const accountsKey = "identity_local_accounts"

type snapshot struct {
	Accounts []Account         `json:"accounts"`
	Codes    []Code            `json:"codes"`
	Sessions []snapshotSession `json:"sessions"`
}

type snapshotSession struct {
	Session   Session `json:"session"`
	TokenHash string  `json:"token_hash"`
}

// KVRepository keeps accounts in memory and writes the whole directory to a
// kv.Store after every change. It suits the single-user file backend.
type KVRepository struct {
	mem   *InMemoryRepository
	store kv.Store
	mu    sync.Mutex
}

// NewKVRepository loads any directory previously saved in store.
func NewKVRepository(ctx context.Context, store kv.Store) (*KVRepository, error) {
	r := &KVRepository{mem: NewInMemoryRepository(), store: store}

	raw, ok, err := store.Get(ctx, accountsKey)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	if !ok {
		return r, nil
	}

	var snap snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	for _, account := range snap.Accounts {
		r.mem.accounts[account.ID] = account
		r.mem.byEmail[account.Email] = account.ID
	}
	for _, code := range snap.Codes {
		r.mem.codes[codeKey{code.AccountID, code.Purpose}] = code
	}
	for _, s := range snap.Sessions {
		r.mem.sessions[s.Session.ID] = sessionEntry{session: s.Session, tokenHash: s.TokenHash}
	}
	return r, nil
}

func (r *KVRepository) FindAccountByEmail(ctx context.Context, email string) (*Account, error) {
	return r.mem.FindAccountByEmail(ctx, email)
}

func (r *KVRepository) CreateAccount(ctx context.Context, account Account) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	created, err := r.mem.CreateAccount(ctx, account)
	if err != nil {
		return Account{}, err
	}
	return created, r.flush(ctx)
}

func (r *KVRepository) UpdateAccount(ctx context.Context, account Account) error {
	return r.mutate(ctx, func() error { return r.mem.UpdateAccount(ctx, account) })
}

func (r *KVRepository) SaveCode(ctx context.Context, code Code) error {
	return r.mutate(ctx, func() error { return r.mem.SaveCode(ctx, code) })
}

func (r *KVRepository) FindCode(ctx context.Context, accountID uuid.UUID, purpose CodePurpose) (*Code, error) {
	return r.mem.FindCode(ctx, accountID, purpose)
}

func (r *KVRepository) DeleteCode(ctx context.Context, accountID uuid.UUID, purpose CodePurpose) error {
	return r.mutate(ctx, func() error { return r.mem.DeleteCode(ctx, accountID, purpose) })
}

func (r *KVRepository) CreateSession(ctx context.Context, session Session, tokenHash string) error {
	return r.mutate(ctx, func() error { return r.mem.CreateSession(ctx, session, tokenHash) })
}

func (r *KVRepository) FindSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, *Account, error) {
	return r.mem.FindSessionByTokenHash(ctx, tokenHash)
}

func (r *KVRepository) DeleteSession(ctx context.Context, id uuid.UUID) error {
	return r.mutate(ctx, func() error { return r.mem.DeleteSession(ctx, id) })
}

func (r *KVRepository) DeleteAccountSessions(ctx context.Context, accountID uuid.UUID) error {
	return r.mutate(ctx, func() error { return r.mem.DeleteAccountSessions(ctx, accountID) })
}

func (r *KVRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed, err := r.mem.DeleteExpired(ctx, now)
	if err != nil || removed == 0 {
		return removed, err
	}
	return removed, r.flush(ctx)
}

func (r *KVRepository) mutate(ctx context.Context, fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := fn(); err != nil {
		return err
	}
	return r.flush(ctx)
}

// flush must be called with r.mu held.
func (r *KVRepository) flush(ctx context.Context) error {
	r.mem.mu.RLock()
	snap := snapshot{
		Accounts: make([]Account, 0, len(r.mem.accounts)),
		Codes:    make([]Code, 0, len(r.mem.codes)),
		Sessions: make([]snapshotSession, 0, len(r.mem.sessions)),
	}
	for _, account := range r.mem.accounts {
		snap.Accounts = append(snap.Accounts, account)
	}
	for _, code := range r.mem.codes {
		snap.Codes = append(snap.Codes, code)
	}
	for _, entry := range r.mem.sessions {
		snap.Sessions = append(snap.Sessions, snapshotSession{Session: entry.session, TokenHash: entry.tokenHash})
	}
	r.mem.mu.RUnlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode accounts: %w", err)
	}
	if err := r.store.Set(ctx, accountsKey, string(data)); err != nil {
		return fmt.Errorf("save accounts: %w", err)
	}
	return nil
}

var _ Repository = (*KVRepository)(nil)
