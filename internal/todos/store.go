// Package todos owns the active user's ordered todo collection and projects it
// into key-value storage after every change.
package todos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"todoapp/internal/kv"
)

// ErrNoActiveUser is returned by Persist before any user has been loaded.
var ErrNoActiveUser = errors.New("no active user")

// Recorder receives todo activity for metrics.
type Recorder interface {
	RecordTodoMutation(op string)
	RecordStorageFailure(op string)
}

type nopRecorder struct{}

func (nopRecorder) RecordTodoMutation(string)   {}
func (nopRecorder) RecordStorageFailure(string) {}

// Store holds the collection of the active user, newest first.
type Store struct {
	mu       sync.Mutex
	kv       kv.Store
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	recorder Recorder

	userID string
	items  []Item
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides time.Now for creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides item id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Store) {
		if r != nil {
			s.recorder = r
		}
	}
}

// NewStore creates a Store persisting into store.
func NewStore(store kv.Store, opts ...Option) *Store {
	s := &Store{
		kv:       store,
		logger:   slog.Default(),
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load makes userID the active user and reads its collection. Missing or
// unreadable data yields an empty collection; the previous user's items are
// always discarded.
func (s *Store) Load(ctx context.Context, userID string) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.userID = userID
	s.items = nil
	if userID == "" {
		return []Item{}
	}

	raw, ok, err := s.kv.Get(ctx, StorageKey(userID))
	if err != nil {
		s.logger.Warn("failed to read todos", "user_id", userID, "error", err)
		s.recorder.RecordStorageFailure("load")
		return []Item{}
	}
	if !ok {
		return []Item{}
	}

	items, err := decodeItems(raw)
	if err != nil {
		s.logger.Warn("ignoring unreadable todos", "user_id", userID, "error", err)
		s.recorder.RecordStorageFailure("load")
		return []Item{}
	}

	owned := make([]Item, 0, len(items))
	for _, item := range items {
		if item.UserID != userID {
			s.logger.Warn("dropping todo owned by another user", "user_id", userID, "todo_id", item.ID)
			continue
		}
		owned = append(owned, item)
	}
	s.items = owned
	return s.copyItems()
}

// Add prepends a new item. Blank text, or no active user, is a no-op.
func (s *Store) Add(ctx context.Context, text string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(text) == "" || s.userID == "" {
		return Item{}, false
	}

	item := Item{
		ID:        s.newID(),
		Text:      text,
		Completed: false,
		UserID:    s.userID,
		CreatedAt: s.now().UTC(),
	}
	s.items = append([]Item{item}, s.items...)
	s.recorder.RecordTodoMutation("add")
	s.persistAfterMutation(ctx)
	return item, true
}

// Toggle flips the completed flag of the item with id. Unknown ids are a no-op.
func (s *Store) Toggle(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].Completed = !s.items[i].Completed
			s.recorder.RecordTodoMutation("toggle")
			s.persistAfterMutation(ctx)
			return true
		}
	}
	return false
}

// Delete removes the item with id. Unknown ids are a no-op.
func (s *Store) Delete(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			s.recorder.RecordTodoMutation("delete")
			s.persistAfterMutation(ctx)
			return true
		}
	}
	return false
}

// ClearCompleted removes every completed item and returns how many went.
func (s *Store) ClearCompleted(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.items[:0]
	removed := 0
	for _, item := range s.items {
		if item.Completed {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	s.items = kept
	if removed > 0 {
		s.recorder.RecordTodoMutation("clear_completed")
		s.persistAfterMutation(ctx)
	}
	return removed
}

// Persist overwrites the stored collection of the active user.
func (s *Store) Persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(ctx)
}

// Summary derives counts from the current collection.
func (s *Store) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := Summary{Total: len(s.items)}
	for _, item := range s.items {
		if item.Completed {
			summary.Completed++
		}
	}
	summary.Pending = summary.Total - summary.Completed
	return summary
}

// Items returns a copy of the collection, newest first.
func (s *Store) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyItems()
}

// UserID returns the active user, or "" when none is loaded.
func (s *Store) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Reset forgets the active user and its in-memory collection.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = ""
	s.items = nil
}

func (s *Store) persistLocked(ctx context.Context) error {
	if s.userID == "" {
		return ErrNoActiveUser
	}
	raw, err := encodeItems(s.items)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, StorageKey(s.userID), raw); err != nil {
		return fmt.Errorf("persist todos: %w", err)
	}
	return nil
}

// persistAfterMutation keeps the in-memory state when the write fails.
func (s *Store) persistAfterMutation(ctx context.Context) {
	if err := s.persistLocked(ctx); err != nil {
		s.logger.Warn("failed to persist todos", "user_id", s.userID, "error", err, "quota_exceeded", errors.Is(err, kv.ErrQuotaExceeded))
		s.recorder.RecordStorageFailure("persist")
	}
}

func (s *Store) copyItems() []Item {
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}
