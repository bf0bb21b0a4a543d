package domain

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/threadline/internal/services/messaging/storage"
	"github.com/louisbranch/threadline/internal/services/messaging/storage/sqlite"
)

var baseTime = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

// steppingClock advances one second per reading so writes get distinct,
// ordered timestamps.
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func sequentialIDGenerator(ids ...string) func() (string, error) {
	queue := append([]string(nil), ids...)
	index := 0
	return func() (string, error) {
		if index >= len(queue) {
			return "", ErrIDGeneratorExhausted
		}
		value := queue[index]
		index++
		return value, nil
	}
}

func countingIDGenerator(prefix string) func() (string, error) {
	var mu sync.Mutex
	next := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		next++
		return fmt.Sprintf("%s-%04d", prefix, next), nil
	}
}

func openTempStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "messaging.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestService(t *testing.T, opts ...Option) (*Service, *sqlite.Store) {
	t.Helper()
	store := openTempStore(t)
	return NewService(store, steppingClock(baseTime), countingIDGenerator("id"), opts...), store
}

func mustCreateUser(t *testing.T, svc *Service, name string) User {
	t.Helper()
	user, err := svc.CreateUser(context.Background(), CreateUserInput{
		DisplayName: name,
		Email:       name + "@example.com",
	})
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return user
}

func mustCreateConversation(t *testing.T, svc *Service, creator string, others ...string) Conversation {
	t.Helper()
	conversation, err := svc.CreateConversation(context.Background(), creator, others)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return conversation
}

func mustSend(t *testing.T, svc *Service, conversationID, senderID, body string) Message {
	t.Helper()
	message, err := svc.SendMessage(context.Background(), SendMessageInput{
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
	})
	if err != nil {
		t.Fatalf("send %q: %v", body, err)
	}
	return message
}

func assertUnread(t *testing.T, svc *Service, userID string, want int) {
	t.Helper()
	got, err := svc.UnreadCount(context.Background(), userID)
	if err != nil {
		t.Fatalf("unread count for %s: %v", userID, err)
	}
	if got != want {
		t.Fatalf("unread count for %s = %d, want %d", userID, got, want)
	}
}

// fakeCache records cache traffic in memory and enforces the generation
// guard the same way the Redis cache does.
type fakeCache struct {
	mu          sync.Mutex
	counts      map[string]int
	generations map[string]int64
	gets        int
	invalidated map[string]int

	// beforeSet runs once, outside the lock, ahead of the next fill.
	beforeSet func()
	// failInvalidations fails that many InvalidateUnread calls first.
	failInvalidations int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		counts:      map[string]int{},
		generations: map[string]int64{},
		invalidated: map[string]int{},
	}
}

func (c *fakeCache) GetUnreadCount(_ context.Context, userID string) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	count, ok := c.counts[userID]
	return count, ok, nil
}

func (c *fakeCache) UnreadGeneration(_ context.Context, userID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[userID], nil
}

func (c *fakeCache) SetUnreadCount(_ context.Context, userID string, count int, generation int64) (bool, error) {
	c.mu.Lock()
	hook := c.beforeSet
	c.beforeSet = nil
	c.mu.Unlock()
	if hook != nil {
		hook()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[userID] != generation {
		return false, nil
	}
	c.counts[userID] = count
	return true, nil
}

func (c *fakeCache) InvalidateUnread(_ context.Context, userIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failInvalidations > 0 {
		c.failInvalidations--
		return errors.New("cache unavailable")
	}
	for _, userID := range userIDs {
		delete(c.counts, userID)
		c.generations[userID]++
		c.invalidated[userID]++
	}
	return nil
}

func (c *fakeCache) cached(userID string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	count, ok := c.counts[userID]
	return count, ok
}

func (c *fakeCache) invalidations(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidated[userID]
}

// flakyStore fails the first failures transactions with ErrTransient.
type flakyStore struct {
	storage.Store
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *flakyStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	s.mu.Unlock()
	if fail {
		return fmt.Errorf("%w: database is locked", storage.ErrTransient)
	}
	return s.Store.WithinTx(ctx, fn)
}

var errReplay = errors.New("replay attempt")

// replayingStore rolls back the first transaction after fn succeeds and then
// runs fn again, the way a store retrying a serialization failure does.
type replayingStore struct {
	storage.Store
	mu       sync.Mutex
	replayed bool
}

func (s *replayingStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	s.mu.Lock()
	replay := !s.replayed
	s.replayed = true
	s.mu.Unlock()
	if replay {
		err := s.Store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			if err := fn(ctx, tx); err != nil {
				return err
			}
			return errReplay
		})
		if !errors.Is(err, errReplay) {
			return err
		}
	}
	return s.Store.WithinTx(ctx, fn)
}

// retryingFlakyStore is a flakyStore that reports it retries transient
// failures inside WithinTx.
type retryingFlakyStore struct {
	*flakyStore
}

func (retryingFlakyStore) RetriesTransientTx() bool { return true }
