package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/threadline/internal/platform/id"
	"github.com/louisbranch/threadline/internal/services/messaging/storage"
)

// These tests run against a live server and share its schema, so every test
// uses fresh random identifiers.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("THREADLINE_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("THREADLINE_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenRequiresDSN(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), " "); err == nil {
		t.Fatal("expected dsn error")
	}
}

func TestStoreRetriesTransientTx(t *testing.T) {
	t.Parallel()

	var store storage.Store = &Store{}
	retrier, ok := store.(storage.TxRetrier)
	if !ok || !retrier.RetriesTransientTx() {
		t.Fatal("expected postgres store to retry transient transactions itself")
	}
}

func TestClassifyLeavesPlainErrorsAlone(t *testing.T) {
	t.Parallel()

	plain := errors.New("boom")
	if got := classify(plain); got != plain {
		t.Fatalf("classify = %v", got)
	}
	if isRetryable(plain) {
		t.Fatal("plain error must not be retryable")
	}
}

func TestMembershipAndUnreadRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	alice := newID(t)
	bob := newID(t)
	conversation := newID(t)
	for _, user := range []string{alice, bob} {
		if err := store.PutUser(ctx, storage.UserRecord{
			ID: user, DisplayName: user, Email: user + "@example.com", Role: "guest", Active: true, CreatedAt: now,
		}); err != nil {
			t.Fatalf("put user: %v", err)
		}
	}
	if err := store.PutConversation(ctx, storage.ConversationRecord{ID: conversation, CreatedAt: now}); err != nil {
		t.Fatalf("put conversation: %v", err)
	}
	for _, user := range []string{alice, bob} {
		if err := store.OpenMembership(ctx, storage.MembershipRecord{ConversationID: conversation, UserID: user, JoinedAt: now}); err != nil {
			t.Fatalf("open membership: %v", err)
		}
	}
	err := store.OpenMembership(ctx, storage.MembershipRecord{ConversationID: conversation, UserID: bob, JoinedAt: now})
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := store.PutMessage(ctx, storage.MessageRecord{
			ID: newID(t), ConversationID: conversation, SenderID: alice, Body: "hello", SentAt: now.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("put message: %v", err)
		}
	}

	count, err := store.CountUnread(ctx, bob)
	if err != nil || count != 3 {
		t.Fatalf("unread = %d, %v", count, err)
	}
	page, err := store.ListUnread(ctx, bob, 2, "")
	if err != nil {
		t.Fatalf("list unread: %v", err)
	}
	if len(page.Messages) != 2 || page.NextPageToken == "" {
		t.Fatalf("unexpected first page %+v", page)
	}

	err = store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		marked, err := tx.MarkConversationRead(ctx, conversation, bob, now.Add(time.Minute))
		if err != nil {
			return err
		}
		if marked != 3 {
			t.Errorf("marked = %d, want 3", marked)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("mark conversation read: %v", err)
	}
	count, err = store.CountUnread(ctx, bob)
	if err != nil || count != 0 {
		t.Fatalf("unread after mark = %d, %v", count, err)
	}
}

func newID(t *testing.T) string {
	t.Helper()
	value, err := id.NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	return value
}
