package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/threadline/internal/services/messaging/storage"
)

var baseTime = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestOpenIsIdempotentAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "messaging.db")
	first, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	seedUser(t, first, "u-1")
	if err := first.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	second, err := Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })
	if _, err := second.GetUser(context.Background(), "u-1"); err != nil {
		t.Fatalf("get user after reopen: %v", err)
	}
}

func TestPutUserRejectsDuplicateEmail(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seedUser(t, store, "u-1")

	err := store.PutUser(ctx, storage.UserRecord{
		ID: "u-2", DisplayName: "Other", Email: "u-1@example.com", Role: "guest", Active: true, CreatedAt: baseTime,
	})
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if _, err := store.GetUser(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenMembershipAllowsOneOpenIntervalPerPair(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seedUser(t, store, "u-1")
	seedConversation(t, store, "c-1", baseTime)

	membership := storage.MembershipRecord{ConversationID: "c-1", UserID: "u-1", JoinedAt: baseTime}
	if err := store.OpenMembership(ctx, membership); err != nil {
		t.Fatalf("open membership: %v", err)
	}
	if err := store.OpenMembership(ctx, membership); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	if err := store.CloseMembership(ctx, "c-1", "u-1", baseTime.Add(time.Minute)); err != nil {
		t.Fatalf("close membership: %v", err)
	}
	if err := store.CloseMembership(ctx, "c-1", "u-1", baseTime.Add(time.Minute)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound closing twice, got %v", err)
	}

	membership.JoinedAt = baseTime.Add(2 * time.Minute)
	if err := store.OpenMembership(ctx, membership); err != nil {
		t.Fatalf("rejoin after leaving: %v", err)
	}
	open, err := store.GetOpenMembership(ctx, "c-1", "u-1")
	if err != nil {
		t.Fatalf("get open membership: %v", err)
	}
	if !open.JoinedAt.Equal(membership.JoinedAt) || open.LeftAt != nil {
		t.Fatalf("unexpected open membership %+v", open)
	}
}

func TestPutMessageRejectsUnknownConversation(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	seedUser(t, store, "u-1")
	err := store.PutMessage(context.Background(), storage.MessageRecord{
		ID: "m-1", ConversationID: "missing", SenderID: "u-1", Body: "hi", SentAt: baseTime,
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestListMessagesPagesNewestFirst(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seedUser(t, store, "u-1")
	seedConversation(t, store, "c-1", baseTime)
	for i := 0; i < 5; i++ {
		seedMessage(t, store, fmt.Sprintf("m-%d", i), "c-1", "u-1", baseTime.Add(time.Duration(i)*time.Minute))
	}

	first, err := store.ListMessages(ctx, "c-1", 2, "")
	if err != nil {
		t.Fatalf("list first page: %v", err)
	}
	assertMessageIDs(t, first.Messages, "m-4", "m-3")
	if first.NextPageToken != "m-3" {
		t.Fatalf("next token = %q", first.NextPageToken)
	}

	second, err := store.ListMessages(ctx, "c-1", 2, first.NextPageToken)
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	assertMessageIDs(t, second.Messages, "m-2", "m-1")

	third, err := store.ListMessages(ctx, "c-1", 2, second.NextPageToken)
	if err != nil {
		t.Fatalf("list third page: %v", err)
	}
	assertMessageIDs(t, third.Messages, "m-0")
	if third.NextPageToken != "" {
		t.Fatalf("expected last page, got token %q", third.NextPageToken)
	}
}

func TestUnreadQueriesFollowMembershipAndReceipts(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seedUser(t, store, "alice")
	seedUser(t, store, "bob")
	seedConversation(t, store, "c-1", baseTime)
	seedMembership(t, store, "c-1", "alice")
	seedMembership(t, store, "c-1", "bob")
	seedMessage(t, store, "m-1", "c-1", "alice", baseTime.Add(time.Minute))
	seedMessage(t, store, "m-2", "c-1", "alice", baseTime.Add(2*time.Minute))
	seedMessage(t, store, "m-3", "c-1", "bob", baseTime.Add(3*time.Minute))

	assertUnread(t, store, "bob", 2)
	assertUnread(t, store, "alice", 1)

	created, err := store.PutReceipt(ctx, storage.ReceiptRecord{MessageID: "m-1", UserID: "bob", ReadAt: baseTime})
	if err != nil || !created {
		t.Fatalf("put receipt = %v, %v", created, err)
	}
	created, err = store.PutReceipt(ctx, storage.ReceiptRecord{MessageID: "m-1", UserID: "bob", ReadAt: baseTime.Add(time.Hour)})
	if err != nil || created {
		t.Fatalf("repeat receipt = %v, %v", created, err)
	}
	receipt, err := store.GetReceipt(ctx, "m-1", "bob")
	if err != nil {
		t.Fatalf("get receipt: %v", err)
	}
	if !receipt.ReadAt.Equal(baseTime) {
		t.Fatalf("repeat receipt must keep first read_at, got %v", receipt.ReadAt)
	}
	assertUnread(t, store, "bob", 1)

	page, err := store.ListUnread(ctx, "bob", 10, "")
	if err != nil {
		t.Fatalf("list unread: %v", err)
	}
	assertMessageIDs(t, page.Messages, "m-2")

	marked, err := store.MarkConversationRead(ctx, "c-1", "bob", baseTime.Add(time.Hour))
	if err != nil {
		t.Fatalf("mark conversation read: %v", err)
	}
	if marked != 1 {
		t.Fatalf("marked = %d, want 1", marked)
	}
	assertUnread(t, store, "bob", 0)

	if err := store.CloseMembership(ctx, "c-1", "alice", baseTime.Add(time.Hour)); err != nil {
		t.Fatalf("close membership: %v", err)
	}
	assertUnread(t, store, "alice", 0)
}

func TestDeleteUserMessagesCascadesDependents(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seedUser(t, store, "alice")
	seedUser(t, store, "bob")
	seedConversation(t, store, "c-1", baseTime)
	seedMembership(t, store, "c-1", "alice")
	seedMembership(t, store, "c-1", "bob")
	seedMessage(t, store, "m-1", "c-1", "alice", baseTime)
	if err := store.PutMessage(ctx, storage.MessageRecord{
		ID: "m-2", ConversationID: "c-1", SenderID: "bob", ParentID: "m-1", Body: "reply", SentAt: baseTime.Add(time.Minute),
	}); err != nil {
		t.Fatalf("put reply: %v", err)
	}
	if _, err := store.PutReceipt(ctx, storage.ReceiptRecord{MessageID: "m-1", UserID: "bob", ReadAt: baseTime}); err != nil {
		t.Fatalf("put receipt: %v", err)
	}
	if err := store.AppendHistory(ctx, storage.HistoryRecord{
		MessageID: "m-1", Action: storage.HistoryCreated, Content: "body m-1", ActorID: "alice", RecordedAt: baseTime,
	}); err != nil {
		t.Fatalf("append history: %v", err)
	}
	if err := store.PutNotification(ctx, storage.NotificationRecord{
		ID: "n-1", MessageID: "m-1", SenderID: "alice", RecipientID: "bob", CreatedAt: baseTime,
	}); err != nil {
		t.Fatalf("put notification: %v", err)
	}

	deleted, err := store.DeleteUserMessages(ctx, "alice")
	if err != nil {
		t.Fatalf("delete user messages: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
	if _, err := store.GetReceipt(ctx, "m-1", "bob"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected receipt cascade, got %v", err)
	}
	history, err := store.ListHistory(ctx, "m-1")
	if err != nil || len(history) != 0 {
		t.Fatalf("expected history cascade, got %v, %v", history, err)
	}
	notes, err := store.ListNotificationsForRecipient(ctx, "bob", 10)
	if err != nil || len(notes) != 0 {
		t.Fatalf("expected notification cascade, got %v, %v", notes, err)
	}
	reply, err := store.GetMessage(ctx, "m-2")
	if err != nil {
		t.Fatalf("get reply: %v", err)
	}
	if reply.ParentID != "" {
		t.Fatalf("expected orphaned reply parent cleared, got %q", reply.ParentID)
	}
}

func TestDeleteEmptyConversationsOnlyTouchesListedEmptyOnes(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seedUser(t, store, "alice")
	seedConversation(t, store, "c-empty", baseTime)
	seedConversation(t, store, "c-busy", baseTime)
	seedConversation(t, store, "c-other-empty", baseTime)
	seedMembership(t, store, "c-busy", "alice")

	deleted, err := store.DeleteEmptyConversations(ctx, []string{"c-empty", "c-busy"})
	if err != nil {
		t.Fatalf("delete empty conversations: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
	if _, err := store.GetConversation(ctx, "c-other-empty"); err != nil {
		t.Fatalf("unlisted conversation must survive: %v", err)
	}

	pruned, err := store.PruneEmptyConversations(ctx)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("pruned = %d, want 1", pruned)
	}
	if _, err := store.GetConversation(ctx, "c-busy"); err != nil {
		t.Fatalf("busy conversation must survive: %v", err)
	}
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.PutConversation(ctx, storage.ConversationRecord{ID: "c-1", CreatedAt: baseTime}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := store.GetConversation(ctx, "c-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected rollback, got %v", err)
	}
}

func TestNotificationDispatchLifecycle(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seedUser(t, store, "alice")
	seedUser(t, store, "bob")
	seedConversation(t, store, "c-1", baseTime)
	seedMessage(t, store, "m-1", "c-1", "alice", baseTime)
	note := storage.NotificationRecord{ID: "n-1", MessageID: "m-1", SenderID: "alice", RecipientID: "bob", CreatedAt: baseTime}
	if err := store.PutNotification(ctx, note); err != nil {
		t.Fatalf("put notification: %v", err)
	}
	note.ID = "n-2"
	if err := store.PutNotification(ctx, note); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected one notification per recipient, got %v", err)
	}

	pending, err := store.ListUndispatchedNotifications(ctx, 10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %v, %v", pending, err)
	}
	if err := store.MarkNotificationDispatched(ctx, "n-1", baseTime.Add(time.Second)); err != nil {
		t.Fatalf("mark dispatched: %v", err)
	}
	if err := store.MarkNotificationDispatched(ctx, "n-1", baseTime.Add(time.Second)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second dispatch, got %v", err)
	}
	pending, err = store.ListUndispatchedNotifications(ctx, 10)
	if err != nil || len(pending) != 0 {
		t.Fatalf("pending after dispatch = %v, %v", pending, err)
	}
}

func openTempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "messaging.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func seedUser(t *testing.T, store *Store, id string) {
	t.Helper()
	if err := store.PutUser(context.Background(), storage.UserRecord{
		ID: id, DisplayName: id, Email: id + "@example.com", Role: "guest", Active: true, CreatedAt: baseTime,
	}); err != nil {
		t.Fatalf("put user %s: %v", id, err)
	}
}

func seedConversation(t *testing.T, store *Store, id string, createdAt time.Time) {
	t.Helper()
	if err := store.PutConversation(context.Background(), storage.ConversationRecord{ID: id, CreatedAt: createdAt}); err != nil {
		t.Fatalf("put conversation %s: %v", id, err)
	}
}

func seedMembership(t *testing.T, store *Store, conversationID, userID string) {
	t.Helper()
	if err := store.OpenMembership(context.Background(), storage.MembershipRecord{
		ConversationID: conversationID, UserID: userID, JoinedAt: baseTime,
	}); err != nil {
		t.Fatalf("open membership %s/%s: %v", conversationID, userID, err)
	}
}

func seedMessage(t *testing.T, store *Store, id, conversationID, senderID string, sentAt time.Time) {
	t.Helper()
	if err := store.PutMessage(context.Background(), storage.MessageRecord{
		ID: id, ConversationID: conversationID, SenderID: senderID, Body: "body " + id, SentAt: sentAt,
	}); err != nil {
		t.Fatalf("put message %s: %v", id, err)
	}
}

func assertUnread(t *testing.T, store *Store, userID string, want int) {
	t.Helper()
	got, err := store.CountUnread(context.Background(), userID)
	if err != nil {
		t.Fatalf("count unread %s: %v", userID, err)
	}
	if got != want {
		t.Fatalf("unread(%s) = %d, want %d", userID, got, want)
	}
}

func assertMessageIDs(t *testing.T, messages []storage.MessageRecord, want ...string) {
	t.Helper()
	if len(messages) != len(want) {
		t.Fatalf("got %d messages, want %d", len(messages), len(want))
	}
	for i, message := range messages {
		if message.ID != want[i] {
			t.Fatalf("message[%d] = %s, want %s", i, message.ID, want[i])
		}
	}
}
