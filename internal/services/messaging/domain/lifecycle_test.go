package domain

import (
	"context"
	"errors"
	"testing"

	"github.com/louisbranch/threadline/internal/services/messaging/storage"
)

func TestDeleteUserRemovesSoleConversationAndKeepsShared(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	ctx := context.Background()
	alice := mustCreateUser(t, svc, "alice")
	bob := mustCreateUser(t, svc, "bob")
	solo := mustCreateConversation(t, svc, alice.ID)
	shared := mustCreateConversation(t, svc, alice.ID, bob.ID)

	mustSend(t, svc, solo.ID, alice.ID, "note to self")
	fromAlice := mustSend(t, svc, shared.ID, alice.ID, "hi bob")
	fromBob := mustSend(t, svc, shared.ID, bob.ID, "hi alice")
	if _, err := svc.MarkRead(ctx, fromBob.ID, alice.ID); err != nil {
		t.Fatalf("alice mark read: %v", err)
	}
	assertUnread(t, svc, bob.ID, 1)

	result, err := svc.DeleteUser(ctx, alice.ID)
	if err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if !result.UserDeleted {
		t.Fatal("expected user row deleted")
	}
	if result.Messages != 2 || result.Conversations != 1 || result.Receipts != 1 {
		t.Fatalf("unexpected cascade result: %+v", result)
	}

	if _, err := store.GetConversation(ctx, solo.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected solo conversation deleted, got %v", err)
	}
	if _, err := store.GetConversation(ctx, shared.ID); err != nil {
		t.Fatalf("expected shared conversation to survive: %v", err)
	}
	if _, err := store.GetMessage(ctx, fromAlice.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected alice's message deleted, got %v", err)
	}
	if _, err := store.GetMessage(ctx, fromBob.ID); err != nil {
		t.Fatalf("expected bob's message kept: %v", err)
	}
	if _, err := store.GetReceipt(ctx, fromBob.ID, alice.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected alice's receipt deleted, got %v", err)
	}
	if _, err := svc.GetUser(ctx, alice.ID); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	notifications, err := svc.ListNotifications(ctx, bob.ID, 10)
	if err != nil {
		t.Fatalf("list bob notifications: %v", err)
	}
	if len(notifications) != 0 {
		t.Fatalf("expected notifications from alice removed, got %d", len(notifications))
	}
	assertUnread(t, svc, bob.ID, 0)
	participants, err := svc.ListParticipants(ctx, shared.ID, bob.ID)
	if err != nil {
		t.Fatalf("list participants: %v", err)
	}
	if len(participants) != 1 || participants[0].UserID != bob.ID {
		t.Fatalf("expected only bob left, got %+v", participants)
	}
}

func TestDeleteUserIsIdempotent(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	alice := mustCreateUser(t, svc, "alice")
	bob := mustCreateUser(t, svc, "bob")
	conversation := mustCreateConversation(t, svc, alice.ID, bob.ID)
	mustSend(t, svc, conversation.ID, alice.ID, "bye")

	if _, err := svc.DeleteUser(ctx, alice.ID); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	again, err := svc.DeleteUser(ctx, alice.ID)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if again != (CascadeResult{}) {
		t.Fatalf("expected empty second cascade, got %+v", again)
	}
}

func TestDeleteUserClearsRepliesParentLink(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	ctx := context.Background()
	alice := mustCreateUser(t, svc, "alice")
	bob := mustCreateUser(t, svc, "bob")
	conversation := mustCreateConversation(t, svc, alice.ID, bob.ID)
	root := mustSend(t, svc, conversation.ID, alice.ID, "question")
	reply, err := svc.SendMessage(ctx, SendMessageInput{ConversationID: conversation.ID, SenderID: bob.ID, Body: "answer", ParentID: root.ID})
	if err != nil {
		t.Fatalf("send reply: %v", err)
	}

	if _, err := svc.DeleteUser(ctx, alice.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	kept, err := store.GetMessage(ctx, reply.ID)
	if err != nil {
		t.Fatalf("get reply: %v", err)
	}
	if kept.ParentID != "" {
		t.Fatalf("expected parent link cleared, got %q", kept.ParentID)
	}
}

func TestDeleteUserInvalidatesAffectedCaches(t *testing.T) {
	t.Parallel()

	cache := newFakeCache()
	svc, _ := newTestService(t, WithUnreadCache(cache))
	alice := mustCreateUser(t, svc, "alice")
	bob := mustCreateUser(t, svc, "bob")
	conversation := mustCreateConversation(t, svc, alice.ID, bob.ID)
	mustSend(t, svc, conversation.ID, alice.ID, "hi")
	assertUnread(t, svc, bob.ID, 1)

	if _, err := svc.DeleteUser(context.Background(), alice.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if cache.invalidations(alice.ID) != 1 {
		t.Fatalf("expected deleted user invalidated, got %d", cache.invalidations(alice.ID))
	}
	assertUnread(t, svc, bob.ID, 0)
}

func TestDeleteUserRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	base := openTempStore(t)
	flaky := &flakyStore{Store: base}
	svc := NewService(flaky, steppingClock(baseTime), countingIDGenerator("id"), WithCascadeAttempts(3))
	alice := mustCreateUser(t, svc, "alice")

	flaky.failures = flaky.calls + 1
	result, err := svc.DeleteUser(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if !result.UserDeleted {
		t.Fatal("expected retry to delete the user")
	}
}

func TestDeleteUserGivesUpAfterAttempts(t *testing.T) {
	t.Parallel()

	base := openTempStore(t)
	flaky := &flakyStore{Store: base, failures: 100}
	svc := NewService(flaky, steppingClock(baseTime), countingIDGenerator("id"), WithCascadeAttempts(2))

	_, err := svc.DeleteUser(context.Background(), "user-1")
	if !errors.Is(err, storage.ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	if flaky.calls != 2 {
		t.Fatalf("expected two attempts, got %d", flaky.calls)
	}
}

func TestDeleteUserLeavesRetriesToRetryingStore(t *testing.T) {
	t.Parallel()

	base := openTempStore(t)
	flaky := &flakyStore{Store: base, failures: 100}
	svc := NewService(retryingFlakyStore{flaky}, steppingClock(baseTime), countingIDGenerator("id"), WithCascadeAttempts(4))

	_, err := svc.DeleteUser(context.Background(), "user-1")
	if !errors.Is(err, storage.ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	if flaky.calls != 1 {
		t.Fatalf("expected one cascade attempt, got %d", flaky.calls)
	}
}
