package domain

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestServiceRequiresStore(t *testing.T) {
	t.Parallel()

	svc := NewService(nil, nil, nil)
	if _, err := svc.UnreadCount(context.Background(), "user-1"); !errors.Is(err, ErrStoreNotConfigured) {
		t.Fatalf("expected ErrStoreNotConfigured, got %v", err)
	}
}

func TestCreateUserNormalizesInput(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	svc := NewService(store, fixedClock(baseTime), sequentialIDGenerator("user-1", "user-2"))
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, CreateUserInput{
		DisplayName: "  Ana   Lúcia ",
		Email:       " Ana@Example.COM ",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if user.ID != "user-1" || user.Role != RoleGuest || !user.Active {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.DisplayName != "Ana Lúcia" {
		t.Fatalf("display name = %q, want NFC collapsed name", user.DisplayName)
	}
	if user.Email != "ana@example.com" {
		t.Fatalf("email = %q, want case-folded address", user.Email)
	}
	if !user.CreatedAt.Equal(baseTime) {
		t.Fatalf("created_at = %v, want %v", user.CreatedAt, baseTime)
	}

	_, err = svc.CreateUser(ctx, CreateUserInput{DisplayName: "Other", Email: "ANA@example.com"})
	if !errors.Is(err, ErrUserAlreadyExists) {
		t.Fatalf("expected ErrUserAlreadyExists, got %v", err)
	}

	got, err := svc.GetUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.Email != user.Email {
		t.Fatalf("stored email = %q, want %q", got.Email, user.Email)
	}
}

func TestCreateUserValidation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	tests := []struct {
		name  string
		input CreateUserInput
		want  error
	}{
		{name: "blank name", input: CreateUserInput{DisplayName: "  ", Email: "a@example.com"}, want: ErrDisplayNameRequired},
		{name: "no at", input: CreateUserInput{DisplayName: "A", Email: "example.com"}, want: ErrInvalidEmail},
		{name: "no domain dot", input: CreateUserInput{DisplayName: "A", Email: "a@example"}, want: ErrInvalidEmail},
		{name: "unknown role", input: CreateUserInput{DisplayName: "A", Email: "a@example.com", Role: "owner"}, want: ErrInvalidRole},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateUser(context.Background(), tc.input); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateConversationRequiresKnownUsers(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	alice := mustCreateUser(t, svc, "alice")

	if _, err := svc.CreateConversation(context.Background(), alice.ID, []string{"ghost"}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	page, err := svc.ListConversations(context.Background(), alice.ID, 10, "")
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(page.Conversations) != 0 {
		t.Fatalf("expected failed create to leave no conversation, got %d", len(page.Conversations))
	}
}

func TestAddParticipantMembershipRules(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	alice := mustCreateUser(t, svc, "alice")
	bob := mustCreateUser(t, svc, "bob")
	carol := mustCreateUser(t, svc, "carol")
	conversation := mustCreateConversation(t, svc, alice.ID)

	if _, err := svc.AddParticipant(ctx, conversation.ID, carol.ID, bob.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected guest outsider to be forbidden, got %v", err)
	}
	if _, err := svc.AddParticipant(ctx, conversation.ID, alice.ID, bob.ID); err != nil {
		t.Fatalf("add bob: %v", err)
	}
	if _, err := svc.AddParticipant(ctx, conversation.ID, alice.ID, bob.ID); !errors.Is(err, ErrAlreadyParticipant) {
		t.Fatalf("expected ErrAlreadyParticipant, got %v", err)
	}
	if _, err := svc.AddParticipant(ctx, "missing", alice.ID, bob.ID); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}

	ok, err := svc.IsParticipant(ctx, conversation.ID, bob.ID)
	if err != nil || !ok {
		t.Fatalf("expected bob to be a participant, got %v, %v", ok, err)
	}
}

func TestAddParticipantAllowsHostOutsider(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	alice := mustCreateUser(t, svc, "alice")
	bob := mustCreateUser(t, svc, "bob")
	host, err := svc.CreateUser(ctx, CreateUserInput{DisplayName: "Host", Email: "host@example.com", Role: "host"})
	if err != nil {
		t.Fatalf("create host: %v", err)
	}
	conversation := mustCreateConversation(t, svc, alice.ID)

	participant, err := svc.AddParticipant(ctx, conversation.ID, host.ID, bob.ID)
	if err != nil {
		t.Fatalf("host add participant: %v", err)
	}
	if participant.UserID != bob.ID || participant.ConversationID != conversation.ID {
		t.Fatalf("unexpected participant: %+v", participant)
	}
}

func TestRemoveParticipantAndRejoin(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	alice := mustCreateUser(t, svc, "alice")
	bob := mustCreateUser(t, svc, "bob")
	conversation := mustCreateConversation(t, svc, alice.ID, bob.ID)

	if err := svc.RemoveParticipant(ctx, conversation.ID, bob.ID); err != nil {
		t.Fatalf("remove bob: %v", err)
	}
	if err := svc.RemoveParticipant(ctx, conversation.ID, bob.ID); !errors.Is(err, ErrNotAParticipant) {
		t.Fatalf("expected ErrNotAParticipant on second remove, got %v", err)
	}
	ok, err := svc.IsParticipant(ctx, conversation.ID, bob.ID)
	if err != nil || ok {
		t.Fatalf("expected bob to have left, got %v, %v", ok, err)
	}
	if _, err := svc.AddParticipant(ctx, conversation.ID, alice.ID, bob.ID); err != nil {
		t.Fatalf("rejoin bob: %v", err)
	}

	participants, err := svc.ListParticipants(ctx, conversation.ID, alice.ID)
	if err != nil {
		t.Fatalf("list participants: %v", err)
	}
	if len(participants) != 2 {
		t.Fatalf("expected two open participants, got %d", len(participants))
	}
	if _, err := svc.ListParticipants(ctx, conversation.ID, "stranger"); !errors.Is(err, ErrNotAParticipant) {
		t.Fatalf("expected ErrNotAParticipant for outsider, got %v", err)
	}
}

func TestPruneEmptyConversations(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	alice := mustCreateUser(t, svc, "alice")
	bob := mustCreateUser(t, svc, "bob")
	solo := mustCreateConversation(t, svc, alice.ID)
	shared := mustCreateConversation(t, svc, alice.ID, bob.ID)

	if err := svc.RemoveParticipant(ctx, solo.ID, alice.ID); err != nil {
		t.Fatalf("leave solo conversation: %v", err)
	}
	pruned, err := svc.PruneEmptyConversations(ctx)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("pruned = %d, want 1", pruned)
	}
	if _, err := svc.AddParticipant(ctx, solo.ID, alice.ID, alice.ID); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected pruned conversation to be gone, got %v", err)
	}
	if ok, err := svc.IsParticipant(ctx, shared.ID, bob.ID); err != nil || !ok {
		t.Fatalf("expected shared conversation to survive, got %v, %v", ok, err)
	}
}

func TestListConversationsPagesNewestFirst(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	alice := mustCreateUser(t, svc, "alice")
	first := mustCreateConversation(t, svc, alice.ID)
	second := mustCreateConversation(t, svc, alice.ID)
	third := mustCreateConversation(t, svc, alice.ID)

	pageOne, err := svc.ListConversations(ctx, alice.ID, 2, "")
	if err != nil {
		t.Fatalf("list page one: %v", err)
	}
	if len(pageOne.Conversations) != 2 || pageOne.Conversations[0].ID != third.ID || pageOne.Conversations[1].ID != second.ID {
		t.Fatalf("unexpected page one: %+v", pageOne.Conversations)
	}
	if pageOne.NextPageToken == "" {
		t.Fatal("expected next page token")
	}
	pageTwo, err := svc.ListConversations(ctx, alice.ID, 2, pageOne.NextPageToken)
	if err != nil {
		t.Fatalf("list page two: %v", err)
	}
	if len(pageTwo.Conversations) != 1 || pageTwo.Conversations[0].ID != first.ID {
		t.Fatalf("unexpected page two: %+v", pageTwo.Conversations)
	}
	if pageTwo.NextPageToken != "" {
		t.Fatalf("expected last page, got token %q", pageTwo.NextPageToken)
	}
}

func TestConcurrentAddParticipantOpensOneMembership(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	ctx := context.Background()
	alice := mustCreateUser(t, svc, "alice")
	bob := mustCreateUser(t, svc, "bob")
	conversation := mustCreateConversation(t, svc, alice.ID)

	const workers = 16
	var (
		mu      sync.Mutex
		added   int
		refused int
		wg      sync.WaitGroup
	)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddParticipant(ctx, conversation.ID, alice.ID, bob.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				added++
			case errors.Is(err, ErrAlreadyParticipant):
				refused++
			default:
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("add participant: %v", err)
	}

	if added != 1 || refused != workers-1 {
		t.Fatalf("added=%d refused=%d, want 1 and %d", added, refused, workers-1)
	}
	memberships, err := store.ListOpenMemberships(ctx, conversation.ID)
	if err != nil {
		t.Fatalf("list memberships: %v", err)
	}
	var bobRows int
	for _, membership := range memberships {
		if membership.UserID == bob.ID {
			bobRows++
		}
	}
	if bobRows != 1 {
		t.Fatalf("bob open memberships = %d, want 1", bobRows)
	}
}
