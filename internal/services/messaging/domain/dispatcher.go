package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/louisbranch/threadline/internal/services/messaging/storage"
)

// Event is a lifecycle fact raised by a write path.
type Event interface {
	eventName() string
}

// MessageCreated is raised after a message row is inserted.
type MessageCreated struct {
	Message storage.MessageRecord
}

// MessageEdited is raised after a message body is replaced.
type MessageEdited struct {
	Message  storage.MessageRecord
	EditorID string
}

// UserDeleted requests the deletion cascade for one user.
type UserDeleted struct {
	UserID string
}

func (MessageCreated) eventName() string { return "message.created" }
func (MessageEdited) eventName() string  { return "message.edited" }
func (UserDeleted) eventName() string    { return "user.deleted" }

// Outcome reports what a dispatch wrote.
type Outcome struct {
	Notifications []storage.NotificationRecord
	History       *storage.HistoryRecord
	Cascade       CascadeResult
	// AffectedUsers lists users whose unread set may have changed.
	AffectedUsers []string
}

// Dispatcher applies lifecycle side effects inside the caller's transaction.
// Callers invoke it explicitly at each write site; there is no registry.
type Dispatcher struct {
	now   func() time.Time
	newID func() (string, error)
}

// NewDispatcher builds a dispatcher with the given clock and ID source.
func NewDispatcher(now func() time.Time, newID func() (string, error)) *Dispatcher {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Dispatcher{now: now, newID: newID}
}

// Dispatch applies the side effects of evt using tx.
func (d *Dispatcher) Dispatch(ctx context.Context, tx storage.Tx, evt Event) (Outcome, error) {
	if d == nil || d.newID == nil {
		return Outcome{}, ErrIDGeneratorNotConfigured
	}
	if tx == nil {
		return Outcome{}, ErrStoreNotConfigured
	}
	switch e := evt.(type) {
	case MessageCreated:
		return d.onMessageCreated(ctx, tx, e)
	case MessageEdited:
		return d.onMessageEdited(ctx, tx, e)
	case UserDeleted:
		return d.onUserDeleted(ctx, tx, e)
	default:
		return Outcome{}, fmt.Errorf("unsupported event %T", evt)
	}
}

// onMessageCreated records the created snapshot and one notification per
// recipient: the receiver when set, otherwise every other open participant.
func (d *Dispatcher) onMessageCreated(ctx context.Context, tx storage.Tx, e MessageCreated) (Outcome, error) {
	message := e.Message
	history := storage.HistoryRecord{
		MessageID:  message.ID,
		Action:     storage.HistoryCreated,
		Content:    message.Body,
		ActorID:    message.SenderID,
		RecordedAt: message.SentAt,
	}
	if err := tx.AppendHistory(ctx, history); err != nil {
		return Outcome{}, fmt.Errorf("record created history: %w", err)
	}

	members, err := tx.ListOpenMemberships(ctx, message.ConversationID)
	if err != nil {
		return Outcome{}, fmt.Errorf("list recipients: %w", err)
	}
	var recipients []string
	var affected []string
	for _, member := range members {
		if member.UserID == message.SenderID {
			continue
		}
		affected = append(affected, member.UserID)
		if message.ReceiverID == "" || member.UserID == message.ReceiverID {
			recipients = append(recipients, member.UserID)
		}
	}

	outcome := Outcome{History: &history, AffectedUsers: affected}
	for _, recipient := range recipients {
		notificationID, err := d.newID()
		if err != nil {
			return Outcome{}, err
		}
		notification := storage.NotificationRecord{
			ID:          notificationID,
			MessageID:   message.ID,
			SenderID:    message.SenderID,
			RecipientID: recipient,
			CreatedAt:   message.SentAt,
		}
		if err := tx.PutNotification(ctx, notification); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				continue
			}
			return Outcome{}, fmt.Errorf("put notification: %w", err)
		}
		outcome.Notifications = append(outcome.Notifications, notification)
	}
	return outcome, nil
}

func (d *Dispatcher) onMessageEdited(ctx context.Context, tx storage.Tx, e MessageEdited) (Outcome, error) {
	recordedAt := d.now()
	if e.Message.EditedAt != nil {
		recordedAt = *e.Message.EditedAt
	}
	actor := e.EditorID
	if actor == "" {
		actor = e.Message.SenderID
	}
	history := storage.HistoryRecord{
		MessageID:  e.Message.ID,
		Action:     storage.HistoryEdited,
		Content:    e.Message.Body,
		ActorID:    actor,
		RecordedAt: recordedAt,
	}
	if err := tx.AppendHistory(ctx, history); err != nil {
		return Outcome{}, fmt.Errorf("record edited history: %w", err)
	}
	return Outcome{History: &history}, nil
}

// onUserDeleted runs the ordered cascade. Every step is a filtered bulk
// delete, so re-running it after a partial or complete run is harmless.
func (d *Dispatcher) onUserDeleted(ctx context.Context, tx storage.Tx, e UserDeleted) (Outcome, error) {
	userID := e.UserID
	var result CascadeResult

	// Captured before memberships go away so empty conversations can be found.
	conversationIDs, err := tx.ListUserConversationIDs(ctx, userID)
	if err != nil {
		return Outcome{}, fmt.Errorf("list user conversations: %w", err)
	}
	affected := map[string]struct{}{}
	for _, conversationID := range conversationIDs {
		members, err := tx.ListOpenMemberships(ctx, conversationID)
		if err != nil {
			return Outcome{}, fmt.Errorf("list conversation members: %w", err)
		}
		for _, member := range members {
			if member.UserID != userID {
				affected[member.UserID] = struct{}{}
			}
		}
	}

	steps := []struct {
		name string
		run  func() (int64, error)
		into *int64
	}{
		{"delete notifications", func() (int64, error) { return tx.DeleteUserNotifications(ctx, userID) }, &result.Notifications},
		{"delete receipts", func() (int64, error) { return tx.DeleteUserReceipts(ctx, userID) }, &result.Receipts},
		{"delete messages", func() (int64, error) { return tx.DeleteUserMessages(ctx, userID) }, &result.Messages},
		{"close memberships", func() (int64, error) { return tx.CloseUserMemberships(ctx, userID, d.now()) }, nil},
		{"delete memberships", func() (int64, error) { return tx.DeleteUserMemberships(ctx, userID) }, &result.Memberships},
		{"delete empty conversations", func() (int64, error) { return tx.DeleteEmptyConversations(ctx, conversationIDs) }, &result.Conversations},
		{"delete history", func() (int64, error) { return tx.DeleteActorHistory(ctx, userID) }, &result.History},
	}
	for _, step := range steps {
		n, err := step.run()
		if err != nil {
			return Outcome{}, fmt.Errorf("%s: %w", step.name, err)
		}
		if step.into != nil {
			*step.into = n
		}
	}

	deleted, err := tx.DeleteUser(ctx, userID)
	if err != nil {
		return Outcome{}, fmt.Errorf("delete user: %w", err)
	}
	result.UserDeleted = deleted > 0

	users := make([]string, 0, len(affected)+1)
	users = append(users, userID)
	for other := range affected {
		users = append(users, other)
	}
	return Outcome{Cascade: result, AffectedUsers: users}, nil
}
