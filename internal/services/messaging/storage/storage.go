// Package storage defines the persistence contract for conversation state.
//
// Every backend exposes the same Tx surface both directly on the Store (one
// statement per call) and inside WithinTx, where all calls share one
// transaction that commits only when fn returns nil.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates an exclusive create hit a uniqueness constraint.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrConflict indicates a write referenced a record that does not exist.
	ErrConflict = errors.New("record conflict")
	// ErrTransient indicates the unit of work lost a race and may be retried.
	ErrTransient = errors.New("transient storage failure")
)

// HistoryAction identifies why a message snapshot was recorded.
type HistoryAction string

const (
	// HistoryCreated records the initial body of a message.
	HistoryCreated HistoryAction = "created"
	// HistoryEdited records a body after an edit.
	HistoryEdited HistoryAction = "edited"
)

// UserRecord stores one account.
type UserRecord struct {
	ID          string
	DisplayName string
	Email       string
	Role        string
	Active      bool
	CreatedAt   time.Time
}

// ConversationRecord stores one conversation.
type ConversationRecord struct {
	ID        string
	CreatedAt time.Time
}

// ConversationPage stores a paged conversation listing result.
type ConversationPage struct {
	Conversations []ConversationRecord
	NextPageToken string
}

// MembershipRecord stores one participation interval. LeftAt is nil while
// the membership is open.
type MembershipRecord struct {
	ConversationID string
	UserID         string
	JoinedAt       time.Time
	LeftAt         *time.Time
}

// MessageRecord stores one message. ReceiverID and ParentID are empty when unset.
type MessageRecord struct {
	ID             string
	ConversationID string
	SenderID       string
	ReceiverID     string
	ParentID       string
	Body           string
	SentAt         time.Time
	EditedAt       *time.Time
}

// MessagePage stores a paged message listing result.
type MessagePage struct {
	Messages      []MessageRecord
	NextPageToken string
}

// ReceiptRecord stores the fact that a user has read a message.
type ReceiptRecord struct {
	MessageID string
	UserID    string
	ReadAt    time.Time
}

// HistoryRecord stores one message body snapshot. ID is assigned by storage
// and increases with insertion order.
type HistoryRecord struct {
	ID         int64
	MessageID  string
	Action     HistoryAction
	Content    string
	ActorID    string
	RecordedAt time.Time
}

// NotificationRecord stores one per-recipient new-message notice.
type NotificationRecord struct {
	ID           string
	MessageID    string
	SenderID     string
	RecipientID  string
	CreatedAt    time.Time
	DispatchedAt *time.Time
}

// ConversationStats summarizes a user's conversation activity.
type ConversationStats struct {
	TotalConversations  int
	TotalMessages       int
	UnreadMessages      int
	ActiveConversations int
}

// UserStore persists accounts.
type UserStore interface {
	PutUser(ctx context.Context, record UserRecord) error
	GetUser(ctx context.Context, userID string) (UserRecord, error)
	DeleteUser(ctx context.Context, userID string) (int64, error)
}

// ConversationStore persists conversations.
type ConversationStore interface {
	PutConversation(ctx context.Context, record ConversationRecord) error
	GetConversation(ctx context.Context, conversationID string) (ConversationRecord, error)
	ListConversationsForUser(ctx context.Context, userID string, pageSize int, pageToken string) (ConversationPage, error)
	// DeleteEmptyConversations deletes the listed conversations that have no
	// open membership.
	DeleteEmptyConversations(ctx context.Context, conversationIDs []string) (int64, error)
	// PruneEmptyConversations deletes every conversation without an open membership.
	PruneEmptyConversations(ctx context.Context) (int64, error)
}

// MembershipStore persists participation intervals.
type MembershipStore interface {
	// OpenMembership returns ErrAlreadyExists when the pair already holds an
	// open membership.
	OpenMembership(ctx context.Context, record MembershipRecord) error
	GetOpenMembership(ctx context.Context, conversationID, userID string) (MembershipRecord, error)
	// CloseMembership returns ErrNotFound when no open membership exists.
	CloseMembership(ctx context.Context, conversationID, userID string, leftAt time.Time) error
	ListOpenMemberships(ctx context.Context, conversationID string) ([]MembershipRecord, error)
	ListUserConversationIDs(ctx context.Context, userID string) ([]string, error)
	CloseUserMemberships(ctx context.Context, userID string, leftAt time.Time) (int64, error)
	DeleteUserMemberships(ctx context.Context, userID string) (int64, error)
}

// MessageStore persists messages.
type MessageStore interface {
	PutMessage(ctx context.Context, record MessageRecord) error
	GetMessage(ctx context.Context, messageID string) (MessageRecord, error)
	UpdateMessageBody(ctx context.Context, messageID, body string, editedAt time.Time) error
	ListMessages(ctx context.Context, conversationID string, pageSize int, pageToken string) (MessagePage, error)
	ListReplies(ctx context.Context, parentID string) ([]MessageRecord, error)
	// DeleteUserMessages deletes messages sent or received by the user.
	DeleteUserMessages(ctx context.Context, userID string) (int64, error)
}

// ReceiptStore persists read receipts and answers unread queries.
//
// A message is unread for a user when the user holds an open membership in
// its conversation, did not send it, and has no receipt for it.
type ReceiptStore interface {
	// PutReceipt inserts a receipt and reports whether a new row was created.
	PutReceipt(ctx context.Context, record ReceiptRecord) (bool, error)
	GetReceipt(ctx context.Context, messageID, userID string) (ReceiptRecord, error)
	// MarkConversationRead inserts receipts for every unread message in the
	// conversation as one statement and returns the rows created.
	MarkConversationRead(ctx context.Context, conversationID, userID string, readAt time.Time) (int64, error)
	DeleteUserReceipts(ctx context.Context, userID string) (int64, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	ListUnread(ctx context.Context, userID string, pageSize int, pageToken string) (MessagePage, error)
	// ListAllUnread returns every unread message ordered by conversation and
	// newest first within it.
	ListAllUnread(ctx context.Context, userID string) ([]MessageRecord, error)
	ConversationStats(ctx context.Context, userID string, activeSince time.Time) (ConversationStats, error)
}

// HistoryStore persists message snapshots.
type HistoryStore interface {
	AppendHistory(ctx context.Context, record HistoryRecord) error
	ListHistory(ctx context.Context, messageID string) ([]HistoryRecord, error)
	DeleteActorHistory(ctx context.Context, actorID string) (int64, error)
}

// NotificationStore persists new-message notices.
type NotificationStore interface {
	// PutNotification returns ErrAlreadyExists when the recipient already has
	// a notice for the message.
	PutNotification(ctx context.Context, record NotificationRecord) error
	ListNotificationsForRecipient(ctx context.Context, recipientID string, limit int) ([]NotificationRecord, error)
	ListUndispatchedNotifications(ctx context.Context, limit int) ([]NotificationRecord, error)
	MarkNotificationDispatched(ctx context.Context, notificationID string, dispatchedAt time.Time) error
	// DeleteUserNotifications deletes notices sent to or by the user.
	DeleteUserNotifications(ctx context.Context, userID string) (int64, error)
}

// Tx is the full read/write surface available inside a unit of work.
type Tx interface {
	UserStore
	ConversationStore
	MembershipStore
	MessageStore
	ReceiptStore
	HistoryStore
	NotificationStore
}

// Store is a backend handle. Calls made directly on Store run outside any
// explicit transaction.
type Store interface {
	Tx
	// WithinTx runs fn in one transaction. A returned error rolls it back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

// TxRetrier is implemented by stores whose WithinTx already retries
// ErrTransient failures before returning them.
type TxRetrier interface {
	RetriesTransientTx() bool
}
