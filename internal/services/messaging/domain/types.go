package domain

import (
	"time"

	"github.com/louisbranch/threadline/internal/services/messaging/storage"
)

// Role grants conversation management rights.
type Role string

const (
	// RoleGuest is the default role.
	RoleGuest Role = "guest"
	// RoleHost may add participants to conversations they are not in.
	RoleHost Role = "host"
	// RoleAdmin has the same membership rights as a host.
	RoleAdmin Role = "admin"
)

// User is one account.
type User struct {
	ID          string
	DisplayName string
	Email       string
	Role        Role
	Active      bool
	CreatedAt   time.Time
}

// Conversation is a container for messages.
type Conversation struct {
	ID        string
	CreatedAt time.Time
}

// ConversationPage is a paged list of conversations.
type ConversationPage struct {
	Conversations []Conversation
	NextPageToken string
}

// Participant is one open membership.
type Participant struct {
	ConversationID string
	UserID         string
	JoinedAt       time.Time
}

// Message is one conversation entry.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	ReceiverID     string
	ParentID       string
	Body           string
	SentAt         time.Time
	EditedAt       *time.Time
}

// Edited reports whether the message body changed after sending.
func (m Message) Edited() bool {
	return m.EditedAt != nil
}

// MessagePage is a paged list of messages, newest first.
type MessagePage struct {
	Messages      []Message
	NextPageToken string
}

// HistoryEntry is one body snapshot.
type HistoryEntry struct {
	MessageID  string
	Action     string
	Content    string
	ActorID    string
	RecordedAt time.Time
}

// Notification is one new-message notice for a recipient.
type Notification struct {
	ID           string
	MessageID    string
	SenderID     string
	RecipientID  string
	CreatedAt    time.Time
	DispatchedAt *time.Time
}

// ConversationUnread groups a user's unread messages in one conversation.
type ConversationUnread struct {
	ConversationID string
	Count          int
	Messages       []Message
}

// Stats summarizes a user's conversation activity.
type Stats struct {
	TotalConversations  int
	TotalMessages       int
	UnreadMessages      int
	ActiveConversations int
}

// CascadeResult counts the rows removed by a user deletion.
type CascadeResult struct {
	Notifications int64
	Receipts      int64
	Messages      int64
	Memberships   int64
	Conversations int64
	History       int64
	UserDeleted   bool
}

func toUser(record storage.UserRecord) User {
	return User{
		ID:          record.ID,
		DisplayName: record.DisplayName,
		Email:       record.Email,
		Role:        Role(record.Role),
		Active:      record.Active,
		CreatedAt:   record.CreatedAt,
	}
}

func toConversation(record storage.ConversationRecord) Conversation {
	return Conversation{ID: record.ID, CreatedAt: record.CreatedAt}
}

func toParticipant(record storage.MembershipRecord) Participant {
	return Participant{ConversationID: record.ConversationID, UserID: record.UserID, JoinedAt: record.JoinedAt}
}

func toMessage(record storage.MessageRecord) Message {
	return Message{
		ID:             record.ID,
		ConversationID: record.ConversationID,
		SenderID:       record.SenderID,
		ReceiverID:     record.ReceiverID,
		ParentID:       record.ParentID,
		Body:           record.Body,
		SentAt:         record.SentAt,
		EditedAt:       record.EditedAt,
	}
}

func toMessages(records []storage.MessageRecord) []Message {
	messages := make([]Message, 0, len(records))
	for _, record := range records {
		messages = append(messages, toMessage(record))
	}
	return messages
}

func toMessagePage(page storage.MessagePage) MessagePage {
	return MessagePage{Messages: toMessages(page.Messages), NextPageToken: page.NextPageToken}
}

func toNotification(record storage.NotificationRecord) Notification {
	return Notification{
		ID:           record.ID,
		MessageID:    record.MessageID,
		SenderID:     record.SenderID,
		RecipientID:  record.RecipientID,
		CreatedAt:    record.CreatedAt,
		DispatchedAt: record.DispatchedAt,
	}
}
