package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/louisbranch/threadline/internal/services/messaging/storage"
)

const messageColumns = `m.id, m.conversation_id, m.sender_id, m.receiver_id, m.parent_id, m.body, m.sent_at, m.edited_at`

// unreadFrom selects messages unread by the user bound to $1.
const unreadFrom = `
FROM messages m
JOIN conversation_participants p
  ON p.conversation_id = m.conversation_id AND p.user_id = $1 AND p.left_at IS NULL
WHERE m.sender_id <> $1
  AND NOT EXISTS (
    SELECT 1 FROM message_read_receipts r
    WHERE r.message_id = m.id AND r.user_id = $1
  )`

// PutUser inserts one account.
func (q *queries) PutUser(ctx context.Context, record storage.UserRecord) error {
	if err := q.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	_, err := q.db.Exec(ctx, `
INSERT INTO users (id, display_name, email, role, active, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`, strings.TrimSpace(record.ID), record.DisplayName, record.Email, record.Role, record.Active, record.CreatedAt.UTC())
	if err != nil {
		return classify(fmt.Errorf("put user: %w", err))
	}
	return nil
}

// GetUser returns one account by id.
func (q *queries) GetUser(ctx context.Context, userID string) (storage.UserRecord, error) {
	if err := q.ready(ctx); err != nil {
		return storage.UserRecord{}, err
	}
	var record storage.UserRecord
	err := q.db.QueryRow(ctx, `
SELECT id, display_name, email, role, active, created_at FROM users WHERE id = $1
`, strings.TrimSpace(userID)).Scan(&record.ID, &record.DisplayName, &record.Email, &record.Role, &record.Active, &record.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.UserRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.UserRecord{}, fmt.Errorf("get user: %w", err)
	}
	record.CreatedAt = record.CreatedAt.UTC()
	return record, nil
}

// DeleteUser deletes the account row.
func (q *queries) DeleteUser(ctx context.Context, userID string) (int64, error) {
	return q.execCount(ctx, "delete user", `DELETE FROM users WHERE id = $1`, strings.TrimSpace(userID))
}

// PutConversation inserts one conversation.
func (q *queries) PutConversation(ctx context.Context, record storage.ConversationRecord) error {
	if err := q.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("conversation id is required")
	}
	_, err := q.db.Exec(ctx, `INSERT INTO conversations (id, created_at) VALUES ($1, $2)`,
		strings.TrimSpace(record.ID), record.CreatedAt.UTC())
	if err != nil {
		return classify(fmt.Errorf("put conversation: %w", err))
	}
	return nil
}

// GetConversation returns one conversation by id.
func (q *queries) GetConversation(ctx context.Context, conversationID string) (storage.ConversationRecord, error) {
	if err := q.ready(ctx); err != nil {
		return storage.ConversationRecord{}, err
	}
	var record storage.ConversationRecord
	err := q.db.QueryRow(ctx, `SELECT id, created_at FROM conversations WHERE id = $1`,
		strings.TrimSpace(conversationID)).Scan(&record.ID, &record.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ConversationRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.ConversationRecord{}, fmt.Errorf("get conversation: %w", err)
	}
	record.CreatedAt = record.CreatedAt.UTC()
	return record, nil
}

// ListConversationsForUser pages open conversations newest first.
func (q *queries) ListConversationsForUser(ctx context.Context, userID string, pageSize int, pageToken string) (storage.ConversationPage, error) {
	if err := q.ready(ctx); err != nil {
		return storage.ConversationPage{}, err
	}
	if strings.TrimSpace(userID) == "" {
		return storage.ConversationPage{}, fmt.Errorf("user id is required")
	}
	if pageSize <= 0 {
		return storage.ConversationPage{}, fmt.Errorf("page size must be greater than zero")
	}

	sql := `
SELECT c.id, c.created_at
FROM conversations c
JOIN conversation_participants p ON p.conversation_id = c.id
WHERE p.user_id = $1 AND p.left_at IS NULL`
	args := []any{strings.TrimSpace(userID)}
	if token := strings.TrimSpace(pageToken); token != "" {
		cursor, err := q.GetConversation(ctx, token)
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ConversationPage{}, nil
		}
		if err != nil {
			return storage.ConversationPage{}, err
		}
		sql += ` AND (c.created_at, c.id) < ($2, $3)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	sql += ` ORDER BY c.created_at DESC, c.id DESC LIMIT ` + bind(len(args)+1)
	args = append(args, pageSize+1)

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return storage.ConversationPage{}, fmt.Errorf("list conversations: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.ConversationRecord, error) {
		var record storage.ConversationRecord
		err := row.Scan(&record.ID, &record.CreatedAt)
		record.CreatedAt = record.CreatedAt.UTC()
		return record, err
	})
	if err != nil {
		return storage.ConversationPage{}, fmt.Errorf("scan conversation rows: %w", err)
	}
	page := storage.ConversationPage{Conversations: records}
	if len(page.Conversations) > pageSize {
		page.NextPageToken = page.Conversations[pageSize-1].ID
		page.Conversations = page.Conversations[:pageSize]
	}
	return page, nil
}

// DeleteEmptyConversations deletes the listed conversations left without an
// open membership.
func (q *queries) DeleteEmptyConversations(ctx context.Context, conversationIDs []string) (int64, error) {
	if len(conversationIDs) == 0 {
		return 0, q.ready(ctx)
	}
	return q.execCount(ctx, "delete empty conversations", `
DELETE FROM conversations c
WHERE c.id = ANY($1)
  AND NOT EXISTS (
    SELECT 1 FROM conversation_participants p
    WHERE p.conversation_id = c.id AND p.left_at IS NULL
  )
`, conversationIDs)
}

// PruneEmptyConversations deletes every conversation without an open membership.
func (q *queries) PruneEmptyConversations(ctx context.Context) (int64, error) {
	return q.execCount(ctx, "prune empty conversations", `
DELETE FROM conversations c
WHERE NOT EXISTS (
    SELECT 1 FROM conversation_participants p
    WHERE p.conversation_id = c.id AND p.left_at IS NULL
)
`)
}

// OpenMembership opens a participation interval.
func (q *queries) OpenMembership(ctx context.Context, record storage.MembershipRecord) error {
	if err := q.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(record.ConversationID) == "" || strings.TrimSpace(record.UserID) == "" {
		return fmt.Errorf("conversation id and user id are required")
	}
	_, err := q.db.Exec(ctx, `
INSERT INTO conversation_participants (conversation_id, user_id, joined_at) VALUES ($1, $2, $3)
`, strings.TrimSpace(record.ConversationID), strings.TrimSpace(record.UserID), record.JoinedAt.UTC())
	if err != nil {
		return classify(fmt.Errorf("open membership: %w", err))
	}
	return nil
}

// GetOpenMembership returns the open interval for a pair.
func (q *queries) GetOpenMembership(ctx context.Context, conversationID, userID string) (storage.MembershipRecord, error) {
	if err := q.ready(ctx); err != nil {
		return storage.MembershipRecord{}, err
	}
	var record storage.MembershipRecord
	err := q.db.QueryRow(ctx, `
SELECT conversation_id, user_id, joined_at, left_at
FROM conversation_participants
WHERE conversation_id = $1 AND user_id = $2 AND left_at IS NULL
`, strings.TrimSpace(conversationID), strings.TrimSpace(userID)).Scan(&record.ConversationID, &record.UserID, &record.JoinedAt, &record.LeftAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.MembershipRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.MembershipRecord{}, fmt.Errorf("get membership: %w", err)
	}
	record.JoinedAt = record.JoinedAt.UTC()
	return record, nil
}

// CloseMembership sets left_at on the open interval for a pair.
func (q *queries) CloseMembership(ctx context.Context, conversationID, userID string, leftAt time.Time) error {
	affected, err := q.execCount(ctx, "close membership", `
UPDATE conversation_participants SET left_at = $3
WHERE conversation_id = $1 AND user_id = $2 AND left_at IS NULL
`, strings.TrimSpace(conversationID), strings.TrimSpace(userID), leftAt.UTC())
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListOpenMemberships returns current participants in join order.
func (q *queries) ListOpenMemberships(ctx context.Context, conversationID string) ([]storage.MembershipRecord, error) {
	if err := q.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := q.db.Query(ctx, `
SELECT conversation_id, user_id, joined_at, left_at
FROM conversation_participants
WHERE conversation_id = $1 AND left_at IS NULL
ORDER BY joined_at ASC, id ASC
`, strings.TrimSpace(conversationID))
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.MembershipRecord, error) {
		var record storage.MembershipRecord
		err := row.Scan(&record.ConversationID, &record.UserID, &record.JoinedAt, &record.LeftAt)
		record.JoinedAt = record.JoinedAt.UTC()
		return record, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan membership rows: %w", err)
	}
	return records, nil
}

// ListUserConversationIDs returns every conversation the user ever joined.
func (q *queries) ListUserConversationIDs(ctx context.Context, userID string) ([]string, error) {
	if err := q.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := q.db.Query(ctx, `
SELECT DISTINCT conversation_id FROM conversation_participants WHERE user_id = $1 ORDER BY conversation_id
`, strings.TrimSpace(userID))
	if err != nil {
		return nil, fmt.Errorf("list user conversations: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan conversation ids: %w", err)
	}
	return ids, nil
}

// CloseUserMemberships closes every open interval held by the user.
func (q *queries) CloseUserMemberships(ctx context.Context, userID string, leftAt time.Time) (int64, error) {
	return q.execCount(ctx, "close user memberships",
		`UPDATE conversation_participants SET left_at = $2 WHERE user_id = $1 AND left_at IS NULL`,
		strings.TrimSpace(userID), leftAt.UTC())
}

// DeleteUserMemberships deletes every interval held by the user.
func (q *queries) DeleteUserMemberships(ctx context.Context, userID string) (int64, error) {
	return q.execCount(ctx, "delete user memberships",
		`DELETE FROM conversation_participants WHERE user_id = $1`, strings.TrimSpace(userID))
}

// PutMessage inserts one message.
func (q *queries) PutMessage(ctx context.Context, record storage.MessageRecord) error {
	if err := q.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("message id is required")
	}
	if strings.TrimSpace(record.Body) == "" {
		return fmt.Errorf("message body is required")
	}
	_, err := q.db.Exec(ctx, `
INSERT INTO messages (id, conversation_id, sender_id, receiver_id, parent_id, body, sent_at, edited_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`,
		strings.TrimSpace(record.ID),
		strings.TrimSpace(record.ConversationID),
		strings.TrimSpace(record.SenderID),
		nullableString(record.ReceiverID),
		nullableString(record.ParentID),
		record.Body,
		record.SentAt.UTC(),
		utcPtr(record.EditedAt),
	)
	if err != nil {
		return classify(fmt.Errorf("put message: %w", err))
	}
	return nil
}

// GetMessage returns one message by id.
func (q *queries) GetMessage(ctx context.Context, messageID string) (storage.MessageRecord, error) {
	if err := q.ready(ctx); err != nil {
		return storage.MessageRecord{}, err
	}
	rows, err := q.db.Query(ctx, `SELECT `+messageColumns+` FROM messages m WHERE m.id = $1`, strings.TrimSpace(messageID))
	if err != nil {
		return storage.MessageRecord{}, fmt.Errorf("get message: %w", err)
	}
	record, err := pgx.CollectExactlyOneRow(rows, scanMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.MessageRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.MessageRecord{}, fmt.Errorf("get message: %w", err)
	}
	return record, nil
}

// UpdateMessageBody replaces the body and stamps edited_at.
func (q *queries) UpdateMessageBody(ctx context.Context, messageID, body string, editedAt time.Time) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("message body is required")
	}
	affected, err := q.execCount(ctx, "update message",
		`UPDATE messages SET body = $2, edited_at = $3 WHERE id = $1`,
		strings.TrimSpace(messageID), body, editedAt.UTC())
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListMessages pages a conversation's messages newest first.
func (q *queries) ListMessages(ctx context.Context, conversationID string, pageSize int, pageToken string) (storage.MessagePage, error) {
	if err := q.ready(ctx); err != nil {
		return storage.MessagePage{}, err
	}
	if strings.TrimSpace(conversationID) == "" {
		return storage.MessagePage{}, fmt.Errorf("conversation id is required")
	}
	return q.pageMessages(ctx, pageSize, pageToken, `FROM messages m WHERE m.conversation_id = $1`, strings.TrimSpace(conversationID))
}

// ListReplies returns direct replies oldest first.
func (q *queries) ListReplies(ctx context.Context, parentID string) ([]storage.MessageRecord, error) {
	if err := q.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := q.db.Query(ctx, `
SELECT `+messageColumns+` FROM messages m WHERE m.parent_id = $1 ORDER BY m.sent_at ASC, m.id ASC
`, strings.TrimSpace(parentID))
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	return collectMessages(rows)
}

// DeleteUserMessages deletes messages sent or received by the user.
func (q *queries) DeleteUserMessages(ctx context.Context, userID string) (int64, error) {
	return q.execCount(ctx, "delete user messages",
		`DELETE FROM messages WHERE sender_id = $1 OR receiver_id = $1`, strings.TrimSpace(userID))
}

func (q *queries) pageMessages(ctx context.Context, pageSize int, pageToken string, fromWhere string, args ...any) (storage.MessagePage, error) {
	if pageSize <= 0 {
		return storage.MessagePage{}, fmt.Errorf("page size must be greater than zero")
	}
	sql := `SELECT ` + messageColumns + ` ` + fromWhere
	if token := strings.TrimSpace(pageToken); token != "" {
		cursor, err := q.GetMessage(ctx, token)
		if errors.Is(err, storage.ErrNotFound) {
			return storage.MessagePage{}, nil
		}
		if err != nil {
			return storage.MessagePage{}, err
		}
		sql += ` AND (m.sent_at, m.id) < (` + bind(len(args)+1) + `, ` + bind(len(args)+2) + `)`
		args = append(args, cursor.SentAt, cursor.ID)
	}
	sql += ` ORDER BY m.sent_at DESC, m.id DESC LIMIT ` + bind(len(args)+1)
	args = append(args, pageSize+1)

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return storage.MessagePage{}, fmt.Errorf("list messages: %w", err)
	}
	messages, err := collectMessages(rows)
	if err != nil {
		return storage.MessagePage{}, err
	}
	page := storage.MessagePage{Messages: messages}
	if len(page.Messages) > pageSize {
		page.NextPageToken = page.Messages[pageSize-1].ID
		page.Messages = page.Messages[:pageSize]
	}
	return page, nil
}

// PutReceipt records that a user read a message. Repeats are no-ops.
func (q *queries) PutReceipt(ctx context.Context, record storage.ReceiptRecord) (bool, error) {
	affected, err := q.execCount(ctx, "put receipt", `
INSERT INTO message_read_receipts (message_id, user_id, read_at) VALUES ($1, $2, $3)
ON CONFLICT (message_id, user_id) DO NOTHING
`, strings.TrimSpace(record.MessageID), strings.TrimSpace(record.UserID), record.ReadAt.UTC())
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// GetReceipt returns the receipt for one (message, user) pair.
func (q *queries) GetReceipt(ctx context.Context, messageID, userID string) (storage.ReceiptRecord, error) {
	if err := q.ready(ctx); err != nil {
		return storage.ReceiptRecord{}, err
	}
	var record storage.ReceiptRecord
	err := q.db.QueryRow(ctx, `
SELECT message_id, user_id, read_at FROM message_read_receipts WHERE message_id = $1 AND user_id = $2
`, strings.TrimSpace(messageID), strings.TrimSpace(userID)).Scan(&record.MessageID, &record.UserID, &record.ReadAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ReceiptRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.ReceiptRecord{}, fmt.Errorf("get receipt: %w", err)
	}
	record.ReadAt = record.ReadAt.UTC()
	return record, nil
}

// MarkConversationRead receipts every unread message in one conversation
// with a single statement.
func (q *queries) MarkConversationRead(ctx context.Context, conversationID, userID string, readAt time.Time) (int64, error) {
	return q.execCount(ctx, "mark conversation read", `
INSERT INTO message_read_receipts (message_id, user_id, read_at)
SELECT m.id, $1::text, $2::timestamptz`+unreadFrom+`
  AND m.conversation_id = $3
ON CONFLICT (message_id, user_id) DO NOTHING
`, strings.TrimSpace(userID), readAt.UTC(), strings.TrimSpace(conversationID))
}

// DeleteUserReceipts deletes every receipt written by the user.
func (q *queries) DeleteUserReceipts(ctx context.Context, userID string) (int64, error) {
	return q.execCount(ctx, "delete user receipts",
		`DELETE FROM message_read_receipts WHERE user_id = $1`, strings.TrimSpace(userID))
}

// CountUnread returns the number of messages unread by the user.
func (q *queries) CountUnread(ctx context.Context, userID string) (int, error) {
	if err := q.ready(ctx); err != nil {
		return 0, err
	}
	var count int
	if err := q.db.QueryRow(ctx, `SELECT COUNT(*)`+unreadFrom, strings.TrimSpace(userID)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

// ListUnread pages unread messages newest first.
func (q *queries) ListUnread(ctx context.Context, userID string, pageSize int, pageToken string) (storage.MessagePage, error) {
	if err := q.ready(ctx); err != nil {
		return storage.MessagePage{}, err
	}
	return q.pageMessages(ctx, pageSize, pageToken, unreadFrom, strings.TrimSpace(userID))
}

// ListAllUnread returns every unread message grouped by conversation.
func (q *queries) ListAllUnread(ctx context.Context, userID string) ([]storage.MessageRecord, error) {
	if err := q.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := q.db.Query(ctx, `SELECT `+messageColumns+unreadFrom+`
ORDER BY m.conversation_id ASC, m.sent_at DESC, m.id DESC
`, strings.TrimSpace(userID))
	if err != nil {
		return nil, fmt.Errorf("list unread: %w", err)
	}
	return collectMessages(rows)
}

// ConversationStats summarizes the user's open conversations.
func (q *queries) ConversationStats(ctx context.Context, userID string, activeSince time.Time) (storage.ConversationStats, error) {
	if err := q.ready(ctx); err != nil {
		return storage.ConversationStats{}, err
	}
	var stats storage.ConversationStats
	err := q.db.QueryRow(ctx, `
SELECT
  (SELECT COUNT(*) FROM conversation_participants p WHERE p.user_id = $1 AND p.left_at IS NULL),
  (SELECT COUNT(*) FROM messages m
     JOIN conversation_participants p
       ON p.conversation_id = m.conversation_id AND p.user_id = $1 AND p.left_at IS NULL),
  (SELECT COUNT(*)`+unreadFrom+`),
  (SELECT COUNT(DISTINCT m.conversation_id) FROM messages m
     JOIN conversation_participants p
       ON p.conversation_id = m.conversation_id AND p.user_id = $1 AND p.left_at IS NULL
     WHERE m.sent_at >= $2)
`, strings.TrimSpace(userID), activeSince.UTC()).Scan(
		&stats.TotalConversations, &stats.TotalMessages, &stats.UnreadMessages, &stats.ActiveConversations,
	)
	if err != nil {
		return storage.ConversationStats{}, fmt.Errorf("conversation stats: %w", err)
	}
	return stats, nil
}

// AppendHistory records one message snapshot.
func (q *queries) AppendHistory(ctx context.Context, record storage.HistoryRecord) error {
	if err := q.ready(ctx); err != nil {
		return err
	}
	switch record.Action {
	case storage.HistoryCreated, storage.HistoryEdited:
	default:
		return fmt.Errorf("history action %q is invalid", record.Action)
	}
	_, err := q.db.Exec(ctx, `
INSERT INTO message_history (message_id, action, content, actor_id, recorded_at) VALUES ($1, $2, $3, $4, $5)
`, strings.TrimSpace(record.MessageID), string(record.Action), record.Content, strings.TrimSpace(record.ActorID), record.RecordedAt.UTC())
	if err != nil {
		return classify(fmt.Errorf("append history: %w", err))
	}
	return nil
}

// ListHistory returns a message's snapshots in insertion order.
func (q *queries) ListHistory(ctx context.Context, messageID string) ([]storage.HistoryRecord, error) {
	if err := q.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := q.db.Query(ctx, `
SELECT id, message_id, action, content, actor_id, recorded_at
FROM message_history WHERE message_id = $1 ORDER BY id ASC
`, strings.TrimSpace(messageID))
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.HistoryRecord, error) {
		var record storage.HistoryRecord
		var action string
		err := row.Scan(&record.ID, &record.MessageID, &action, &record.Content, &record.ActorID, &record.RecordedAt)
		record.Action = storage.HistoryAction(action)
		record.RecordedAt = record.RecordedAt.UTC()
		return record, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan history rows: %w", err)
	}
	return records, nil
}

// DeleteActorHistory deletes snapshots attributed to the actor.
func (q *queries) DeleteActorHistory(ctx context.Context, actorID string) (int64, error) {
	return q.execCount(ctx, "delete actor history",
		`DELETE FROM message_history WHERE actor_id = $1`, strings.TrimSpace(actorID))
}

// PutNotification inserts one notice.
func (q *queries) PutNotification(ctx context.Context, record storage.NotificationRecord) error {
	if err := q.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("notification id is required")
	}
	tag, err := q.db.Exec(ctx, `
INSERT INTO notifications (id, message_id, sender_id, recipient_id, created_at, dispatched_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (message_id, recipient_id) DO NOTHING
`,
		strings.TrimSpace(record.ID),
		strings.TrimSpace(record.MessageID),
		strings.TrimSpace(record.SenderID),
		strings.TrimSpace(record.RecipientID),
		record.CreatedAt.UTC(),
		utcPtr(record.DispatchedAt),
	)
	if err != nil {
		return classify(fmt.Errorf("put notification: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrAlreadyExists
	}
	return nil
}

// ListNotificationsForRecipient returns the newest notices for one user.
func (q *queries) ListNotificationsForRecipient(ctx context.Context, recipientID string, limit int) ([]storage.NotificationRecord, error) {
	if err := q.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	rows, err := q.db.Query(ctx, `
SELECT id, message_id, sender_id, recipient_id, created_at, dispatched_at
FROM notifications WHERE recipient_id = $1
ORDER BY created_at DESC, id DESC LIMIT $2
`, strings.TrimSpace(recipientID), limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return collectNotifications(rows)
}

// ListUndispatchedNotifications returns the oldest notices not yet handed to
// the delivery queue.
func (q *queries) ListUndispatchedNotifications(ctx context.Context, limit int) ([]storage.NotificationRecord, error) {
	if err := q.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	rows, err := q.db.Query(ctx, `
SELECT id, message_id, sender_id, recipient_id, created_at, dispatched_at
FROM notifications WHERE dispatched_at IS NULL
ORDER BY created_at ASC, id ASC LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list undispatched notifications: %w", err)
	}
	return collectNotifications(rows)
}

// MarkNotificationDispatched stamps dispatched_at once.
func (q *queries) MarkNotificationDispatched(ctx context.Context, notificationID string, dispatchedAt time.Time) error {
	affected, err := q.execCount(ctx, "mark notification dispatched",
		`UPDATE notifications SET dispatched_at = $2 WHERE id = $1 AND dispatched_at IS NULL`,
		strings.TrimSpace(notificationID), dispatchedAt.UTC())
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteUserNotifications deletes notices sent to or by the user.
func (q *queries) DeleteUserNotifications(ctx context.Context, userID string) (int64, error) {
	return q.execCount(ctx, "delete user notifications",
		`DELETE FROM notifications WHERE sender_id = $1 OR recipient_id = $1`, strings.TrimSpace(userID))
}

func bind(n int) string {
	return "$" + strconv.Itoa(n)
}

func collectMessages(rows pgx.Rows) ([]storage.MessageRecord, error) {
	records, err := pgx.CollectRows(rows, scanMessage)
	if err != nil {
		return nil, fmt.Errorf("scan message rows: %w", err)
	}
	return records, nil
}

func scanMessage(row pgx.CollectableRow) (storage.MessageRecord, error) {
	var record storage.MessageRecord
	var receiverID, parentID *string
	if err := row.Scan(
		&record.ID,
		&record.ConversationID,
		&record.SenderID,
		&receiverID,
		&parentID,
		&record.Body,
		&record.SentAt,
		&record.EditedAt,
	); err != nil {
		return storage.MessageRecord{}, err
	}
	if receiverID != nil {
		record.ReceiverID = *receiverID
	}
	if parentID != nil {
		record.ParentID = *parentID
	}
	record.SentAt = record.SentAt.UTC()
	record.EditedAt = utcPtr(record.EditedAt)
	return record, nil
}

func collectNotifications(rows pgx.Rows) ([]storage.NotificationRecord, error) {
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.NotificationRecord, error) {
		var record storage.NotificationRecord
		err := row.Scan(&record.ID, &record.MessageID, &record.SenderID, &record.RecipientID, &record.CreatedAt, &record.DispatchedAt)
		record.CreatedAt = record.CreatedAt.UTC()
		record.DispatchedAt = utcPtr(record.DispatchedAt)
		return record, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan notification rows: %w", err)
	}
	return records, nil
}
