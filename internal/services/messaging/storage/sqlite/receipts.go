package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/threadline/internal/services/messaging/storage"
)

// unreadFrom selects messages unread by the user bound to the three
// placeholders, in conversations where that user holds an open membership.
const unreadFrom = `
FROM messages m
JOIN conversation_participants p
  ON p.conversation_id = m.conversation_id AND p.user_id = ? AND p.left_at IS NULL
WHERE m.sender_id <> ?
  AND NOT EXISTS (
    SELECT 1 FROM message_read_receipts r
    WHERE r.message_id = m.id AND r.user_id = ?
  )`

// PutReceipt records that a user read a message. Repeats are no-ops.
func (q *queries) PutReceipt(ctx context.Context, record storage.ReceiptRecord) (bool, error) {
	affected, err := q.execCount(ctx, "put receipt", `
INSERT INTO message_read_receipts (message_id, user_id, read_at)
VALUES (?, ?, ?)
ON CONFLICT (message_id, user_id) DO NOTHING
`, strings.TrimSpace(record.MessageID), strings.TrimSpace(record.UserID), toMillis(record.ReadAt))
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
	var readAt int64
	err := q.db.QueryRowContext(ctx, `
SELECT message_id, user_id, read_at FROM message_read_receipts WHERE message_id = ? AND user_id = ?
`, strings.TrimSpace(messageID), strings.TrimSpace(userID)).Scan(&record.MessageID, &record.UserID, &readAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ReceiptRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.ReceiptRecord{}, fmt.Errorf("get receipt: %w", err)
	}
	record.ReadAt = fromMillis(readAt)
	return record, nil
}

// MarkConversationRead receipts every unread message in one conversation
// with a single statement.
func (q *queries) MarkConversationRead(ctx context.Context, conversationID, userID string, readAt time.Time) (int64, error) {
	userID = strings.TrimSpace(userID)
	return q.execCount(ctx, "mark conversation read", `
INSERT INTO message_read_receipts (message_id, user_id, read_at)
SELECT m.id, ?, ?`+unreadFrom+`
  AND m.conversation_id = ?
ON CONFLICT (message_id, user_id) DO NOTHING
`, userID, toMillis(readAt), userID, userID, userID, strings.TrimSpace(conversationID))
}

// DeleteUserReceipts deletes every receipt written by the user.
func (q *queries) DeleteUserReceipts(ctx context.Context, userID string) (int64, error) {
	return q.execCount(ctx, "delete user receipts",
		`DELETE FROM message_read_receipts WHERE user_id = ?`, strings.TrimSpace(userID))
}

// CountUnread returns the number of messages unread by the user.
func (q *queries) CountUnread(ctx context.Context, userID string) (int, error) {
	if err := q.ready(ctx); err != nil {
		return 0, err
	}
	userID = strings.TrimSpace(userID)
	var count int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*)`+unreadFrom, userID, userID, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

// ListUnread pages unread messages newest first.
func (q *queries) ListUnread(ctx context.Context, userID string, pageSize int, pageToken string) (storage.MessagePage, error) {
	if err := q.ready(ctx); err != nil {
		return storage.MessagePage{}, err
	}
	userID = strings.TrimSpace(userID)
	return q.pageMessages(ctx, pageSize, pageToken, unreadFrom, userID, userID, userID)
}

// ListAllUnread returns every unread message grouped by conversation.
func (q *queries) ListAllUnread(ctx context.Context, userID string) ([]storage.MessageRecord, error) {
	if err := q.ready(ctx); err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	rows, err := q.db.QueryContext(ctx, `SELECT `+messageColumns+unreadFrom+`
ORDER BY m.conversation_id ASC, m.sent_at DESC, m.id DESC
`, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("list unread: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// ConversationStats summarizes the user's open conversations.
func (q *queries) ConversationStats(ctx context.Context, userID string, activeSince time.Time) (storage.ConversationStats, error) {
	if err := q.ready(ctx); err != nil {
		return storage.ConversationStats{}, err
	}
	userID = strings.TrimSpace(userID)
	var stats storage.ConversationStats
	err := q.db.QueryRowContext(ctx, `
SELECT
  (SELECT COUNT(*) FROM conversation_participants p
     WHERE p.user_id = ? AND p.left_at IS NULL),
  (SELECT COUNT(*) FROM messages m
     JOIN conversation_participants p
       ON p.conversation_id = m.conversation_id AND p.user_id = ? AND p.left_at IS NULL),
  (SELECT COUNT(DISTINCT m.conversation_id) FROM messages m
     JOIN conversation_participants p
       ON p.conversation_id = m.conversation_id AND p.user_id = ? AND p.left_at IS NULL
     WHERE m.sent_at >= ?)
`, userID, userID, userID, toMillis(activeSince)).Scan(&stats.TotalConversations, &stats.TotalMessages, &stats.ActiveConversations)
	if err != nil {
		return storage.ConversationStats{}, fmt.Errorf("conversation stats: %w", err)
	}
	unread, err := q.CountUnread(ctx, userID)
	if err != nil {
		return storage.ConversationStats{}, err
	}
	stats.UnreadMessages = unread
	return stats, nil
}
