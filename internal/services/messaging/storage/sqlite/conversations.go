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

// PutConversation inserts one conversation.
func (q *queries) PutConversation(ctx context.Context, record storage.ConversationRecord) error {
	if err := q.ready(ctx); err != nil {
		return err
	}
	record.ID = strings.TrimSpace(record.ID)
	if record.ID == "" {
		return fmt.Errorf("conversation id is required")
	}
	_, err := q.db.ExecContext(ctx, `INSERT INTO conversations (id, created_at) VALUES (?, ?)`,
		record.ID, toMillis(record.CreatedAt))
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
	var createdAt int64
	err := q.db.QueryRowContext(ctx, `SELECT id, created_at FROM conversations WHERE id = ?`,
		strings.TrimSpace(conversationID)).Scan(&record.ID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ConversationRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.ConversationRecord{}, fmt.Errorf("get conversation: %w", err)
	}
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}

// ListConversationsForUser pages conversations where the user holds an open
// membership, newest first.
func (q *queries) ListConversationsForUser(ctx context.Context, userID string, pageSize int, pageToken string) (storage.ConversationPage, error) {
	if err := q.ready(ctx); err != nil {
		return storage.ConversationPage{}, err
	}
	userID = strings.TrimSpace(userID)
	pageToken = strings.TrimSpace(pageToken)
	if userID == "" {
		return storage.ConversationPage{}, fmt.Errorf("user id is required")
	}
	if pageSize <= 0 {
		return storage.ConversationPage{}, fmt.Errorf("page size must be greater than zero")
	}

	limit := pageSize + 1
	var rows *sql.Rows
	var err error
	if pageToken == "" {
		rows, err = q.db.QueryContext(ctx, `
SELECT c.id, c.created_at
FROM conversations c
JOIN conversation_participants p ON p.conversation_id = c.id
WHERE p.user_id = ? AND p.left_at IS NULL
ORDER BY c.created_at DESC, c.id DESC
LIMIT ?
`, userID, limit)
	} else {
		token, tokenErr := q.GetConversation(ctx, pageToken)
		if errors.Is(tokenErr, storage.ErrNotFound) {
			return storage.ConversationPage{}, nil
		}
		if tokenErr != nil {
			return storage.ConversationPage{}, tokenErr
		}
		rows, err = q.db.QueryContext(ctx, `
SELECT c.id, c.created_at
FROM conversations c
JOIN conversation_participants p ON p.conversation_id = c.id
WHERE p.user_id = ? AND p.left_at IS NULL
  AND (c.created_at < ? OR (c.created_at = ? AND c.id < ?))
ORDER BY c.created_at DESC, c.id DESC
LIMIT ?
`, userID, toMillis(token.CreatedAt), toMillis(token.CreatedAt), token.ID, limit)
	}
	if err != nil {
		return storage.ConversationPage{}, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	page := storage.ConversationPage{Conversations: make([]storage.ConversationRecord, 0, pageSize)}
	for rows.Next() {
		var record storage.ConversationRecord
		var createdAt int64
		if err := rows.Scan(&record.ID, &createdAt); err != nil {
			return storage.ConversationPage{}, fmt.Errorf("scan conversation row: %w", err)
		}
		record.CreatedAt = fromMillis(createdAt)
		page.Conversations = append(page.Conversations, record)
	}
	if err := rows.Err(); err != nil {
		return storage.ConversationPage{}, fmt.Errorf("iterate conversation rows: %w", err)
	}
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
	args := make([]any, 0, len(conversationIDs))
	for _, id := range conversationIDs {
		args = append(args, id)
	}
	return q.execCount(ctx, "delete empty conversations", `
DELETE FROM conversations
WHERE id IN (`+placeholders(len(args))+`)
  AND NOT EXISTS (
    SELECT 1 FROM conversation_participants p
    WHERE p.conversation_id = conversations.id AND p.left_at IS NULL
  )
`, args...)
}

// PruneEmptyConversations deletes every conversation without an open membership.
func (q *queries) PruneEmptyConversations(ctx context.Context) (int64, error) {
	return q.execCount(ctx, "prune empty conversations", `
DELETE FROM conversations
WHERE NOT EXISTS (
    SELECT 1 FROM conversation_participants p
    WHERE p.conversation_id = conversations.id AND p.left_at IS NULL
)
`)
}

// OpenMembership opens a participation interval.
func (q *queries) OpenMembership(ctx context.Context, record storage.MembershipRecord) error {
	if err := q.ready(ctx); err != nil {
		return err
	}
	record.ConversationID = strings.TrimSpace(record.ConversationID)
	record.UserID = strings.TrimSpace(record.UserID)
	if record.ConversationID == "" || record.UserID == "" {
		return fmt.Errorf("conversation id and user id are required")
	}
	_, err := q.db.ExecContext(ctx, `
INSERT INTO conversation_participants (conversation_id, user_id, joined_at, left_at)
VALUES (?, ?, ?, NULL)
`, record.ConversationID, record.UserID, toMillis(record.JoinedAt))
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
	row := q.db.QueryRowContext(ctx, `
SELECT conversation_id, user_id, joined_at, left_at
FROM conversation_participants
WHERE conversation_id = ? AND user_id = ? AND left_at IS NULL
`, strings.TrimSpace(conversationID), strings.TrimSpace(userID))
	record, err := scanMembership(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.MembershipRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.MembershipRecord{}, fmt.Errorf("get membership: %w", err)
	}
	return record, nil
}

// CloseMembership sets left_at on the open interval for a pair.
func (q *queries) CloseMembership(ctx context.Context, conversationID, userID string, leftAt time.Time) error {
	affected, err := q.execCount(ctx, "close membership", `
UPDATE conversation_participants
SET left_at = ?
WHERE conversation_id = ? AND user_id = ? AND left_at IS NULL
`, toMillis(leftAt), strings.TrimSpace(conversationID), strings.TrimSpace(userID))
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
	rows, err := q.db.QueryContext(ctx, `
SELECT conversation_id, user_id, joined_at, left_at
FROM conversation_participants
WHERE conversation_id = ? AND left_at IS NULL
ORDER BY joined_at ASC, id ASC
`, strings.TrimSpace(conversationID))
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	var records []storage.MembershipRecord
	for rows.Next() {
		record, err := scanMembership(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan membership row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate membership rows: %w", err)
	}
	return records, nil
}

// ListUserConversationIDs returns every conversation the user ever joined.
func (q *queries) ListUserConversationIDs(ctx context.Context, userID string) ([]string, error) {
	if err := q.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := q.db.QueryContext(ctx, `
SELECT DISTINCT conversation_id
FROM conversation_participants
WHERE user_id = ?
ORDER BY conversation_id
`, strings.TrimSpace(userID))
	if err != nil {
		return nil, fmt.Errorf("list user conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation ids: %w", err)
	}
	return ids, nil
}

// CloseUserMemberships closes every open interval held by the user.
func (q *queries) CloseUserMemberships(ctx context.Context, userID string, leftAt time.Time) (int64, error) {
	return q.execCount(ctx, "close user memberships", `
UPDATE conversation_participants SET left_at = ? WHERE user_id = ? AND left_at IS NULL
`, toMillis(leftAt), strings.TrimSpace(userID))
}

// DeleteUserMemberships deletes every interval held by the user.
func (q *queries) DeleteUserMemberships(ctx context.Context, userID string) (int64, error) {
	return q.execCount(ctx, "delete user memberships",
		`DELETE FROM conversation_participants WHERE user_id = ?`, strings.TrimSpace(userID))
}

func scanMembership(scan scanner) (storage.MembershipRecord, error) {
	var record storage.MembershipRecord
	var joinedAt int64
	var leftAt sql.NullInt64
	if err := scan(&record.ConversationID, &record.UserID, &joinedAt, &leftAt); err != nil {
		return storage.MembershipRecord{}, err
	}
	record.JoinedAt = fromMillis(joinedAt)
	record.LeftAt = fromNullableMillis(leftAt)
	return record, nil
}
