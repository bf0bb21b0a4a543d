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

const messageColumns = `m.id, m.conversation_id, m.sender_id, m.receiver_id, m.parent_id, m.body, m.sent_at, m.edited_at`

// PutMessage inserts one message.
func (q *queries) PutMessage(ctx context.Context, record storage.MessageRecord) error {
	if err := q.ready(ctx); err != nil {
		return err
	}
	record.ID = strings.TrimSpace(record.ID)
	if record.ID == "" {
		return fmt.Errorf("message id is required")
	}
	if strings.TrimSpace(record.Body) == "" {
		return fmt.Errorf("message body is required")
	}
	_, err := q.db.ExecContext(ctx, `
INSERT INTO messages (id, conversation_id, sender_id, receiver_id, parent_id, body, sent_at, edited_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		record.ID,
		strings.TrimSpace(record.ConversationID),
		strings.TrimSpace(record.SenderID),
		nullableString(record.ReceiverID),
		nullableString(record.ParentID),
		record.Body,
		toMillis(record.SentAt),
		nullableMillis(record.EditedAt),
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
	row := q.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages m WHERE m.id = ?`,
		strings.TrimSpace(messageID))
	record, err := scanMessage(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
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
	affected, err := q.execCount(ctx, "update message", `
UPDATE messages SET body = ?, edited_at = ? WHERE id = ?
`, body, toMillis(editedAt), strings.TrimSpace(messageID))
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
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return storage.MessagePage{}, fmt.Errorf("conversation id is required")
	}
	return q.pageMessages(ctx, pageSize, pageToken,
		`FROM messages m WHERE m.conversation_id = ?`, conversationID)
}

// ListReplies returns direct replies oldest first.
func (q *queries) ListReplies(ctx context.Context, parentID string) ([]storage.MessageRecord, error) {
	if err := q.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := q.db.QueryContext(ctx, `
SELECT `+messageColumns+`
FROM messages m
WHERE m.parent_id = ?
ORDER BY m.sent_at ASC, m.id ASC
`, strings.TrimSpace(parentID))
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// DeleteUserMessages deletes messages sent or received by the user. Their
// receipts, notifications and history cascade; replies keep a NULL parent.
func (q *queries) DeleteUserMessages(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	return q.execCount(ctx, "delete user messages",
		`DELETE FROM messages WHERE sender_id = ? OR receiver_id = ?`, userID, userID)
}

// pageMessages runs a newest-first keyset page over the rows selected by
// fromWhere. The page token is the id of the last message on the prior page.
func (q *queries) pageMessages(ctx context.Context, pageSize int, pageToken string, fromWhere string, args ...any) (storage.MessagePage, error) {
	if pageSize <= 0 {
		return storage.MessagePage{}, fmt.Errorf("page size must be greater than zero")
	}
	pageToken = strings.TrimSpace(pageToken)

	query := `SELECT ` + messageColumns + ` ` + fromWhere
	if pageToken != "" {
		token, err := q.GetMessage(ctx, pageToken)
		if errors.Is(err, storage.ErrNotFound) {
			return storage.MessagePage{}, nil
		}
		if err != nil {
			return storage.MessagePage{}, err
		}
		query += ` AND (m.sent_at < ? OR (m.sent_at = ? AND m.id < ?))`
		args = append(args, toMillis(token.SentAt), toMillis(token.SentAt), token.ID)
	}
	query += ` ORDER BY m.sent_at DESC, m.id DESC LIMIT ?`
	args = append(args, pageSize+1)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return storage.MessagePage{}, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

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

func collectMessages(rows *sql.Rows) ([]storage.MessageRecord, error) {
	var records []storage.MessageRecord
	for rows.Next() {
		record, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return records, nil
}

func scanMessage(scan scanner) (storage.MessageRecord, error) {
	var record storage.MessageRecord
	var receiverID, parentID sql.NullString
	var sentAt int64
	var editedAt sql.NullInt64
	if err := scan(
		&record.ID,
		&record.ConversationID,
		&record.SenderID,
		&receiverID,
		&parentID,
		&record.Body,
		&sentAt,
		&editedAt,
	); err != nil {
		return storage.MessageRecord{}, err
	}
	record.ReceiverID = receiverID.String
	record.ParentID = parentID.String
	record.SentAt = fromMillis(sentAt)
	record.EditedAt = fromNullableMillis(editedAt)
	return record, nil
}
