package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/threadline/internal/services/messaging/storage"
)

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
	_, err := q.db.ExecContext(ctx, `
INSERT INTO message_history (message_id, action, content, actor_id, recorded_at)
VALUES (?, ?, ?, ?, ?)
`, strings.TrimSpace(record.MessageID), string(record.Action), record.Content, strings.TrimSpace(record.ActorID), toMillis(record.RecordedAt))
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
	rows, err := q.db.QueryContext(ctx, `
SELECT id, message_id, action, content, actor_id, recorded_at
FROM message_history
WHERE message_id = ?
ORDER BY id ASC
`, strings.TrimSpace(messageID))
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var records []storage.HistoryRecord
	for rows.Next() {
		var record storage.HistoryRecord
		var action string
		var recordedAt int64
		if err := rows.Scan(&record.ID, &record.MessageID, &action, &record.Content, &record.ActorID, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		record.Action = storage.HistoryAction(action)
		record.RecordedAt = fromMillis(recordedAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return records, nil
}

// DeleteActorHistory deletes snapshots attributed to the actor.
func (q *queries) DeleteActorHistory(ctx context.Context, actorID string) (int64, error) {
	return q.execCount(ctx, "delete actor history",
		`DELETE FROM message_history WHERE actor_id = ?`, strings.TrimSpace(actorID))
}

// PutNotification inserts one notice. A second notice for the same
// (message, recipient) returns ErrAlreadyExists.
func (q *queries) PutNotification(ctx context.Context, record storage.NotificationRecord) error {
	if err := q.ready(ctx); err != nil {
		return err
	}
	record.ID = strings.TrimSpace(record.ID)
	if record.ID == "" {
		return fmt.Errorf("notification id is required")
	}
	result, err := q.db.ExecContext(ctx, `
INSERT INTO notifications (id, message_id, sender_id, recipient_id, created_at, dispatched_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (message_id, recipient_id) DO NOTHING
`,
		record.ID,
		strings.TrimSpace(record.MessageID),
		strings.TrimSpace(record.SenderID),
		strings.TrimSpace(record.RecipientID),
		toMillis(record.CreatedAt),
		nullableMillis(record.DispatchedAt),
	)
	if err != nil {
		return classify(fmt.Errorf("put notification: %w", err))
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
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
	rows, err := q.db.QueryContext(ctx, `
SELECT id, message_id, sender_id, recipient_id, created_at, dispatched_at
FROM notifications
WHERE recipient_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?
`, strings.TrimSpace(recipientID), limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
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
	rows, err := q.db.QueryContext(ctx, `
SELECT id, message_id, sender_id, recipient_id, created_at, dispatched_at
FROM notifications
WHERE dispatched_at IS NULL
ORDER BY created_at ASC, id ASC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list undispatched notifications: %w", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

// MarkNotificationDispatched stamps dispatched_at once.
func (q *queries) MarkNotificationDispatched(ctx context.Context, notificationID string, dispatchedAt time.Time) error {
	affected, err := q.execCount(ctx, "mark notification dispatched", `
UPDATE notifications SET dispatched_at = ? WHERE id = ? AND dispatched_at IS NULL
`, toMillis(dispatchedAt), strings.TrimSpace(notificationID))
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
	userID = strings.TrimSpace(userID)
	return q.execCount(ctx, "delete user notifications",
		`DELETE FROM notifications WHERE sender_id = ? OR recipient_id = ?`, userID, userID)
}

func collectNotifications(rows *sql.Rows) ([]storage.NotificationRecord, error) {
	var records []storage.NotificationRecord
	for rows.Next() {
		var record storage.NotificationRecord
		var createdAt int64
		var dispatchedAt sql.NullInt64
		if err := rows.Scan(&record.ID, &record.MessageID, &record.SenderID, &record.RecipientID, &createdAt, &dispatchedAt); err != nil {
			return nil, fmt.Errorf("scan notification row: %w", err)
		}
		record.CreatedAt = fromMillis(createdAt)
		record.DispatchedAt = fromNullableMillis(dispatchedAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notification rows: %w", err)
	}
	return records, nil
}
