package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/threadline/internal/services/messaging/storage"
)

// PutUser inserts one account. Duplicate ids or emails return ErrAlreadyExists.
func (q *queries) PutUser(ctx context.Context, record storage.UserRecord) error {
	if err := q.ready(ctx); err != nil {
		return err
	}
	record.ID = strings.TrimSpace(record.ID)
	if record.ID == "" {
		return fmt.Errorf("user id is required")
	}
	if record.CreatedAt.IsZero() {
		return fmt.Errorf("user created_at is required")
	}
	active := 0
	if record.Active {
		active = 1
	}
	_, err := q.db.ExecContext(ctx, `
INSERT INTO users (id, display_name, email, role, active, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`, record.ID, record.DisplayName, record.Email, record.Role, active, toMillis(record.CreatedAt))
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
	row := q.db.QueryRowContext(ctx, `
SELECT id, display_name, email, role, active, created_at
FROM users
WHERE id = ?
`, strings.TrimSpace(userID))
	record, err := scanUser(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.UserRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.UserRecord{}, fmt.Errorf("get user: %w", err)
	}
	return record, nil
}

// DeleteUser deletes the account row. Dependent rows must already be gone.
func (q *queries) DeleteUser(ctx context.Context, userID string) (int64, error) {
	return q.execCount(ctx, "delete user", `DELETE FROM users WHERE id = ?`, strings.TrimSpace(userID))
}

func scanUser(scan scanner) (storage.UserRecord, error) {
	var record storage.UserRecord
	var active int
	var createdAt int64
	if err := scan(&record.ID, &record.DisplayName, &record.Email, &record.Role, &active, &createdAt); err != nil {
		return storage.UserRecord{}, err
	}
	record.Active = active == 1
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}
