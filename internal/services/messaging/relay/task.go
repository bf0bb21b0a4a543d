package relay

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/louisbranch/threadline/internal/services/messaging/storage"
)

const (
	// TaskTypeNotificationDeliver is the asynq task type for notices.
	TaskTypeNotificationDeliver = "messaging:notification.deliver"
	// DefaultQueue is the asynq queue notices are enqueued on.
	DefaultQueue = "notifications"
)

// NotificationPayload is the JSON body of a delivery task.
type NotificationPayload struct {
	NotificationID string    `json:"notification_id"`
	MessageID      string    `json:"message_id"`
	SenderID       string    `json:"sender_id"`
	RecipientID    string    `json:"recipient_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewNotificationTask encodes a notice as an asynq task.
func NewNotificationTask(record storage.NotificationRecord) (*asynq.Task, error) {
	payload, err := json.Marshal(NotificationPayload{
		NotificationID: record.ID,
		MessageID:      record.MessageID,
		SenderID:       record.SenderID,
		RecipientID:    record.RecipientID,
		CreatedAt:      record.CreatedAt.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode notification task: %w", err)
	}
	return asynq.NewTask(TaskTypeNotificationDeliver, payload), nil
}

// DecodeNotificationPayload parses and validates a delivery task body.
func DecodeNotificationPayload(data []byte) (NotificationPayload, error) {
	var payload NotificationPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return NotificationPayload{}, fmt.Errorf("decode notification task: %w", err)
	}
	payload.NotificationID = strings.TrimSpace(payload.NotificationID)
	payload.MessageID = strings.TrimSpace(payload.MessageID)
	payload.RecipientID = strings.TrimSpace(payload.RecipientID)
	if payload.NotificationID == "" {
		return NotificationPayload{}, fmt.Errorf("notification id is required")
	}
	if payload.MessageID == "" {
		return NotificationPayload{}, fmt.Errorf("message id is required")
	}
	if payload.RecipientID == "" {
		return NotificationPayload{}, fmt.Errorf("recipient id is required")
	}
	return payload, nil
}
