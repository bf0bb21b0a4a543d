// Package storage defines durable records kept by the notification worker.
package storage

import (
	"context"
	"time"
)

// Delivery attempt outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeRetry     = "retry"
	OutcomeDead      = "dead"
)

// AttemptRecord is one durable delivery attempt outcome.
type AttemptRecord struct {
	ID             int64
	TaskID         string
	TaskType       string
	NotificationID string
	Consumer       string
	Outcome        string
	AttemptCount   int32
	LastError      string
	CreatedAt      time.Time
}

// AttemptStore persists delivery attempt records.
type AttemptStore interface {
	RecordAttempt(ctx context.Context, attempt AttemptRecord) error
	ListAttempts(ctx context.Context, limit int) ([]AttemptRecord, error)
	ListNotificationAttempts(ctx context.Context, notificationID string) ([]AttemptRecord, error)
}
