package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/louisbranch/threadline/internal/services/messaging/storage"
)

// Enqueuer hands a notice to the delivery queue.
type Enqueuer interface {
	EnqueueNotification(ctx context.Context, record storage.NotificationRecord) error
}

// AsynqEnqueuer enqueues notices as asynq tasks keyed by notification ID, so
// a notice relayed twice is only queued once.
type AsynqEnqueuer struct {
	client   *asynq.Client
	queue    string
	maxRetry int
}

// NewAsynqEnqueuer connects an asynq client to the Redis at redisURL.
func NewAsynqEnqueuer(redisURL, queue string, maxRetry int) (*AsynqEnqueuer, error) {
	redisURL = strings.TrimSpace(redisURL)
	if redisURL == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if strings.TrimSpace(queue) == "" {
		queue = DefaultQueue
	}
	if maxRetry <= 0 {
		maxRetry = 8
	}
	return &AsynqEnqueuer{client: asynq.NewClient(opt), queue: queue, maxRetry: maxRetry}, nil
}

// EnqueueNotification queues one notice. A task already queued under the
// same ID counts as success.
func (e *AsynqEnqueuer) EnqueueNotification(ctx context.Context, record storage.NotificationRecord) error {
	task, err := NewNotificationTask(record)
	if err != nil {
		return err
	}
	_, err = e.client.EnqueueContext(ctx, task,
		asynq.TaskID(record.ID),
		asynq.Queue(e.queue),
		asynq.MaxRetry(e.maxRetry),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue notification %s: %w", record.ID, err)
	}
	return nil
}

// Close releases the asynq client.
func (e *AsynqEnqueuer) Close() error {
	if e == nil || e.client == nil {
		return nil
	}
	return e.client.Close()
}
