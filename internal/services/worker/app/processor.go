// Package app runs the notification delivery worker.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	workerdomain "github.com/louisbranch/threadline/internal/services/worker/domain"
	workerstorage "github.com/louisbranch/threadline/internal/services/worker/storage"
)

const (
	defaultConsumer = "worker-notifications"
	unknownTaskID   = "unknown"
)

// EventHandler processes one task payload.
type EventHandler interface {
	Handle(ctx context.Context, payload []byte) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, payload []byte) error

// Handle calls f.
func (f EventHandlerFunc) Handle(ctx context.Context, payload []byte) error {
	return f(ctx, payload)
}

// Attempt is one processing outcome reported to the recorder.
type Attempt struct {
	TaskID         string
	TaskType       string
	NotificationID string
	Outcome        string
	AttemptCount   int32
	Error          string
	CreatedAt      time.Time
}

// AttemptRecorder stores processing outcomes.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, attempt Attempt) error
}

// Processor dispatches asynq tasks to handlers by task type and records every
// attempt. Permanent handler errors skip asynq retries.
type Processor struct {
	handlers map[string]EventHandler
	recorder AttemptRecorder
	clock    func() time.Time
}

// NewProcessor builds a processor. A nil clock uses time.Now.
func NewProcessor(handlers map[string]EventHandler, recorder AttemptRecorder, clock func() time.Time) *Processor {
	if clock == nil {
		clock = time.Now
	}
	return &Processor{handlers: handlers, recorder: recorder, clock: clock}
}

// ProcessTask implements asynq.Handler.
func (p *Processor) ProcessTask(ctx context.Context, task *asynq.Task) error {
	if task == nil {
		return fmt.Errorf("task is required: %w", asynq.SkipRetry)
	}
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, hasMax := asynq.GetMaxRetry(ctx)

	var err error
	handler := p.handlers[task.Type()]
	if handler == nil {
		err = workerdomain.Permanent(fmt.Errorf("no handler for task type %q", task.Type()))
	} else {
		err = handler.Handle(ctx, task.Payload())
	}

	outcome := workerstorage.OutcomeDelivered
	switch {
	case err == nil:
	case workerdomain.IsPermanent(err):
		outcome = workerstorage.OutcomeDead
	case hasMax && retried >= maxRetry:
		outcome = workerstorage.OutcomeDead
	default:
		outcome = workerstorage.OutcomeRetry
	}
	p.record(ctx, task, outcome, int32(retried+1), err)

	if err != nil && workerdomain.IsPermanent(err) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

func (p *Processor) record(ctx context.Context, task *asynq.Task, outcome string, count int32, cause error) {
	if p.recorder == nil {
		return
	}
	notificationID := notificationIDFromPayload(task.Payload())
	taskID, _ := asynq.GetTaskID(ctx)
	if strings.TrimSpace(taskID) == "" {
		taskID = notificationID
	}
	if strings.TrimSpace(taskID) == "" {
		taskID = unknownTaskID
	}
	attempt := Attempt{
		TaskID:         taskID,
		TaskType:       task.Type(),
		NotificationID: notificationID,
		Outcome:        outcome,
		AttemptCount:   count,
		CreatedAt:      p.clock().UTC(),
	}
	if cause != nil {
		attempt.Error = cause.Error()
	}
	if err := p.recorder.RecordAttempt(ctx, attempt); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("record attempt %s: %v", taskID, err)
	}
}

// notificationIDFromPayload reads the notice ID without validating the rest.
func notificationIDFromPayload(payload []byte) string {
	var envelope struct {
		NotificationID string `json:"notification_id"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return ""
	}
	return strings.TrimSpace(envelope.NotificationID)
}

type attemptStoreRecorder struct {
	store    workerstorage.AttemptStore
	consumer string
}

func newAttemptStoreRecorder(store workerstorage.AttemptStore, consumer string) *attemptStoreRecorder {
	normalizedConsumer := strings.TrimSpace(consumer)
	if normalizedConsumer == "" {
		normalizedConsumer = defaultConsumer
	}
	return &attemptStoreRecorder{store: store, consumer: normalizedConsumer}
}

func (r *attemptStoreRecorder) RecordAttempt(ctx context.Context, attempt Attempt) error {
	if r == nil || r.store == nil {
		return nil
	}
	consumer := strings.TrimSpace(r.consumer)
	if consumer == "" {
		consumer = defaultConsumer
	}
	return r.store.RecordAttempt(ctx, workerstorage.AttemptRecord{
		TaskID:         attempt.TaskID,
		TaskType:       attempt.TaskType,
		NotificationID: attempt.NotificationID,
		Consumer:       consumer,
		Outcome:        attempt.Outcome,
		AttemptCount:   attempt.AttemptCount,
		LastError:      attempt.Error,
		CreatedAt:      attempt.CreatedAt,
	})
}

// retryDelay doubles base per retry, capped at maxDelay.
func retryDelay(base, maxDelay time.Duration) asynq.RetryDelayFunc {
	if base <= 0 {
		base = 5 * time.Second
	}
	if maxDelay < base {
		maxDelay = base
	}
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		delay := base
		for i := 0; i < n; i++ {
			delay *= 2
			if delay >= maxDelay {
				return maxDelay
			}
		}
		return delay
	}
}

// asynqLogger routes asynq server logs through the standard logger.
type asynqLogger struct {
	logf func(format string, args ...any)
}

func (l asynqLogger) Debug(args ...any) { l.logf("asynq debug: %s", fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.logf("asynq: %s", fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.logf("asynq warn: %s", fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.logf("asynq error: %s", fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { log.Fatalf("asynq fatal: %s", fmt.Sprint(args...)) }
