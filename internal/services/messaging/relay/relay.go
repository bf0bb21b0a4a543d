// Package relay moves undispatched notification rows onto the delivery
// queue. Rows are marked dispatched only after the queue accepts them, so a
// crash between the two steps re-sends at most once per task ID.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/louisbranch/threadline/internal/services/messaging/storage"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 100
)

// Config controls relay polling.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

func (c Config) normalized() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	return c
}

// Relay polls storage for undispatched notices.
type Relay struct {
	store    storage.Tx
	enqueuer Enqueuer
	config   Config
	clock    func() time.Time
	logf     func(format string, args ...any)
}

// New builds a relay. A nil clock uses time.Now.
func New(store storage.Tx, enqueuer Enqueuer, config Config, clock func() time.Time) *Relay {
	if clock == nil {
		clock = time.Now
	}
	return &Relay{
		store:    store,
		enqueuer: enqueuer,
		config:   config.normalized(),
		clock:    clock,
		logf:     log.Printf,
	}
}

// RunOnce relays one batch and returns how many notices were dispatched.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	if r == nil || r.store == nil || r.enqueuer == nil {
		return 0, fmt.Errorf("relay is not configured")
	}
	records, err := r.store.ListUndispatchedNotifications(ctx, r.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list undispatched notifications: %w", err)
	}
	dispatched := 0
	for _, record := range records {
		if err := r.enqueuer.EnqueueNotification(ctx, record); err != nil {
			return dispatched, err
		}
		err := r.store.MarkNotificationDispatched(ctx, record.ID, r.clock().UTC())
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return dispatched, fmt.Errorf("mark notification %s dispatched: %w", record.ID, err)
		}
		dispatched++
	}
	return dispatched, nil
}

// Run relays batches until ctx is canceled. A full batch is followed
// immediately by another; otherwise the relay waits one poll interval.
func (r *Relay) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		n, err := r.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.logf("relay notifications: %v", err)
		}
		if err == nil && n >= r.config.BatchSize {
			timer.Reset(0)
			continue
		}
		timer.Reset(r.config.PollInterval)
	}
}
