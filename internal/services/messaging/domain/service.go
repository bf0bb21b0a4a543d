// Package domain implements conversation membership, the message ledger,
// read tracking and the lifecycle dispatcher on top of the storage contract.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/louisbranch/threadline/internal/platform/grpc/pagination"
	"github.com/louisbranch/threadline/internal/platform/id"
	"github.com/louisbranch/threadline/internal/services/messaging/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200

	defaultNotificationLimit = 50

	// activeWindow bounds "recently active" in conversation stats.
	activeWindow = 30 * 24 * time.Hour
)

// UnreadCache memoizes derived unread counts. Implementations must tolerate
// concurrent use; misses and failures fall through to storage.
//
// Every invalidation bumps a per-user generation. SetUnreadCount stores the
// count only while the generation still equals the one read before counting,
// so a fill racing a committed write is dropped instead of cached.
type UnreadCache interface {
	GetUnreadCount(ctx context.Context, userID string) (int, bool, error)
	UnreadGeneration(ctx context.Context, userID string) (int64, error)
	SetUnreadCount(ctx context.Context, userID string, count int, generation int64) (bool, error)
	InvalidateUnread(ctx context.Context, userIDs ...string) error
}

// invalidateAttempts bounds retries of a failed cache invalidation.
const invalidateAttempts = 3

// Option customizes a Service.
type Option func(*Service)

// WithUnreadCache enables read-through caching of unread counts.
func WithUnreadCache(cache UnreadCache) Option {
	return func(s *Service) {
		if cache != nil {
			s.cache = cache
		}
	}
}

// WithCascadeAttempts bounds how many times a user deletion is retried on
// transient storage failures.
func WithCascadeAttempts(attempts uint) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.cascadeAttempts = attempts
		}
	}
}

// Service orchestrates conversation state use-cases.
type Service struct {
	store           storage.Store
	clock           func() time.Time
	newID           func() (string, error)
	dispatcher      *Dispatcher
	cache           UnreadCache
	cascadeAttempts uint
	tracer          trace.Tracer
}

// NewService constructs messaging domain use-cases.
func NewService(store storage.Store, clock func() time.Time, newID func() (string, error), opts ...Option) *Service {
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = id.NewID
	}
	s := &Service{
		store:           store,
		clock:           clock,
		newID:           newID,
		cache:           noopCache{},
		cascadeAttempts: 4,
		tracer:          otel.Tracer("github.com/louisbranch/threadline/internal/services/messaging/domain"),
	}
	s.dispatcher = NewDispatcher(s.nowUTC, newID)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) nowUTC() time.Time {
	return s.clock().UTC().Truncate(time.Millisecond)
}

func (s *Service) ready() error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	if s.newID == nil {
		return ErrIDGeneratorNotConfigured
	}
	return nil
}

// invalidate drops cached counts after a commit, retrying briefly. A cache
// that stays unreachable is recorded on the active span; its stale entries
// expire with the TTL.
func (s *Service) invalidate(ctx context.Context, userIDs ...string) {
	if len(userIDs) == 0 {
		return
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, s.cache.InvalidateUnread(ctx, userIDs...)
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(invalidateAttempts))
	if err != nil {
		span := trace.SpanFromContext(ctx)
		span.RecordError(fmt.Errorf("invalidate unread cache: %w", err))
	}
}

func clampPageSize(pageSize int) int {
	if pageSize > maxPageSize {
		return maxPageSize
	}
	return pagination.ClampPageSize(int32(pageSize), pagination.PageSizeConfig{Default: defaultPageSize, Max: maxPageSize})
}

func requireID(value string, missing error) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", missing
	}
	return value, nil
}

// requireParticipant fails with ErrNotAParticipant unless the user holds an
// open membership.
func requireParticipant(ctx context.Context, tx storage.Tx, conversationID, userID string) error {
	_, err := tx.GetOpenMembership(ctx, conversationID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotAParticipant
	}
	return err
}

func loadMessage(ctx context.Context, tx storage.Tx, messageID string) (storage.MessageRecord, error) {
	record, err := tx.GetMessage(ctx, messageID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.MessageRecord{}, ErrMessageNotFound
	}
	return record, err
}

func loadConversation(ctx context.Context, tx storage.Tx, conversationID string) (storage.ConversationRecord, error) {
	record, err := tx.GetConversation(ctx, conversationID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.ConversationRecord{}, ErrConversationNotFound
	}
	return record, err
}

func loadUser(ctx context.Context, tx storage.Tx, userID string) (storage.UserRecord, error) {
	record, err := tx.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.UserRecord{}, ErrUserNotFound
	}
	return record, err
}

type noopCache struct{}

func (noopCache) GetUnreadCount(context.Context, string) (int, bool, error) { return 0, false, nil }
func (noopCache) UnreadGeneration(context.Context, string) (int64, error)   { return 0, nil }
func (noopCache) InvalidateUnread(context.Context, ...string) error         { return nil }
func (noopCache) SetUnreadCount(context.Context, string, int, int64) (bool, error) {
	return false, nil
}
