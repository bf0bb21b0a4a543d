package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v5"
	"github.com/louisbranch/threadline/internal/services/messaging/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DeleteUser runs the deletion cascade for userID in one transaction. The
// cascade is idempotent, so a user that is already gone still gets any
// leftover rows removed and reports UserDeleted=false. Transient storage
// failures retry the whole unit with exponential backoff, unless the store
// already retries inside WithinTx, in which case one attempt is made.
func (s *Service) DeleteUser(ctx context.Context, userID string) (CascadeResult, error) {
	if err := s.ready(); err != nil {
		return CascadeResult{}, err
	}
	userID, err := requireID(userID, ErrUserIDRequired)
	if err != nil {
		return CascadeResult{}, err
	}

	ctx, span := s.tracer.Start(ctx, "messaging.DeleteUser")
	defer span.End()
	span.SetAttributes(attribute.String("messaging.user_id", userID))

	attempts := s.cascadeAttempts
	if retrier, ok := s.store.(storage.TxRetrier); ok && retrier.RetriesTransientTx() {
		attempts = 1
	}

	operation := func() (Outcome, error) {
		var outcome Outcome
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			var err error
			outcome, err = s.dispatcher.Dispatch(ctx, tx, UserDeleted{UserID: userID})
			return err
		})
		if err == nil {
			return outcome, nil
		}
		if errors.Is(err, storage.ErrTransient) {
			span.AddEvent("cascade retry")
			return Outcome{}, err
		}
		return Outcome{}, backoff.Permanent(err)
	}

	outcome, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(attempts),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete user cascade failed")
		return CascadeResult{}, fmt.Errorf("delete user %s: %w", userID, err)
	}
	s.invalidate(ctx, outcome.AffectedUsers...)
	span.SetAttributes(
		attribute.Int64("messaging.cascade.messages", outcome.Cascade.Messages),
		attribute.Bool("messaging.cascade.user_deleted", outcome.Cascade.UserDeleted),
	)
	return outcome.Cascade, nil
}
