package messaging

import (
	"context"
	"errors"
	"log"

	apperrors "github.com/louisbranch/threadline/internal/platform/errors"
	"github.com/louisbranch/threadline/internal/platform/requestctx"
	"github.com/louisbranch/threadline/internal/services/messaging/domain"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var domainErrorCodes = []struct {
	err  error
	code apperrors.Code
}{
	{domain.ErrUserNotFound, apperrors.CodeUserNotFound},
	{domain.ErrConversationNotFound, apperrors.CodeConversationNotFound},
	{domain.ErrMessageNotFound, apperrors.CodeMessageNotFound},
	{domain.ErrNotAParticipant, apperrors.CodeNotAParticipant},
	{domain.ErrAlreadyParticipant, apperrors.CodeAlreadyParticipant},
	{domain.ErrUserAlreadyExists, apperrors.CodeUserAlreadyExists},
	{domain.ErrForbidden, apperrors.CodeForbidden},
	{domain.ErrInvariantViolation, apperrors.CodeInvariantViolation},
	{domain.ErrEmptyBody, apperrors.CodeEmptyMessageBody},
	{domain.ErrInvalidEmail, apperrors.CodeInvalidEmail},
	{domain.ErrInvalidRole, apperrors.CodeInvalidRole},
	{domain.ErrDisplayNameRequired, apperrors.CodeEmptyDisplayName},
	{domain.ErrParentNotInConversation, apperrors.CodeParentNotInThread},
	{domain.ErrReceiverNotParticipant, apperrors.CodeReceiverNotEligible},
	{domain.ErrStoreNotConfigured, apperrors.CodeStoreNotConfigured},
}

var missingIDFields = []struct {
	err   error
	field string
}{
	{domain.ErrUserIDRequired, "user_id"},
	{domain.ErrConversationIDRequired, "conversation_id"},
	{domain.ErrMessageIDRequired, "message_id"},
}

// handleDomainError maps a domain failure to a localized gRPC status.
// Unexpected errors are logged and surface as Internal without detail.
func handleDomainError(ctx context.Context, err error, ids map[string]string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	locale := requestctx.LocaleFromContext(ctx)
	for _, missing := range missingIDFields {
		if errors.Is(err, missing.err) {
			return apperrors.WithMetadata(apperrors.CodeMissingIdentifier, err.Error(), map[string]string{"field": missing.field}).ToGRPCStatus(locale)
		}
	}
	for _, mapping := range domainErrorCodes {
		if errors.Is(err, mapping.err) {
			return apperrors.WithMetadata(mapping.code, err.Error(), ids).ToGRPCStatus(locale)
		}
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr.ToGRPCStatus(locale)
	}
	log.Printf("messaging request %s: %v", requestctx.RequestIDFromContext(ctx), err)
	return status.Error(codes.Internal, "internal error")
}

func unauthenticated(ctx context.Context) error {
	return apperrors.New(apperrors.CodeUnauthenticated, "caller identity is required").ToGRPCStatus(requestctx.LocaleFromContext(ctx))
}
