// Package errors provides structured error handling with i18n support.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Lookup errors
	CodeNotFound             Code = "NOT_FOUND"
	CodeUserNotFound         Code = "USER_NOT_FOUND"
	CodeConversationNotFound Code = "CONVERSATION_NOT_FOUND"
	CodeMessageNotFound      Code = "MESSAGE_NOT_FOUND"

	// Membership errors
	CodeNotAParticipant     Code = "NOT_A_PARTICIPANT"
	CodeAlreadyParticipant  Code = "ALREADY_PARTICIPANT"
	CodeUserAlreadyExists   Code = "USER_ALREADY_EXISTS"
	CodeForbidden           Code = "FORBIDDEN"
	CodeInvariantViolation  Code = "INVARIANT_VIOLATION"
	CodeUnauthenticated     Code = "UNAUTHENTICATED"
	CodeStoreNotConfigured  Code = "STORE_NOT_CONFIGURED"
	CodeEmptyMessageBody    Code = "EMPTY_MESSAGE_BODY"
	CodeInvalidEmail        Code = "INVALID_EMAIL"
	CodeInvalidRole         Code = "INVALID_ROLE"
	CodeEmptyDisplayName    Code = "EMPTY_DISPLAY_NAME"
	CodeMissingIdentifier   Code = "MISSING_IDENTIFIER"
	CodeParentNotInThread   Code = "PARENT_NOT_IN_CONVERSATION"
	CodeReceiverNotEligible Code = "RECEIVER_NOT_PARTICIPANT"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeEmptyMessageBody,
		CodeInvalidEmail,
		CodeInvalidRole,
		CodeEmptyDisplayName,
		CodeMissingIdentifier:
		return codes.InvalidArgument

	// NotFound - referenced record is absent
	case CodeNotFound,
		CodeUserNotFound,
		CodeConversationNotFound,
		CodeMessageNotFound:
		return codes.NotFound

	// AlreadyExists - exclusive creation collided with a unique constraint
	case CodeAlreadyParticipant,
		CodeUserAlreadyExists:
		return codes.AlreadyExists

	// PermissionDenied - caller lacks membership or ownership
	case CodeNotAParticipant,
		CodeForbidden:
		return codes.PermissionDenied

	// FailedPrecondition - state doesn't allow operation
	case CodeInvariantViolation,
		CodeParentNotInThread,
		CodeReceiverNotEligible:
		return codes.FailedPrecondition

	case CodeUnauthenticated:
		return codes.Unauthenticated

	case CodeStoreNotConfigured:
		return codes.Internal

	default:
		return codes.Unknown
	}
}
