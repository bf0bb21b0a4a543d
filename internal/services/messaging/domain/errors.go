package domain

import "errors"

var (
	// ErrStoreNotConfigured indicates the service is missing persistence wiring.
	ErrStoreNotConfigured = errors.New("messaging store is not configured")
	// ErrIDGeneratorNotConfigured indicates an ID generator is required.
	ErrIDGeneratorNotConfigured = errors.New("messaging id generator is not configured")
	// ErrIDGeneratorExhausted indicates a fixed test ID sequence was exhausted.
	ErrIDGeneratorExhausted = errors.New("messaging id generator exhausted")

	// ErrUserNotFound indicates the referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrConversationNotFound indicates the referenced conversation does not exist.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrMessageNotFound indicates the referenced message does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrNotAParticipant indicates the caller holds no open membership.
	ErrNotAParticipant = errors.New("user is not a participant")
	// ErrAlreadyParticipant indicates an open membership already exists.
	ErrAlreadyParticipant = errors.New("user is already a participant")
	// ErrUserAlreadyExists indicates the email is already registered.
	ErrUserAlreadyExists = errors.New("user already exists")
	// ErrForbidden indicates the caller may not perform the action.
	ErrForbidden = errors.New("forbidden")
	// ErrInvariantViolation indicates a write would break a data invariant.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrEmptyBody indicates a message body is blank.
	ErrEmptyBody = errors.New("message body is required")
	// ErrInvalidEmail indicates an email address is malformed.
	ErrInvalidEmail = errors.New("email is invalid")
	// ErrInvalidRole indicates an unknown role.
	ErrInvalidRole = errors.New("role is invalid")
	// ErrDisplayNameRequired indicates a blank display name.
	ErrDisplayNameRequired = errors.New("display name is required")
	// ErrUserIDRequired indicates a user identifier is required.
	ErrUserIDRequired = errors.New("user id is required")
	// ErrConversationIDRequired indicates a conversation identifier is required.
	ErrConversationIDRequired = errors.New("conversation id is required")
	// ErrMessageIDRequired indicates a message identifier is required.
	ErrMessageIDRequired = errors.New("message id is required")
	// ErrParentNotInConversation indicates a reply points outside its conversation.
	ErrParentNotInConversation = errors.New("parent message belongs to another conversation")
	// ErrReceiverNotParticipant indicates the receiver cannot see the message.
	ErrReceiverNotParticipant = errors.New("receiver is not a participant")
)
