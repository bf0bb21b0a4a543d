package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/threadline/internal/services/messaging/storage"
)

// SendMessageInput describes a new message.
type SendMessageInput struct {
	ConversationID string
	SenderID       string
	Body           string
	// ReceiverID optionally addresses one participant.
	ReceiverID string
	// ParentID optionally makes the message a reply.
	ParentID string
}

// SendMessage appends a message and dispatches MessageCreated in the same
// transaction.
func (s *Service) SendMessage(ctx context.Context, input SendMessageInput) (Message, error) {
	if err := s.ready(); err != nil {
		return Message{}, err
	}
	conversationID, err := requireID(input.ConversationID, ErrConversationIDRequired)
	if err != nil {
		return Message{}, err
	}
	senderID, err := requireID(input.SenderID, ErrUserIDRequired)
	if err != nil {
		return Message{}, err
	}
	if strings.TrimSpace(input.Body) == "" {
		return Message{}, ErrEmptyBody
	}
	receiverID := strings.TrimSpace(input.ReceiverID)
	parentID := strings.TrimSpace(input.ParentID)

	ctx, span := s.tracer.Start(ctx, "messaging.SendMessage")
	defer span.End()

	messageID, err := s.newID()
	if err != nil {
		return Message{}, err
	}
	record := storage.MessageRecord{
		ID:             messageID,
		ConversationID: conversationID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		ParentID:       parentID,
		Body:           input.Body,
		SentAt:         s.nowUTC(),
	}

	var outcome Outcome
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := loadConversation(ctx, tx, conversationID); err != nil {
			return err
		}
		if err := requireParticipant(ctx, tx, conversationID, senderID); err != nil {
			return err
		}
		if receiverID != "" {
			if receiverID == senderID {
				return ErrReceiverNotParticipant
			}
			if err := requireParticipant(ctx, tx, conversationID, receiverID); err != nil {
				if errors.Is(err, ErrNotAParticipant) {
					return ErrReceiverNotParticipant
				}
				return err
			}
		}
		if parentID != "" {
			parent, err := loadMessage(ctx, tx, parentID)
			if err != nil {
				return err
			}
			if parent.ConversationID != conversationID {
				return ErrParentNotInConversation
			}
		}
		if err := tx.PutMessage(ctx, record); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return fmt.Errorf("%w: %v", ErrInvariantViolation, err)
			}
			return fmt.Errorf("put message: %w", err)
		}
		outcome, err = s.dispatcher.Dispatch(ctx, tx, MessageCreated{Message: record})
		return err
	})
	if err != nil {
		span.RecordError(err)
		return Message{}, err
	}
	s.invalidate(ctx, outcome.AffectedUsers...)
	return toMessage(record), nil
}

// EditMessage replaces a message body. Only the sender may edit.
func (s *Service) EditMessage(ctx context.Context, messageID, editorID, body string) (Message, error) {
	if err := s.ready(); err != nil {
		return Message{}, err
	}
	messageID, err := requireID(messageID, ErrMessageIDRequired)
	if err != nil {
		return Message{}, err
	}
	editorID, err = requireID(editorID, ErrUserIDRequired)
	if err != nil {
		return Message{}, err
	}
	if strings.TrimSpace(body) == "" {
		return Message{}, ErrEmptyBody
	}

	var updated storage.MessageRecord
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		record, err := loadMessage(ctx, tx, messageID)
		if err != nil {
			return err
		}
		if record.SenderID != editorID {
			return ErrForbidden
		}
		editedAt := s.nowUTC()
		if err := tx.UpdateMessageBody(ctx, messageID, body, editedAt); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrMessageNotFound
			}
			return fmt.Errorf("update message: %w", err)
		}
		record.Body = body
		record.EditedAt = &editedAt
		updated = record
		_, err = s.dispatcher.Dispatch(ctx, tx, MessageEdited{Message: record, EditorID: editorID})
		return err
	})
	if err != nil {
		return Message{}, err
	}
	return toMessage(updated), nil
}

// GetMessage returns a message the viewer can currently see.
func (s *Service) GetMessage(ctx context.Context, messageID, viewerID string) (Message, error) {
	record, err := s.visibleMessage(ctx, messageID, viewerID)
	if err != nil {
		return Message{}, err
	}
	return toMessage(record), nil
}

// ListMessages pages a conversation's messages, newest first.
func (s *Service) ListMessages(ctx context.Context, conversationID, viewerID string, pageSize int, pageToken string) (MessagePage, error) {
	if err := s.ready(); err != nil {
		return MessagePage{}, err
	}
	conversationID, err := requireID(conversationID, ErrConversationIDRequired)
	if err != nil {
		return MessagePage{}, err
	}
	viewerID, err = requireID(viewerID, ErrUserIDRequired)
	if err != nil {
		return MessagePage{}, err
	}
	if _, err := loadConversation(ctx, s.store, conversationID); err != nil {
		return MessagePage{}, err
	}
	if err := requireParticipant(ctx, s.store, conversationID, viewerID); err != nil {
		return MessagePage{}, err
	}
	page, err := s.store.ListMessages(ctx, conversationID, clampPageSize(pageSize), pageToken)
	if err != nil {
		return MessagePage{}, fmt.Errorf("list messages: %w", err)
	}
	return toMessagePage(page), nil
}

// ListReplies returns the direct replies to a message, oldest first.
func (s *Service) ListReplies(ctx context.Context, messageID, viewerID string) ([]Message, error) {
	parent, err := s.visibleMessage(ctx, messageID, viewerID)
	if err != nil {
		return nil, err
	}
	records, err := s.store.ListReplies(ctx, parent.ID)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	return toMessages(records), nil
}

// MessageHistory returns the body snapshots of a message, oldest first.
func (s *Service) MessageHistory(ctx context.Context, messageID, viewerID string) ([]HistoryEntry, error) {
	message, err := s.visibleMessage(ctx, messageID, viewerID)
	if err != nil {
		return nil, err
	}
	records, err := s.store.ListHistory(ctx, message.ID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	entries := make([]HistoryEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, HistoryEntry{
			MessageID:  record.MessageID,
			Action:     string(record.Action),
			Content:    record.Content,
			ActorID:    record.ActorID,
			RecordedAt: record.RecordedAt,
		})
	}
	return entries, nil
}

// visibleMessage loads a message and checks the viewer holds an open
// membership in its conversation. Senders can see their own messages.
func (s *Service) visibleMessage(ctx context.Context, messageID, viewerID string) (storage.MessageRecord, error) {
	if err := s.ready(); err != nil {
		return storage.MessageRecord{}, err
	}
	messageID, err := requireID(messageID, ErrMessageIDRequired)
	if err != nil {
		return storage.MessageRecord{}, err
	}
	viewerID, err = requireID(viewerID, ErrUserIDRequired)
	if err != nil {
		return storage.MessageRecord{}, err
	}
	record, err := loadMessage(ctx, s.store, messageID)
	if err != nil {
		return storage.MessageRecord{}, err
	}
	if err := requireParticipant(ctx, s.store, record.ConversationID, viewerID); err != nil {
		return storage.MessageRecord{}, err
	}
	return record, nil
}
