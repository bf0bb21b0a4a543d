package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/louisbranch/threadline/internal/services/messaging/storage"
	"go.opentelemetry.io/otel/trace"
)

// MarkRead records that userID read messageID. It reports whether a new
// receipt was written; repeats and the sender's own messages return false.
func (s *Service) MarkRead(ctx context.Context, messageID, userID string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	messageID, err := requireID(messageID, ErrMessageIDRequired)
	if err != nil {
		return false, err
	}
	userID, err = requireID(userID, ErrUserIDRequired)
	if err != nil {
		return false, err
	}

	var created bool
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		created = false
		message, err := loadMessage(ctx, tx, messageID)
		if err != nil {
			return err
		}
		if err := requireParticipant(ctx, tx, message.ConversationID, userID); err != nil {
			return err
		}
		if message.SenderID == userID {
			return nil
		}
		created, err = tx.PutReceipt(ctx, storage.ReceiptRecord{
			MessageID: messageID,
			UserID:    userID,
			ReadAt:    s.nowUTC(),
		})
		if err != nil {
			return fmt.Errorf("put receipt: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if created {
		s.invalidate(ctx, userID)
	}
	return created, nil
}

// MarkAllRead receipts every message in the conversation that is unread by
// the user, as of one statement snapshot. It returns the receipts written.
func (s *Service) MarkAllRead(ctx context.Context, conversationID, userID string) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	conversationID, err := requireID(conversationID, ErrConversationIDRequired)
	if err != nil {
		return 0, err
	}
	userID, err = requireID(userID, ErrUserIDRequired)
	if err != nil {
		return 0, err
	}

	var marked int64
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := loadConversation(ctx, tx, conversationID); err != nil {
			return err
		}
		if err := requireParticipant(ctx, tx, conversationID, userID); err != nil {
			return err
		}
		marked, err = tx.MarkConversationRead(ctx, conversationID, userID, s.nowUTC())
		if err != nil {
			return fmt.Errorf("mark conversation read: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if marked > 0 {
		s.invalidate(ctx, userID)
	}
	return marked, nil
}

// MarkManyRead receipts the listed messages the user can see. Missing,
// invisible, own and already-read messages are skipped.
func (s *Service) MarkManyRead(ctx context.Context, userID string, messageIDs []string) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	userID, err := requireID(userID, ErrUserIDRequired)
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(messageIDs))
	seen := make(map[string]struct{}, len(messageIDs))
	for _, raw := range messageIDs {
		messageID := strings.TrimSpace(raw)
		if messageID == "" {
			continue
		}
		if _, dup := seen[messageID]; dup {
			continue
		}
		seen[messageID] = struct{}{}
		ids = append(ids, messageID)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var marked int64
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		// Stores may re-run fn after a rollback; only the committed attempt counts.
		var attempt int64
		readAt := s.nowUTC()
		membership := map[string]bool{}
		for _, messageID := range ids {
			message, err := loadMessage(ctx, tx, messageID)
			if errors.Is(err, ErrMessageNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if message.SenderID == userID {
				continue
			}
			open, checked := membership[message.ConversationID]
			if !checked {
				err := requireParticipant(ctx, tx, message.ConversationID, userID)
				if err != nil && !errors.Is(err, ErrNotAParticipant) {
					return err
				}
				open = err == nil
				membership[message.ConversationID] = open
			}
			if !open {
				continue
			}
			created, err := tx.PutReceipt(ctx, storage.ReceiptRecord{MessageID: messageID, UserID: userID, ReadAt: readAt})
			if err != nil {
				return fmt.Errorf("put receipt: %w", err)
			}
			if created {
				attempt++
			}
		}
		marked = attempt
		return nil
	})
	if err != nil {
		return 0, err
	}
	if marked > 0 {
		s.invalidate(ctx, userID)
	}
	return marked, nil
}

// UnreadCount returns how many messages the user has not read, consulting
// the unread cache first. A miss is filled only if no invalidation for the
// user landed between reading the generation and counting.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	userID, err := requireID(userID, ErrUserIDRequired)
	if err != nil {
		return 0, err
	}
	if count, ok, err := s.cache.GetUnreadCount(ctx, userID); err == nil && ok {
		return count, nil
	}
	generation, genErr := s.cache.UnreadGeneration(ctx, userID)
	count, err := s.store.CountUnread(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	if genErr == nil {
		if _, err := s.cache.SetUnreadCount(ctx, userID, count, generation); err != nil {
			trace.SpanFromContext(ctx).RecordError(err)
		}
	}
	return count, nil
}

// UnreadMessages pages the user's unread messages, newest first.
func (s *Service) UnreadMessages(ctx context.Context, userID string, pageSize int, pageToken string) (MessagePage, error) {
	if err := s.ready(); err != nil {
		return MessagePage{}, err
	}
	userID, err := requireID(userID, ErrUserIDRequired)
	if err != nil {
		return MessagePage{}, err
	}
	page, err := s.store.ListUnread(ctx, userID, clampPageSize(pageSize), pageToken)
	if err != nil {
		return MessagePage{}, fmt.Errorf("list unread: %w", err)
	}
	return toMessagePage(page), nil
}

// UnreadByConversation groups the user's unread messages per conversation.
// Groups are ordered by their newest unread message, newest first.
func (s *Service) UnreadByConversation(ctx context.Context, userID string) ([]ConversationUnread, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	userID, err := requireID(userID, ErrUserIDRequired)
	if err != nil {
		return nil, err
	}
	records, err := s.store.ListAllUnread(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list unread: %w", err)
	}
	index := map[string]int{}
	var groups []ConversationUnread
	for _, record := range records {
		i, ok := index[record.ConversationID]
		if !ok {
			i = len(groups)
			index[record.ConversationID] = i
			groups = append(groups, ConversationUnread{ConversationID: record.ConversationID})
		}
		groups[i].Messages = append(groups[i].Messages, toMessage(record))
		groups[i].Count++
	}
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i].Messages[0], groups[j].Messages[0]
		if !a.SentAt.Equal(b.SentAt) {
			return a.SentAt.After(b.SentAt)
		}
		return groups[i].ConversationID < groups[j].ConversationID
	})
	return groups, nil
}

// ConversationStats summarizes the user's open conversations.
func (s *Service) ConversationStats(ctx context.Context, userID string) (Stats, error) {
	if err := s.ready(); err != nil {
		return Stats{}, err
	}
	userID, err := requireID(userID, ErrUserIDRequired)
	if err != nil {
		return Stats{}, err
	}
	stats, err := s.store.ConversationStats(ctx, userID, s.nowUTC().Add(-activeWindow))
	if err != nil {
		return Stats{}, fmt.Errorf("conversation stats: %w", err)
	}
	return Stats{
		TotalConversations:  stats.TotalConversations,
		TotalMessages:       stats.TotalMessages,
		UnreadMessages:      stats.UnreadMessages,
		ActiveConversations: stats.ActiveConversations,
	}, nil
}

// ListNotifications returns the newest notifications addressed to the user.
func (s *Service) ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	userID, err := requireID(userID, ErrUserIDRequired)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultNotificationLimit
	} else if limit > maxPageSize {
		limit = maxPageSize
	}
	records, err := s.store.ListNotificationsForRecipient(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	notifications := make([]Notification, 0, len(records))
	for _, record := range records {
		notifications = append(notifications, toNotification(record))
	}
	return notifications, nil
}
