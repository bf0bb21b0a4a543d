package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/louisbranch/threadline/internal/services/messaging/storage"
)

// CreateUserInput describes a new account.
type CreateUserInput struct {
	DisplayName string
	Email       string
	Role        string
}

// CreateUser validates and stores a new account.
func (s *Service) CreateUser(ctx context.Context, input CreateUserInput) (User, error) {
	if err := s.ready(); err != nil {
		return User{}, err
	}
	name, err := normalizeDisplayName(input.DisplayName)
	if err != nil {
		return User{}, err
	}
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return User{}, err
	}
	role, err := parseRole(input.Role)
	if err != nil {
		return User{}, err
	}
	userID, err := s.newID()
	if err != nil {
		return User{}, err
	}
	record := storage.UserRecord{
		ID:          userID,
		DisplayName: name,
		Email:       email,
		Role:        string(role),
		Active:      true,
		CreatedAt:   s.nowUTC(),
	}
	if err := s.store.PutUser(ctx, record); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return User{}, ErrUserAlreadyExists
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return toUser(record), nil
}

// GetUser returns one account.
func (s *Service) GetUser(ctx context.Context, userID string) (User, error) {
	if err := s.ready(); err != nil {
		return User{}, err
	}
	userID, err := requireID(userID, ErrUserIDRequired)
	if err != nil {
		return User{}, err
	}
	record, err := loadUser(ctx, s.store, userID)
	if err != nil {
		return User{}, err
	}
	return toUser(record), nil
}

// CreateConversation opens a conversation with the creator and the listed
// users as participants, all joined at the same instant.
func (s *Service) CreateConversation(ctx context.Context, creatorID string, participantIDs []string) (Conversation, error) {
	if err := s.ready(); err != nil {
		return Conversation{}, err
	}
	creatorID, err := requireID(creatorID, ErrUserIDRequired)
	if err != nil {
		return Conversation{}, err
	}
	members := []string{creatorID}
	seen := map[string]struct{}{creatorID: {}}
	for _, raw := range participantIDs {
		userID, err := requireID(raw, ErrUserIDRequired)
		if err != nil {
			return Conversation{}, err
		}
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		members = append(members, userID)
	}

	conversationID, err := s.newID()
	if err != nil {
		return Conversation{}, err
	}
	now := s.nowUTC()
	record := storage.ConversationRecord{ID: conversationID, CreatedAt: now}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		for _, userID := range members {
			if _, err := loadUser(ctx, tx, userID); err != nil {
				return err
			}
		}
		if err := tx.PutConversation(ctx, record); err != nil {
			return fmt.Errorf("put conversation: %w", err)
		}
		for _, userID := range members {
			if err := tx.OpenMembership(ctx, storage.MembershipRecord{
				ConversationID: conversationID,
				UserID:         userID,
				JoinedAt:       now,
			}); err != nil {
				return fmt.Errorf("open membership: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Conversation{}, err
	}
	return toConversation(record), nil
}

// AddParticipant opens a membership for userID. The actor must be an open
// participant or hold a host or admin role.
func (s *Service) AddParticipant(ctx context.Context, conversationID, actorID, userID string) (Participant, error) {
	if err := s.ready(); err != nil {
		return Participant{}, err
	}
	conversationID, err := requireID(conversationID, ErrConversationIDRequired)
	if err != nil {
		return Participant{}, err
	}
	actorID, err = requireID(actorID, ErrUserIDRequired)
	if err != nil {
		return Participant{}, err
	}
	userID, err = requireID(userID, ErrUserIDRequired)
	if err != nil {
		return Participant{}, err
	}

	membership := storage.MembershipRecord{ConversationID: conversationID, UserID: userID, JoinedAt: s.nowUTC()}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := loadConversation(ctx, tx, conversationID); err != nil {
			return err
		}
		actor, err := loadUser(ctx, tx, actorID)
		if err != nil {
			return err
		}
		if err := requireParticipant(ctx, tx, conversationID, actorID); err != nil {
			if !errors.Is(err, ErrNotAParticipant) {
				return err
			}
			if !Role(actor.Role).canManageMembers() {
				return ErrForbidden
			}
		}
		if _, err := loadUser(ctx, tx, userID); err != nil {
			return err
		}
		if _, err := tx.GetOpenMembership(ctx, conversationID, userID); err == nil {
			return ErrAlreadyParticipant
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if err := tx.OpenMembership(ctx, membership); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				return ErrAlreadyParticipant
			}
			return fmt.Errorf("open membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return Participant{}, err
	}
	s.invalidate(ctx, userID)
	return toParticipant(membership), nil
}

// RemoveParticipant closes the user's open membership. A conversation left
// with no open memberships stays until it is pruned.
func (s *Service) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	conversationID, err := requireID(conversationID, ErrConversationIDRequired)
	if err != nil {
		return err
	}
	userID, err = requireID(userID, ErrUserIDRequired)
	if err != nil {
		return err
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := loadConversation(ctx, tx, conversationID); err != nil {
			return err
		}
		if err := tx.CloseMembership(ctx, conversationID, userID, s.nowUTC()); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrNotAParticipant
			}
			return fmt.Errorf("close membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

// IsParticipant reports whether the user holds an open membership.
func (s *Service) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	conversationID, err := requireID(conversationID, ErrConversationIDRequired)
	if err != nil {
		return false, err
	}
	userID, err = requireID(userID, ErrUserIDRequired)
	if err != nil {
		return false, err
	}
	_, err = s.store.GetOpenMembership(ctx, conversationID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListParticipants returns the open members of a conversation the viewer
// belongs to.
func (s *Service) ListParticipants(ctx context.Context, conversationID, viewerID string) ([]Participant, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	conversationID, err := requireID(conversationID, ErrConversationIDRequired)
	if err != nil {
		return nil, err
	}
	viewerID, err = requireID(viewerID, ErrUserIDRequired)
	if err != nil {
		return nil, err
	}
	if _, err := loadConversation(ctx, s.store, conversationID); err != nil {
		return nil, err
	}
	if err := requireParticipant(ctx, s.store, conversationID, viewerID); err != nil {
		return nil, err
	}
	records, err := s.store.ListOpenMemberships(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	participants := make([]Participant, 0, len(records))
	for _, record := range records {
		participants = append(participants, toParticipant(record))
	}
	return participants, nil
}

// ListConversations pages the user's open conversations, newest first.
func (s *Service) ListConversations(ctx context.Context, userID string, pageSize int, pageToken string) (ConversationPage, error) {
	if err := s.ready(); err != nil {
		return ConversationPage{}, err
	}
	userID, err := requireID(userID, ErrUserIDRequired)
	if err != nil {
		return ConversationPage{}, err
	}
	page, err := s.store.ListConversationsForUser(ctx, userID, clampPageSize(pageSize), pageToken)
	if err != nil {
		return ConversationPage{}, fmt.Errorf("list conversations: %w", err)
	}
	result := ConversationPage{
		Conversations: make([]Conversation, 0, len(page.Conversations)),
		NextPageToken: page.NextPageToken,
	}
	for _, record := range page.Conversations {
		result.Conversations = append(result.Conversations, toConversation(record))
	}
	return result, nil
}

// PruneEmptyConversations deletes every conversation without an open
// membership and returns how many were removed.
func (s *Service) PruneEmptyConversations(ctx context.Context) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	var pruned int64
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		n, err := tx.PruneEmptyConversations(ctx)
		pruned = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune empty conversations: %w", err)
	}
	return pruned, nil
}
