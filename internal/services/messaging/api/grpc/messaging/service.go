// Package messaging serves messaging.v1.MessagingService over the domain
// use-cases. Requests and responses are google.protobuf.Struct values; see
// api/proto/messaging/v1 for the fields of each method.
package messaging

import (
	"context"

	messagingv1 "github.com/louisbranch/threadline/api/gen/go/messaging/v1"
	platformgrpc "github.com/louisbranch/threadline/internal/platform/grpc"
	"github.com/louisbranch/threadline/internal/platform/requestctx"
	"github.com/louisbranch/threadline/internal/services/messaging/domain"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

type domainService interface {
	CreateUser(ctx context.Context, input domain.CreateUserInput) (domain.User, error)
	GetUser(ctx context.Context, userID string) (domain.User, error)
	DeleteUser(ctx context.Context, userID string) (domain.CascadeResult, error)
	CreateConversation(ctx context.Context, creatorID string, participantIDs []string) (domain.Conversation, error)
	AddParticipant(ctx context.Context, conversationID, actorID, userID string) (domain.Participant, error)
	RemoveParticipant(ctx context.Context, conversationID, userID string) error
	ListParticipants(ctx context.Context, conversationID, viewerID string) ([]domain.Participant, error)
	ListConversations(ctx context.Context, userID string, pageSize int, pageToken string) (domain.ConversationPage, error)
	PruneEmptyConversations(ctx context.Context) (int64, error)
	SendMessage(ctx context.Context, input domain.SendMessageInput) (domain.Message, error)
	EditMessage(ctx context.Context, messageID, editorID, body string) (domain.Message, error)
	GetMessage(ctx context.Context, messageID, viewerID string) (domain.Message, error)
	ListMessages(ctx context.Context, conversationID, viewerID string, pageSize int, pageToken string) (domain.MessagePage, error)
	ListReplies(ctx context.Context, messageID, viewerID string) ([]domain.Message, error)
	MessageHistory(ctx context.Context, messageID, viewerID string) ([]domain.HistoryEntry, error)
	MarkRead(ctx context.Context, messageID, userID string) (bool, error)
	MarkAllRead(ctx context.Context, conversationID, userID string) (int64, error)
	MarkManyRead(ctx context.Context, userID string, messageIDs []string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	UnreadMessages(ctx context.Context, userID string, pageSize int, pageToken string) (domain.MessagePage, error)
	UnreadByConversation(ctx context.Context, userID string) ([]domain.ConversationUnread, error)
	ConversationStats(ctx context.Context, userID string) (domain.Stats, error)
	ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error)
}

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "messaging.v1.MessagingService"

// Service implements MessagingServiceServer over the domain use-cases. The
// caller is identified by the x-threadline-user-id header.
type Service struct {
	messagingv1.UnimplementedMessagingServiceServer
	domain domainService
}

// NewService creates the messaging gRPC service.
func NewService(svc domainService) *Service {
	return &Service{domain: svc}
}

var _ messagingv1.MessagingServiceServer = (*Service)(nil)

func callerID(ctx context.Context) string {
	if userID := requestctx.UserIDFromContext(ctx); userID != "" {
		return userID
	}
	md, _ := metadata.FromIncomingContext(ctx)
	return platformgrpc.FirstMetadataValue(md, platformgrpc.UserIDHeader)
}

// CreateUser registers an account. It does not require a caller identity.
func (s *Service) CreateUser(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	user, err := s.domain.CreateUser(ctx, domain.CreateUserInput{
		DisplayName: stringField(req, "display_name"),
		Email:       stringField(req, "email"),
		Role:        stringField(req, "role"),
	})
	if err != nil {
		return nil, handleDomainError(ctx, err, nil)
	}
	return newResponse(map[string]any{"user": encodeUser(user)})
}

// GetUser returns an account. Callers may read any account.
func (s *Service) GetUser(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if callerID(ctx) == "" {
		return nil, unauthenticated(ctx)
	}
	userID := stringField(req, "user_id")
	user, err := s.domain.GetUser(ctx, userID)
	if err != nil {
		return nil, handleDomainError(ctx, err, map[string]string{"user_id": userID})
	}
	return newResponse(map[string]any{"user": encodeUser(user)})
}

// DeleteUser runs the deletion cascade. Callers may delete themselves;
// admins may delete anyone.
func (s *Service) DeleteUser(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller := callerID(ctx)
	if caller == "" {
		return nil, unauthenticated(ctx)
	}
	userID := stringField(req, "user_id")
	if userID == "" {
		userID = caller
	}
	if userID != caller {
		actor, err := s.domain.GetUser(ctx, caller)
		if err != nil {
			return nil, handleDomainError(ctx, err, map[string]string{"user_id": caller})
		}
		if actor.Role != domain.RoleAdmin {
			return nil, handleDomainError(ctx, domain.ErrForbidden, nil)
		}
	}
	result, err := s.domain.DeleteUser(ctx, userID)
	if err != nil {
		return nil, handleDomainError(ctx, err, map[string]string{"user_id": userID})
	}
	return newResponse(map[string]any{"cascade": encodeCascade(result)})
}

// CreateConversation opens a conversation with the caller as creator.
func (s *Service) CreateConversation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller := callerID(ctx)
	if caller == "" {
		return nil, unauthenticated(ctx)
	}
	conversation, err := s.domain.CreateConversation(ctx, caller, stringListField(req, "participant_ids"))
	if err != nil {
		return nil, handleDomainError(ctx, err, nil)
	}
	return newResponse(map[string]any{"conversation": encodeConversation(conversation)})
}

// AddParticipant adds a user on the caller's behalf.
func (s *Service) AddParticipant(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller := callerID(ctx)
	if caller == "" {
		return nil, unauthenticated(ctx)
	}
	conversationID := stringField(req, "conversation_id")
	participant, err := s.domain.AddParticipant(ctx, conversationID, caller, stringField(req, "user_id"))
	if err != nil {
		return nil, handleDomainError(ctx, err, map[string]string{"conversation_id": conversationID})
	}
	return newResponse(map[string]any{"participant": encodeParticipant(participant)})
}

// RemoveParticipant closes a membership. Without user_id the caller leaves.
func (s *Service) RemoveParticipant(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller := callerID(ctx)
	if caller == "" {
		return nil, unauthenticated(ctx)
	}
	userID := stringField(req, "user_id")
	if userID == "" {
		userID = caller
	}
	if userID != caller {
		actor, err := s.domain.GetUser(ctx, caller)
		if err != nil {
			return nil, handleDomainError(ctx, err, map[string]string{"user_id": caller})
		}
		if actor.Role != domain.RoleHost && actor.Role != domain.RoleAdmin {
			return nil, handleDomainError(ctx, domain.ErrForbidden, nil)
		}
	}
	conversationID := stringField(req, "conversation_id")
	if err := s.domain.RemoveParticipant(ctx, conversationID, userID); err != nil {
		return nil, handleDomainError(ctx, err, map[string]string{"conversation_id": conversationID})
	}
	return newResponse(map[string]any{})
}

// ListParticipants returns the open members of a conversation.
func (s *Service) ListParticipants(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller := callerID(ctx)
	if caller == "" {
		return nil, unauthenticated(ctx)
	}
	conversationID := stringField(req, "conversation_id")
	participants, err := s.domain.ListParticipants(ctx, conversationID, caller)
	if err != nil {
		return nil, handleDomainError(ctx, err, map[string]string{"conversation_id": conversationID})
	}
	items := make([]any, 0, len(participants))
	for _, participant := range participants {
		items = append(items, encodeParticipant(participant))
	}
	return newResponse(map[string]any{"participants": items})
}

// ListConversations pages the caller's conversations.
func (s *Service) ListConversations(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller := callerID(ctx)
	if caller == "" {
		return nil, unauthenticated(ctx)
	}
	page, err := s.domain.ListConversations(ctx, caller, intField(req, "page_size"), stringField(req, "page_token"))
	if err != nil {
		return nil, handleDomainError(ctx, err, nil)
	}
	items := make([]any, 0, len(page.Conversations))
	for _, conversation := range page.Conversations {
		items = append(items, encodeConversation(conversation))
	}
	return newResponse(map[string]any{"conversations": items, "next_page_token": page.NextPageToken})
}

// PruneEmptyConversations deletes conversations without open members.
func (s *Service) PruneEmptyConversations(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	pruned, err := s.domain.PruneEmptyConversations(ctx)
	if err != nil {
		return nil, handleDomainError(ctx, err, nil)
	}
	return newResponse(map[string]any{"pruned": pruned})
}

// SendMessage posts a message as the caller.
func (s *Service) SendMessage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller := callerID(ctx)
	if caller == "" {
		return nil, unauthenticated(ctx)
	}
	conversationID := stringField(req, "conversation_id")
	parentID := stringField(req, "parent_id")
	message, err := s.domain.SendMessage(ctx, domain.SendMessageInput{
		ConversationID: conversationID,
		SenderID:       caller,
		Body:           stringField(req, "body"),
		ReceiverID:     stringField(req, "receiver_id"),
		ParentID:       parentID,
	})
	if err != nil {
		return nil, handleDomainError(ctx, err, map[string]string{"conversation_id": conversationID, "message_id": parentID})
	}
	return newResponse(map[string]any{"message": encodeMessage(message)})
}

// EditMessage replaces the body of one of the caller's messages.
func (s *Service) EditMessage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller := callerID(ctx)
	if caller == "" {
		return nil, unauthenticated(ctx)
	}
	messageID := stringField(req, "message_id")
	message, err := s.domain.EditMessage(ctx, messageID, caller, stringField(req, "body"))
	if err != nil {
		return nil, handleDomainError(ctx, err, map[string]string{"message_id": messageID})
	}
	return newResponse(map[string]any{"message": encodeMessage(message)})
}

// GetMessage returns one visible message.
func (s *Service) GetMessage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller := callerID(ctx)
	if caller == "" {
		return nil, unauthenticated(ctx)
	}
	messageID := stringField(req, "message_id")
	message, err := s.domain.GetMessage(ctx, messageID, caller)
	if err != nil {
		return nil, handleDomainError(ctx, err, map[string]string{"message_id": messageID})
	}
	return newResponse(map[string]any{"message": encodeMessage(message)})
}

// ListMessages pages a conversation newest first.
func (s *Service) ListMessages(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller := callerID(ctx)
	if caller == "" {
		return nil, unauthenticated(ctx)
	}
	conversationID := stringField(req, "conversation_id")
	page, err := s.domain.ListMessages(ctx, conversationID, caller, intField(req, "page_size"), stringField(req, "page_token"))
	if err != nil {
		return nil, handleDomainError(ctx, err, map[string]string{"conversation_id": conversationID})
	}
	return newResponse(map[string]any{"messages": encodeMessages(page.Messages), "next_page_token": page.NextPageToken})
}

// ListReplies returns direct replies oldest first.
func (s *Service) ListReplies(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller := callerID(ctx)
	if caller == "" {
		return nil, unauthenticated(ctx)
	}
	messageID := stringField(req, "message_id")
	replies, err := s.domain.ListReplies(ctx, messageID, caller)
	if err != nil {
		return nil, handleDomainError(ctx, err, map[string]string{"message_id": messageID})
	}
	return newResponse(map[string]any{"messages": encodeMessages(replies)})
}

// GetMessageHistory returns the body snapshots of a message.
func (s *Service) GetMessageHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller := callerID(ctx)
	if caller == "" {
		return nil, unauthenticated(ctx)
	}
	messageID := stringField(req, "message_id")
	entries, err := s.domain.MessageHistory(ctx, messageID, caller)
	if err != nil {
		return nil, handleDomainError(ctx, err, map[string]string{"message_id": messageID})
	}
	items := make([]any, 0, len(entries))
	for _, entry := range entries {
		items = append(items, encodeHistory(entry))
	}
	return newResponse(map[string]any{"history": items})
}

// MarkRead records a receipt for the caller.
func (s *Service) MarkRead(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller := callerID(ctx)
	if caller == "" {
		return nil, unauthenticated(ctx)
	}
	messageID := stringField(req, "message_id")
	created, err := s.domain.MarkRead(ctx, messageID, caller)
	if err != nil {
		return nil, handleDomainError(ctx, err, map[string]string{"message_id": messageID})
	}
	return newResponse(map[string]any{"created": created})
}

// MarkAllRead receipts every unread message in a conversation.
func (s *Service) MarkAllRead(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller := callerID(ctx)
	if caller == "" {
		return nil, unauthenticated(ctx)
	}
	conversationID := stringField(req, "conversation_id")
	marked, err := s.domain.MarkAllRead(ctx, conversationID, caller)
	if err != nil {
		return nil, handleDomainError(ctx, err, map[string]string{"conversation_id": conversationID})
	}
	return newResponse(map[string]any{"marked": marked})
}

// MarkManyRead receipts the listed messages the caller can see.
func (s *Service) MarkManyRead(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller := callerID(ctx)
	if caller == "" {
		return nil, unauthenticated(ctx)
	}
	marked, err := s.domain.MarkManyRead(ctx, caller, stringListField(req, "message_ids"))
	if err != nil {
		return nil, handleDomainError(ctx, err, nil)
	}
	return newResponse(map[string]any{"marked": marked})
}

// GetUnreadCount returns the caller's unread count.
func (s *Service) GetUnreadCount(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	caller := callerID(ctx)
	if caller == "" {
		return nil, unauthenticated(ctx)
	}
	count, err := s.domain.UnreadCount(ctx, caller)
	if err != nil {
		return nil, handleDomainError(ctx, err, nil)
	}
	return newResponse(map[string]any{"unread_count": count})
}

// ListUnreadMessages pages the caller's unread messages.
func (s *Service) ListUnreadMessages(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller := callerID(ctx)
	if caller == "" {
		return nil, unauthenticated(ctx)
	}
	page, err := s.domain.UnreadMessages(ctx, caller, intField(req, "page_size"), stringField(req, "page_token"))
	if err != nil {
		return nil, handleDomainError(ctx, err, nil)
	}
	return newResponse(map[string]any{"messages": encodeMessages(page.Messages), "next_page_token": page.NextPageToken})
}

// GetUnreadByConversation groups the caller's unread messages.
func (s *Service) GetUnreadByConversation(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	caller := callerID(ctx)
	if caller == "" {
		return nil, unauthenticated(ctx)
	}
	groups, err := s.domain.UnreadByConversation(ctx, caller)
	if err != nil {
		return nil, handleDomainError(ctx, err, nil)
	}
	items := make([]any, 0, len(groups))
	for _, group := range groups {
		items = append(items, map[string]any{
			"conversation_id": group.ConversationID,
			"count":           group.Count,
			"messages":        encodeMessages(group.Messages),
		})
	}
	return newResponse(map[string]any{"conversations": items})
}

// GetConversationStats summarizes the caller's activity.
func (s *Service) GetConversationStats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	caller := callerID(ctx)
	if caller == "" {
		return nil, unauthenticated(ctx)
	}
	stats, err := s.domain.ConversationStats(ctx, caller)
	if err != nil {
		return nil, handleDomainError(ctx, err, nil)
	}
	return newResponse(map[string]any{
		"total_conversations":  stats.TotalConversations,
		"total_messages":       stats.TotalMessages,
		"unread_messages":      stats.UnreadMessages,
		"active_conversations": stats.ActiveConversations,
	})
}

// ListNotifications returns the caller's newest notifications.
func (s *Service) ListNotifications(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller := callerID(ctx)
	if caller == "" {
		return nil, unauthenticated(ctx)
	}
	notifications, err := s.domain.ListNotifications(ctx, caller, intField(req, "limit"))
	if err != nil {
		return nil, handleDomainError(ctx, err, nil)
	}
	items := make([]any, 0, len(notifications))
	for _, notification := range notifications {
		items = append(items, encodeNotification(notification))
	}
	return newResponse(map[string]any{"notifications": items})
}
