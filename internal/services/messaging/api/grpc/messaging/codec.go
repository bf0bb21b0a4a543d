package messaging

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/louisbranch/threadline/internal/services/messaging/domain"
	"google.golang.org/protobuf/types/known/structpb"
)

// Requests and responses travel as google.protobuf.Struct. Field names are
// snake_case; timestamps are RFC 3339 strings in UTC.

func stringField(req *structpb.Struct, name string) string {
	value, ok := req.GetFields()[name]
	if !ok {
		return ""
	}
	return strings.TrimSpace(value.GetStringValue())
}

func intField(req *structpb.Struct, name string) int {
	value, ok := req.GetFields()[name]
	if !ok {
		return 0
	}
	number := value.GetNumberValue()
	if math.IsNaN(number) || number < 0 || number > math.MaxInt32 {
		return 0
	}
	return int(number)
}

func stringListField(req *structpb.Struct, name string) []string {
	value, ok := req.GetFields()[name]
	if !ok {
		return nil
	}
	items := value.GetListValue().GetValues()
	out := make([]string, 0, len(items))
	for _, item := range items {
		if text := strings.TrimSpace(item.GetStringValue()); text != "" {
			out = append(out, text)
		}
	}
	return out
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func encodeUser(user domain.User) map[string]any {
	return map[string]any{
		"id":           user.ID,
		"display_name": user.DisplayName,
		"email":        user.Email,
		"role":         string(user.Role),
		"active":       user.Active,
		"created_at":   formatTime(user.CreatedAt),
	}
}

func encodeConversation(conversation domain.Conversation) map[string]any {
	return map[string]any{
		"id":         conversation.ID,
		"created_at": formatTime(conversation.CreatedAt),
	}
}

func encodeParticipant(participant domain.Participant) map[string]any {
	return map[string]any{
		"conversation_id": participant.ConversationID,
		"user_id":         participant.UserID,
		"joined_at":       formatTime(participant.JoinedAt),
	}
}

func encodeMessage(message domain.Message) map[string]any {
	out := map[string]any{
		"id":              message.ID,
		"conversation_id": message.ConversationID,
		"sender_id":       message.SenderID,
		"body":            message.Body,
		"sent_at":         formatTime(message.SentAt),
		"edited":          message.Edited(),
	}
	if message.ReceiverID != "" {
		out["receiver_id"] = message.ReceiverID
	}
	if message.ParentID != "" {
		out["parent_id"] = message.ParentID
	}
	if message.EditedAt != nil {
		out["edited_at"] = formatTime(*message.EditedAt)
	}
	return out
}

func encodeMessages(messages []domain.Message) []any {
	out := make([]any, 0, len(messages))
	for _, message := range messages {
		out = append(out, encodeMessage(message))
	}
	return out
}

func encodeHistory(entry domain.HistoryEntry) map[string]any {
	return map[string]any{
		"message_id":  entry.MessageID,
		"action":      entry.Action,
		"content":     entry.Content,
		"actor_id":    entry.ActorID,
		"recorded_at": formatTime(entry.RecordedAt),
	}
}

func encodeNotification(notification domain.Notification) map[string]any {
	out := map[string]any{
		"id":           notification.ID,
		"message_id":   notification.MessageID,
		"sender_id":    notification.SenderID,
		"recipient_id": notification.RecipientID,
		"created_at":   formatTime(notification.CreatedAt),
	}
	if notification.DispatchedAt != nil {
		out["dispatched_at"] = formatTime(*notification.DispatchedAt)
	}
	return out
}

func encodeCascade(result domain.CascadeResult) map[string]any {
	return map[string]any{
		"notifications": result.Notifications,
		"receipts":      result.Receipts,
		"messages":      result.Messages,
		"memberships":   result.Memberships,
		"conversations": result.Conversations,
		"history":       result.History,
		"user_deleted":  result.UserDeleted,
	}
}

func newResponse(fields map[string]any) (*structpb.Struct, error) {
	resp, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return resp, nil
}
