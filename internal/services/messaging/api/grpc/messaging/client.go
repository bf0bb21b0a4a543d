package messaging

import (
	"context"
	"fmt"

	messagingv1 "github.com/louisbranch/threadline/api/gen/go/messaging/v1"
	platformgrpc "github.com/louisbranch/threadline/internal/platform/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type rpcMethod func(messagingv1.MessagingServiceClient, context.Context, *structpb.Struct, ...grpc.CallOption) (*structpb.Struct, error)

var rpcMethods = map[string]rpcMethod{
	"CreateUser":              messagingv1.MessagingServiceClient.CreateUser,
	"GetUser":                 messagingv1.MessagingServiceClient.GetUser,
	"DeleteUser":              messagingv1.MessagingServiceClient.DeleteUser,
	"CreateConversation":      messagingv1.MessagingServiceClient.CreateConversation,
	"AddParticipant":          messagingv1.MessagingServiceClient.AddParticipant,
	"RemoveParticipant":       messagingv1.MessagingServiceClient.RemoveParticipant,
	"ListParticipants":        messagingv1.MessagingServiceClient.ListParticipants,
	"ListConversations":       messagingv1.MessagingServiceClient.ListConversations,
	"PruneEmptyConversations": messagingv1.MessagingServiceClient.PruneEmptyConversations,
	"SendMessage":             messagingv1.MessagingServiceClient.SendMessage,
	"EditMessage":             messagingv1.MessagingServiceClient.EditMessage,
	"GetMessage":              messagingv1.MessagingServiceClient.GetMessage,
	"ListMessages":            messagingv1.MessagingServiceClient.ListMessages,
	"ListReplies":             messagingv1.MessagingServiceClient.ListReplies,
	"GetMessageHistory":       messagingv1.MessagingServiceClient.GetMessageHistory,
	"MarkRead":                messagingv1.MessagingServiceClient.MarkRead,
	"MarkAllRead":             messagingv1.MessagingServiceClient.MarkAllRead,
	"MarkManyRead":            messagingv1.MessagingServiceClient.MarkManyRead,
	"GetUnreadCount":          messagingv1.MessagingServiceClient.GetUnreadCount,
	"ListUnreadMessages":      messagingv1.MessagingServiceClient.ListUnreadMessages,
	"GetUnreadByConversation": messagingv1.MessagingServiceClient.GetUnreadByConversation,
	"GetConversationStats":    messagingv1.MessagingServiceClient.GetConversationStats,
	"ListNotifications":       messagingv1.MessagingServiceClient.ListNotifications,
}

// Client calls MessagingService on behalf of a user.
type Client struct {
	rpc messagingv1.MessagingServiceClient
}

// NewClient wraps a connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{rpc: messagingv1.NewMessagingServiceClient(conn)}
}

// Call invokes method as userID with the given request fields.
func (c *Client) Call(ctx context.Context, userID, method string, fields map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	call, ok := rpcMethods[method]
	if !ok {
		return nil, fmt.Errorf("unknown messaging method %q", method)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	if userID != "" {
		ctx = platformgrpc.WithUserID(ctx, userID)
	}
	return call(c.rpc, ctx, req, opts...)
}

// UnreadCount returns the unread count of userID.
func (c *Client) UnreadCount(ctx context.Context, userID string) (int, error) {
	resp, err := c.Call(ctx, userID, "GetUnreadCount", nil)
	if err != nil {
		return 0, err
	}
	return int(resp.GetFields()["unread_count"].GetNumberValue()), nil
}

// DeleteUser runs the deletion cascade for userID, acting as actorID.
func (c *Client) DeleteUser(ctx context.Context, actorID, userID string) (*structpb.Struct, error) {
	resp, err := c.Call(ctx, actorID, "DeleteUser", map[string]any{"user_id": userID})
	if err != nil {
		return nil, err
	}
	return resp.GetFields()["cascade"].GetStructValue(), nil
}

// PruneEmptyConversations deletes conversations without open members.
func (c *Client) PruneEmptyConversations(ctx context.Context) (int64, error) {
	resp, err := c.Call(ctx, "", "PruneEmptyConversations", nil)
	if err != nil {
		return 0, err
	}
	return int64(resp.GetFields()["pruned"].GetNumberValue()), nil
}

// UnreadByConversation returns the grouped unread summary of userID.
func (c *Client) UnreadByConversation(ctx context.Context, userID string) ([]*structpb.Struct, error) {
	resp, err := c.Call(ctx, userID, "GetUnreadByConversation", nil)
	if err != nil {
		return nil, err
	}
	values := resp.GetFields()["conversations"].GetListValue().GetValues()
	groups := make([]*structpb.Struct, 0, len(values))
	for _, value := range values {
		groups = append(groups, value.GetStructValue())
	}
	return groups, nil
}

// MessageVisible reports whether userID can still read messageID. A removed
// message or a closed membership reads as false rather than an error.
func (c *Client) MessageVisible(ctx context.Context, userID, messageID string) (bool, error) {
	_, err := c.Call(ctx, userID, "GetMessage", map[string]any{"message_id": messageID})
	if err == nil {
		return true, nil
	}
	switch status.Code(err) {
	case codes.NotFound, codes.PermissionDenied:
		return false, nil
	default:
		return false, err
	}
}
