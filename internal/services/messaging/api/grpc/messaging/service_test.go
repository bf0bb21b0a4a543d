package messaging

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	messagingv1 "github.com/louisbranch/threadline/api/gen/go/messaging/v1"
	platformgrpc "github.com/louisbranch/threadline/internal/platform/grpc"
	"github.com/louisbranch/threadline/internal/services/messaging/domain"
	"github.com/louisbranch/threadline/internal/services/messaging/storage/sqlite"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpcmetadata "google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func startTestServer(t *testing.T) *Client {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "messaging.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return start.Add(time.Duration(tick) * time.Second)
	}
	svc := domain.NewService(store, clock, nil)

	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(platformgrpc.UnaryServerInterceptor(nil)))
	messagingv1.RegisterMessagingServiceServer(server, NewService(svc))
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn)
}

func mustCall(t *testing.T, client *Client, userID, method string, fields map[string]any) *structpb.Struct {
	t.Helper()
	resp, err := client.Call(context.Background(), userID, method, fields)
	if err != nil {
		t.Fatalf("%s: %v", method, err)
	}
	return resp
}

func createUser(t *testing.T, client *Client, name string) string {
	t.Helper()
	resp := mustCall(t, client, "", "CreateUser", map[string]any{
		"display_name": name,
		"email":        name + "@example.com",
	})
	return resp.GetFields()["user"].GetStructValue().GetFields()["id"].GetStringValue()
}

func TestMessagingServiceUnreadScenario(t *testing.T) {
	t.Parallel()

	client := startTestServer(t)
	ctx := context.Background()
	alice := createUser(t, client, "alice")
	bob := createUser(t, client, "bob")

	conv := mustCall(t, client, alice, "CreateConversation", map[string]any{"participant_ids": []any{bob}})
	conversationID := conv.GetFields()["conversation"].GetStructValue().GetFields()["id"].GetStringValue()
	if conversationID == "" {
		t.Fatal("expected conversation id")
	}

	for _, body := range []string{"hi", "there"} {
		mustCall(t, client, alice, "SendMessage", map[string]any{"conversation_id": conversationID, "body": body})
	}
	marked := mustCall(t, client, bob, "MarkAllRead", map[string]any{"conversation_id": conversationID})
	if got := marked.GetFields()["marked"].GetNumberValue(); got != 2 {
		t.Fatalf("marked = %v, want 2", got)
	}

	again := mustCall(t, client, alice, "SendMessage", map[string]any{"conversation_id": conversationID, "body": "again"})
	againID := again.GetFields()["message"].GetStructValue().GetFields()["id"].GetStringValue()
	count, err := client.UnreadCount(ctx, bob)
	if err != nil {
		t.Fatalf("unread count: %v", err)
	}
	if count != 1 {
		t.Fatalf("unread count = %d, want 1", count)
	}

	groups, err := client.UnreadByConversation(ctx, bob)
	if err != nil {
		t.Fatalf("unread by conversation: %v", err)
	}
	if len(groups) != 1 || groups[0].GetFields()["count"].GetNumberValue() != 1 {
		t.Fatalf("unexpected unread groups: %v", groups)
	}

	mustCall(t, client, bob, "MarkRead", map[string]any{"message_id": againID})
	count, err = client.UnreadCount(ctx, bob)
	if err != nil {
		t.Fatalf("unread count after mark: %v", err)
	}
	if count != 0 {
		t.Fatalf("unread count = %d, want 0", count)
	}
}

func TestMessagingServiceDeleteUserRules(t *testing.T) {
	t.Parallel()

	client := startTestServer(t)
	ctx := context.Background()
	alice := createUser(t, client, "alice")
	bob := createUser(t, client, "bob")
	conv := mustCall(t, client, alice, "CreateConversation", map[string]any{"participant_ids": []any{bob}})
	conversationID := conv.GetFields()["conversation"].GetStructValue().GetFields()["id"].GetStringValue()
	mustCall(t, client, alice, "SendMessage", map[string]any{"conversation_id": conversationID, "body": "bye"})

	_, err := client.DeleteUser(ctx, bob, alice)
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied for non-admin, got %v", err)
	}

	cascade, err := client.DeleteUser(ctx, alice, alice)
	if err != nil {
		t.Fatalf("delete self: %v", err)
	}
	if !cascade.GetFields()["user_deleted"].GetBoolValue() || cascade.GetFields()["messages"].GetNumberValue() != 1 {
		t.Fatalf("unexpected cascade: %v", cascade)
	}
	count, err := client.UnreadCount(ctx, bob)
	if err != nil {
		t.Fatalf("unread count: %v", err)
	}
	if count != 0 {
		t.Fatalf("unread count = %d, want 0", count)
	}
}

func TestMessagingServiceRequiresCaller(t *testing.T) {
	t.Parallel()

	client := startTestServer(t)
	_, err := client.Call(context.Background(), "", "GetUnreadCount", nil)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("status code = %v, want %v", status.Code(err), codes.Unauthenticated)
	}
}

func TestMessagingServiceLocalizesErrors(t *testing.T) {
	t.Parallel()

	client := startTestServer(t)
	alice := createUser(t, client, "alice")
	ctx := grpcmetadata.AppendToOutgoingContext(context.Background(), platformgrpc.LocaleHeader, "pt-BR")

	_, err := client.Call(ctx, alice, "GetMessage", map[string]any{"message_id": "missing"})
	st := status.Convert(err)
	if st.Code() != codes.NotFound {
		t.Fatalf("status code = %v, want %v", st.Code(), codes.NotFound)
	}
	var localized *errdetails.LocalizedMessage
	var info *errdetails.ErrorInfo
	for _, detail := range st.Details() {
		switch d := detail.(type) {
		case *errdetails.LocalizedMessage:
			localized = d
		case *errdetails.ErrorInfo:
			info = d
		}
	}
	if info == nil || info.GetReason() != "MESSAGE_NOT_FOUND" {
		t.Fatalf("unexpected error info: %v", info)
	}
	if localized == nil || localized.GetLocale() != "pt-BR" || localized.GetMessage() != "Mensagem missing não encontrada." {
		t.Fatalf("unexpected localized message: %v", localized)
	}
}

func TestHandleDomainErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want codes.Code
	}{
		{domain.ErrNotAParticipant, codes.PermissionDenied},
		{domain.ErrForbidden, codes.PermissionDenied},
		{domain.ErrAlreadyParticipant, codes.AlreadyExists},
		{domain.ErrUserAlreadyExists, codes.AlreadyExists},
		{domain.ErrConversationNotFound, codes.NotFound},
		{domain.ErrEmptyBody, codes.InvalidArgument},
		{domain.ErrMessageIDRequired, codes.InvalidArgument},
		{fmt.Errorf("wrap: %w", domain.ErrInvariantViolation), codes.FailedPrecondition},
		{context.Canceled, codes.Canceled},
		{errors.New("disk on fire"), codes.Internal},
	}
	for _, tc := range tests {
		if got := status.Code(handleDomainError(context.Background(), tc.err, nil)); got != tc.want {
			t.Fatalf("handleDomainError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
	if handleDomainError(context.Background(), nil, nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

func TestStructFieldReaders(t *testing.T) {
	t.Parallel()

	req, err := structpb.NewStruct(map[string]any{
		"name":      "  alice ",
		"page_size": 25,
		"negative":  -3,
		"ids":       []any{"a", " ", "b"},
	})
	if err != nil {
		t.Fatalf("new struct: %v", err)
	}
	if got := stringField(req, "name"); got != "alice" {
		t.Fatalf("stringField = %q", got)
	}
	if got := intField(req, "page_size"); got != 25 {
		t.Fatalf("intField = %d", got)
	}
	if got := intField(req, "negative"); got != 0 {
		t.Fatalf("intField negative = %d", got)
	}
	if got := stringListField(req, "ids"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("stringListField = %v", got)
	}
	if got := stringField(req, "absent"); got != "" {
		t.Fatalf("absent field = %q", got)
	}
}

func TestClientMessageVisible(t *testing.T) {
	t.Parallel()

	client := startTestServer(t)
	ctx := context.Background()
	alice := createUser(t, client, "alice")
	bob := createUser(t, client, "bob")

	conv := mustCall(t, client, alice, "CreateConversation", map[string]any{"participant_ids": []any{bob}})
	conversationID := conv.GetFields()["conversation"].GetStructValue().GetFields()["id"].GetStringValue()
	sent := mustCall(t, client, alice, "SendMessage", map[string]any{"conversation_id": conversationID, "body": "hi"})
	messageID := sent.GetFields()["message"].GetStructValue().GetFields()["id"].GetStringValue()

	visible, err := client.MessageVisible(ctx, bob, messageID)
	if err != nil {
		t.Fatalf("message visible: %v", err)
	}
	if !visible {
		t.Fatal("expected message visible to bob")
	}

	mustCall(t, client, bob, "RemoveParticipant", map[string]any{"conversation_id": conversationID})
	visible, err = client.MessageVisible(ctx, bob, messageID)
	if err != nil {
		t.Fatalf("message visible after leave: %v", err)
	}
	if visible {
		t.Fatal("expected message hidden after bob left")
	}

	visible, err = client.MessageVisible(ctx, alice, "missing")
	if err != nil {
		t.Fatalf("message visible missing: %v", err)
	}
	if visible {
		t.Fatal("expected missing message to be hidden")
	}

	if _, err := client.MessageVisible(ctx, "", messageID); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("code = %v, want Unauthenticated", status.Code(err))
	}
}

func TestClientCoversEveryServiceMethod(t *testing.T) {
	t.Parallel()

	if ServiceName != messagingv1.MessagingService_ServiceDesc.ServiceName {
		t.Fatalf("service name = %q, want %q", ServiceName, messagingv1.MessagingService_ServiceDesc.ServiceName)
	}
	for _, method := range messagingv1.MessagingService_ServiceDesc.Methods {
		if _, ok := rpcMethods[method.MethodName]; !ok {
			t.Fatalf("client has no call for %s", method.MethodName)
		}
	}
	if len(rpcMethods) != len(messagingv1.MessagingService_ServiceDesc.Methods) {
		t.Fatalf("client calls = %d, service methods = %d", len(rpcMethods), len(messagingv1.MessagingService_ServiceDesc.Methods))
	}

	client := startTestServer(t)
	if _, err := client.Call(context.Background(), "u-1", "Missing", nil); err == nil {
		t.Fatal("expected unknown method error")
	}
}
