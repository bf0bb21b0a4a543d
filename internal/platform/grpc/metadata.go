package grpc

import (
	"context"
	"strings"

	"github.com/louisbranch/threadline/internal/platform/errors/i18n"
	"github.com/louisbranch/threadline/internal/platform/id"
	"github.com/louisbranch/threadline/internal/platform/requestctx"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// RequestIDHeader is the gRPC metadata key for request correlation IDs.
const RequestIDHeader = "x-threadline-request-id"

// UserIDHeader is the gRPC metadata key carrying the calling user identity.
// Authentication happens upstream; this service trusts the header.
const UserIDHeader = "x-threadline-user-id"

// LocaleHeader carries the caller's preferred languages for error messages.
const LocaleHeader = "accept-language"

// IsPrintableASCII reports whether a string contains only printable ASCII characters.
func IsPrintableASCII(value string) bool {
	if value == "" {
		return false
	}
	for i := 0; i < len(value); i++ {
		if value[i] < 0x20 || value[i] > 0x7e {
			return false
		}
	}
	return true
}

// FirstMetadataValue returns the first printable ASCII metadata value for a key.
func FirstMetadataValue(md metadata.MD, key string) string {
	if len(md) == 0 {
		return ""
	}
	for mdKey, values := range md {
		if !strings.EqualFold(mdKey, key) {
			continue
		}
		for _, value := range values {
			if IsPrintableASCII(value) {
				return value
			}
		}
	}
	return ""
}

// UnaryServerInterceptor copies request metadata into requestctx.
// Every call gets a request ID, generated when the client omitted one, which is
// echoed back as a response header.
func UnaryServerInterceptor(idGenerator func() (string, error)) gogrpc.UnaryServerInterceptor {
	if idGenerator == nil {
		idGenerator = id.NewID
	}
	return func(ctx context.Context, req any, info *gogrpc.UnaryServerInfo, handler gogrpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)

		requestID := FirstMetadataValue(md, RequestIDHeader)
		if requestID == "" {
			generated, err := idGenerator()
			if err != nil {
				return nil, status.Errorf(codes.Internal, "generate request id: %v", err)
			}
			requestID = generated
		}

		ctx = requestctx.WithRequestID(ctx, requestID)
		ctx = requestctx.WithUserID(ctx, FirstMetadataValue(md, UserIDHeader))
		ctx = requestctx.WithLocale(ctx, i18n.ResolveLocale(FirstMetadataValue(md, LocaleHeader)))

		if err := gogrpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, requestID)); err != nil {
			return nil, status.Errorf(codes.Internal, "set response metadata: %v", err)
		}
		return handler(ctx, req)
	}
}

// WithUserID returns a context that sends userID as the caller identity on
// outgoing calls.
func WithUserID(ctx context.Context, userID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, UserIDHeader, strings.TrimSpace(userID))
}
