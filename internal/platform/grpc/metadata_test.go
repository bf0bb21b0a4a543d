package grpc

import (
	"context"
	"errors"
	"testing"

	"github.com/louisbranch/threadline/internal/platform/requestctx"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type fakeTransportStream struct {
	header metadata.MD
}

func (s *fakeTransportStream) Method() string { return "/test.Service/Call" }

func (s *fakeTransportStream) SetHeader(md metadata.MD) error {
	s.header = metadata.Join(s.header, md)
	return nil
}

func (s *fakeTransportStream) SendHeader(md metadata.MD) error { return s.SetHeader(md) }

func (s *fakeTransportStream) SetTrailer(metadata.MD) error { return nil }

func TestUnaryServerInterceptorPopulatesRequestContext(t *testing.T) {
	stream := &fakeTransportStream{}
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(
		UserIDHeader, " user-1 ",
		RequestIDHeader, "req-1",
		LocaleHeader, "pt-BR,pt;q=0.8",
	))
	ctx = gogrpc.NewContextWithServerTransportStream(ctx, stream)

	interceptor := UnaryServerInterceptor(func() (string, error) {
		t.Fatal("generator should not be called when request id is present")
		return "", nil
	})

	var gotUser, gotRequest, gotLocale string
	_, err := interceptor(ctx, nil, &gogrpc.UnaryServerInfo{FullMethod: "/test.Service/Call"}, func(ctx context.Context, req any) (any, error) {
		gotUser = requestctx.UserIDFromContext(ctx)
		gotRequest = requestctx.RequestIDFromContext(ctx)
		gotLocale = requestctx.LocaleFromContext(ctx)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if gotUser != "user-1" {
		t.Fatalf("user id = %q", gotUser)
	}
	if gotRequest != "req-1" {
		t.Fatalf("request id = %q", gotRequest)
	}
	if gotLocale != "pt-BR" {
		t.Fatalf("locale = %q", gotLocale)
	}
	if got := FirstMetadataValue(stream.header, RequestIDHeader); got != "req-1" {
		t.Fatalf("response request id = %q", got)
	}
}

func TestUnaryServerInterceptorGeneratesRequestID(t *testing.T) {
	stream := &fakeTransportStream{}
	ctx := gogrpc.NewContextWithServerTransportStream(context.Background(), stream)

	interceptor := UnaryServerInterceptor(func() (string, error) { return "generated", nil })
	var gotRequest, gotLocale string
	_, err := interceptor(ctx, nil, &gogrpc.UnaryServerInfo{}, func(ctx context.Context, req any) (any, error) {
		gotRequest = requestctx.RequestIDFromContext(ctx)
		gotLocale = requestctx.LocaleFromContext(ctx)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if gotRequest != "generated" {
		t.Fatalf("request id = %q", gotRequest)
	}
	if gotLocale != "en-US" {
		t.Fatalf("locale = %q", gotLocale)
	}
}

func TestUnaryServerInterceptorGeneratorFailure(t *testing.T) {
	interceptor := UnaryServerInterceptor(func() (string, error) { return "", errors.New("boom") })
	_, err := interceptor(context.Background(), nil, &gogrpc.UnaryServerInfo{}, func(ctx context.Context, req any) (any, error) {
		t.Fatal("handler should not run")
		return nil, nil
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("code = %v, want Internal", status.Code(err))
	}
}

func TestFirstMetadataValueSkipsNonPrintable(t *testing.T) {
	md := metadata.MD{"x-threadline-user-id": {"bad\x01", "good"}}
	if got := FirstMetadataValue(md, UserIDHeader); got != "good" {
		t.Fatalf("value = %q", got)
	}
}

func TestWithUserIDSetsOutgoingMetadata(t *testing.T) {
	ctx := WithUserID(context.Background(), " u-9 ")
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		t.Fatal("expected outgoing metadata")
	}
	if got := FirstMetadataValue(md, UserIDHeader); got != "u-9" {
		t.Fatalf("user id = %q", got)
	}
}
