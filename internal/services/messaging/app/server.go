// Package server wires the messaging runtime and gRPC lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"path/filepath"
	"strings"
	"time"

	messagingv1 "github.com/louisbranch/threadline/api/gen/go/messaging/v1"
	"github.com/louisbranch/threadline/internal/platform/config"
	platformgrpc "github.com/louisbranch/threadline/internal/platform/grpc"
	"github.com/louisbranch/threadline/internal/platform/timeouts"
	messagingservice "github.com/louisbranch/threadline/internal/services/messaging/api/grpc/messaging"
	rediscache "github.com/louisbranch/threadline/internal/services/messaging/cache/redis"
	"github.com/louisbranch/threadline/internal/services/messaging/domain"
	"github.com/louisbranch/threadline/internal/services/messaging/relay"
	"github.com/louisbranch/threadline/internal/services/messaging/storage"
	"github.com/louisbranch/threadline/internal/services/messaging/storage/backend"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

type serverEnv struct {
	StorageDriver string        `env:"THREADLINE_MESSAGING_STORAGE" envDefault:"sqlite"`
	DBPath        string        `env:"THREADLINE_MESSAGING_DB_PATH"`
	PostgresDSN   string        `env:"THREADLINE_MESSAGING_POSTGRES_DSN"`
	CacheURL      string        `env:"THREADLINE_MESSAGING_CACHE_URL"`
	CacheTTL      time.Duration `env:"THREADLINE_MESSAGING_CACHE_TTL" envDefault:"5m"`
	QueueURL      string        `env:"THREADLINE_MESSAGING_QUEUE_URL"`
	QueueName     string        `env:"THREADLINE_MESSAGING_QUEUE" envDefault:"notifications"`
	QueueMaxRetry int           `env:"THREADLINE_MESSAGING_QUEUE_MAX_RETRY" envDefault:"8"`
	RelayInterval time.Duration `env:"THREADLINE_MESSAGING_RELAY_INTERVAL" envDefault:"2s"`
	RelayBatch    int           `env:"THREADLINE_MESSAGING_RELAY_BATCH" envDefault:"100"`
	CascadeTries  uint          `env:"THREADLINE_MESSAGING_CASCADE_ATTEMPTS" envDefault:"4"`
}

func loadServerEnv() serverEnv {
	var cfg serverEnv
	_ = config.ParseEnv(&cfg)
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join("data", "messaging.db")
	}
	return cfg
}

// Server hosts the messaging gRPC API, the notification relay and storage
// lifecycle.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	store      storage.Store
	cache      *rediscache.Cache
	enqueuer   *relay.AsynqEnqueuer
	relay      *relay.Relay
}

// New creates a configured messaging server listening on the provided port.
func New(port int) (*Server, error) {
	return NewWithAddr(fmt.Sprintf(":%d", port))
}

// NewWithAddr creates a configured messaging server for the provided address.
func NewWithAddr(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	srv := &Server{listener: listener}

	env := loadServerEnv()
	openCtx, cancel := context.WithTimeout(context.Background(), timeouts.StoreOpen)
	defer cancel()
	store, err := backend.Open(openCtx, backend.Config{
		Driver:      env.StorageDriver,
		SQLitePath:  env.DBPath,
		PostgresDSN: env.PostgresDSN,
	})
	if err != nil {
		srv.Close()
		return nil, err
	}
	srv.store = store

	opts := []domain.Option{domain.WithCascadeAttempts(env.CascadeTries)}
	if url := strings.TrimSpace(env.CacheURL); url != "" {
		cacheCtx, cacheCancel := context.WithTimeout(context.Background(), timeouts.CacheDial)
		cache, err := rediscache.Open(cacheCtx, url, env.CacheTTL)
		cacheCancel()
		if err != nil {
			srv.Close()
			return nil, fmt.Errorf("open unread cache: %w", err)
		}
		srv.cache = cache
		opts = append(opts, domain.WithUnreadCache(cache))
	}

	if url := strings.TrimSpace(env.QueueURL); url != "" {
		enqueuer, err := relay.NewAsynqEnqueuer(url, env.QueueName, env.QueueMaxRetry)
		if err != nil {
			srv.Close()
			return nil, fmt.Errorf("open notification queue: %w", err)
		}
		srv.enqueuer = enqueuer
		srv.relay = relay.New(store, enqueuer, relay.Config{
			PollInterval: env.RelayInterval,
			BatchSize:    env.RelayBatch,
		}, nil)
	}

	domainService := domain.NewService(store, nil, nil, opts...)
	srv.grpcServer = grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(platformgrpc.UnaryServerInterceptor(nil)),
	)
	srv.health = health.NewServer()
	messagingv1.RegisterMessagingServiceServer(srv.grpcServer, messagingservice.NewService(domainService))
	grpc_health_v1.RegisterHealthServer(srv.grpcServer, srv.health)
	srv.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	srv.health.SetServingStatus(messagingservice.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return srv, nil
}

// Addr returns the listener address for the server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a messaging server until context cancellation.
func Run(ctx context.Context, port int) error {
	server, err := New(port)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the gRPC server and, when a queue is configured, the
// notification relay until context cancellation.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	relayCtx, stopRelay := context.WithCancel(ctx)
	relayDone := make(chan struct{})
	if s.relay != nil {
		go func() {
			defer close(relayDone)
			if err := s.relay.Run(relayCtx); err != nil {
				log.Printf("notification relay stopped: %v", err)
			}
		}()
	} else {
		close(relayDone)
	}
	defer func() {
		stopRelay()
		<-relayDone
	}()

	log.Printf("messaging server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		if s.health != nil {
			s.health.Shutdown()
		}
		s.gracefulStop()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}

// gracefulStop drains in-flight calls, forcing a stop after timeouts.Shutdown.
func (s *Server) gracefulStop() {
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeouts.Shutdown):
		s.grpcServer.Stop()
		<-done
	}
}

// Close releases messaging server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.enqueuer != nil {
		if err := s.enqueuer.Close(); err != nil {
			log.Printf("close notification queue: %v", err)
		}
		s.enqueuer = nil
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			log.Printf("close unread cache: %v", err)
		}
		s.cache = nil
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close messaging store: %v", err)
		}
		s.store = nil
	}
}
