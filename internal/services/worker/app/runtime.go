package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	platformgrpc "github.com/louisbranch/threadline/internal/platform/grpc"
	"github.com/louisbranch/threadline/internal/platform/timeouts"
	messagingservice "github.com/louisbranch/threadline/internal/services/messaging/api/grpc/messaging"
	"github.com/louisbranch/threadline/internal/services/messaging/relay"
	workerdomain "github.com/louisbranch/threadline/internal/services/worker/domain"
	workersqlite "github.com/louisbranch/threadline/internal/services/worker/storage/sqlite"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// RuntimeConfig controls worker startup, dependencies, and queue behavior.
type RuntimeConfig struct {
	Port            int
	MessagingAddr   string
	RedisURL        string
	Queue           string
	Concurrency     int
	DBPath          string
	Consumer        string
	RetryBackoff    time.Duration
	RetryMaxDelay   time.Duration
	GRPCDialTimeout time.Duration
}

const (
	defaultWorkerPort  = 8096
	defaultWorkerDB    = "data/worker.db"
	defaultConcurrency = 4
)

func (cfg RuntimeConfig) normalized() (RuntimeConfig, error) {
	if strings.TrimSpace(cfg.MessagingAddr) == "" {
		return RuntimeConfig{}, fmt.Errorf("messaging address is required")
	}
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return RuntimeConfig{}, fmt.Errorf("redis url is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultWorkerPort
	}
	if strings.TrimSpace(cfg.Queue) == "" {
		cfg.Queue = relay.DefaultQueue
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultWorkerDB
	}
	if cfg.GRPCDialTimeout <= 0 {
		cfg.GRPCDialTimeout = timeouts.GRPCDial
	}
	return cfg, nil
}

// Run starts worker runtime dependencies and consumes delivery tasks until
// ctx is cancelled.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := cfg.normalized()
	if err != nil {
		return err
	}
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create worker storage dir: %w", err)
		}
	}

	workerStore, err := workersqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open worker sqlite store: %w", err)
	}
	defer func() {
		if closeErr := workerStore.Close(); closeErr != nil {
			log.Printf("close worker sqlite store: %v", closeErr)
		}
	}()

	messagingConn, err := platformgrpc.DialWithHealth(
		ctx,
		cfg.MessagingAddr,
		cfg.GRPCDialTimeout,
		log.Printf,
		platformgrpc.DefaultClientDialOptions()...,
	)
	if err != nil {
		return fmt.Errorf("dial messaging service: %w", err)
	}
	defer func() {
		if closeErr := messagingConn.Close(); closeErr != nil {
			log.Printf("close messaging connection: %v", closeErr)
		}
	}()

	messagingClient := messagingservice.NewClient(messagingConn)
	delivery := workerdomain.NewNotificationDeliveryHandler(messagingClient, workerdomain.NewLogDeliverer(log.Printf), nil)
	processor := NewProcessor(
		deliveryHandlers(delivery),
		newAttemptStoreRecorder(workerStore, cfg.Consumer),
		nil,
	)

	mux := asynq.NewServeMux()
	mux.Handle(relay.TaskTypeNotificationDeliver, processor)
	queueServer := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.Concurrency,
		Queues:          map[string]int{cfg.Queue: 1},
		RetryDelayFunc:  retryDelay(cfg.RetryBackoff, cfg.RetryMaxDelay),
		ShutdownTimeout: timeouts.Shutdown,
		Logger:          asynqLogger{logf: log.Printf},
		LogLevel:        asynq.WarnLevel,
	})

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on worker port %d: %w", cfg.Port, err)
	}
	defer listener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("worker.runtime", grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-serveErr
	}()

	if err := queueServer.Start(mux); err != nil {
		return fmt.Errorf("start queue server: %w", err)
	}
	defer queueServer.Shutdown()

	log.Printf("worker server listening at %v, consuming queue %q", listener.Addr(), cfg.Queue)
	<-ctx.Done()
	return nil
}

// deliveryHandlers maps each queued task type to its handler.
func deliveryHandlers(delivery EventHandler) map[string]EventHandler {
	return map[string]EventHandler{
		relay.TaskTypeNotificationDeliver: delivery,
	}
}
