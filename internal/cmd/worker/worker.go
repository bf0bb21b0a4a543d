// Package worker parses worker command flags and launches the worker runtime.
package worker

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/louisbranch/threadline/internal/platform/cmd"
	"github.com/louisbranch/threadline/internal/platform/discovery"
	workerserver "github.com/louisbranch/threadline/internal/services/worker/app"
)

// Config holds worker command configuration.
type Config struct {
	Port            int           `env:"THREADLINE_WORKER_PORT" envDefault:"8096"`
	MessagingAddr   string        `env:"THREADLINE_WORKER_MESSAGING_ADDR"`
	RedisURL        string        `env:"THREADLINE_WORKER_REDIS_URL"`
	Queue           string        `env:"THREADLINE_WORKER_QUEUE" envDefault:"notifications"`
	Concurrency     int           `env:"THREADLINE_WORKER_CONCURRENCY" envDefault:"4"`
	DBPath          string        `env:"THREADLINE_WORKER_DB_PATH" envDefault:"data/worker.db"`
	Consumer        string        `env:"THREADLINE_WORKER_CONSUMER" envDefault:"worker-notifications"`
	RetryBackoff    time.Duration `env:"THREADLINE_WORKER_RETRY_BACKOFF" envDefault:"5s"`
	RetryMaxDelay   time.Duration `env:"THREADLINE_WORKER_RETRY_MAX_DELAY" envDefault:"5m"`
	GRPCDialTimeout time.Duration `env:"THREADLINE_WORKER_DIAL_TIMEOUT" envDefault:"2s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	cfg.MessagingAddr = discovery.OrDefaultGRPCAddr(cfg.MessagingAddr, discovery.ServiceMessaging)
	if cfg.RedisURL == "" {
		cfg.RedisURL = "redis://" + discovery.OrDefaultInfraAddr("", discovery.ServiceRedis)
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The worker health gRPC server port")
	fs.StringVar(&cfg.MessagingAddr, "messaging-addr", cfg.MessagingAddr, "The messaging gRPC server address")
	fs.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "Redis URL of the notification queue")
	fs.StringVar(&cfg.Queue, "queue", cfg.Queue, "Notification queue name")
	fs.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "Concurrent delivery tasks")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The worker SQLite database path")
	fs.StringVar(&cfg.Consumer, "consumer", cfg.Consumer, "Consumer name recorded on attempts")
	fs.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "Base retry backoff delay")
	fs.DurationVar(&cfg.RetryMaxDelay, "retry-max-delay", cfg.RetryMaxDelay, "Maximum retry delay")
	fs.DurationVar(&cfg.GRPCDialTimeout, "dial-timeout", cfg.GRPCDialTimeout, "gRPC dependency dial timeout")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the worker runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceWorker, func(context.Context) error {
		return workerserver.Run(ctx, workerserver.RuntimeConfig{
			Port:            cfg.Port,
			MessagingAddr:   cfg.MessagingAddr,
			RedisURL:        cfg.RedisURL,
			Queue:           cfg.Queue,
			Concurrency:     cfg.Concurrency,
			DBPath:          cfg.DBPath,
			Consumer:        cfg.Consumer,
			RetryBackoff:    cfg.RetryBackoff,
			RetryMaxDelay:   cfg.RetryMaxDelay,
			GRPCDialTimeout: cfg.GRPCDialTimeout,
		})
	})
}
