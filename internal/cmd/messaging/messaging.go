// Package messaging parses messaging service flags and launches the service.
package messaging

import (
	"context"
	"flag"

	entrypoint "github.com/louisbranch/threadline/internal/platform/cmd"
	server "github.com/louisbranch/threadline/internal/services/messaging/app"
)

// Config holds messaging command configuration.
type Config struct {
	Port int `env:"THREADLINE_MESSAGING_PORT" envDefault:"8095"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The messaging gRPC server port")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the messaging gRPC API service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceMessaging, func(context.Context) error {
		return server.Run(ctx, cfg.Port)
	})
}
