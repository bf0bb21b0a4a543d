// Package maintenance runs operator commands against a live messaging service.
package maintenance

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/threadline/internal/platform/cmd"
	"github.com/louisbranch/threadline/internal/platform/discovery"
	platformgrpc "github.com/louisbranch/threadline/internal/platform/grpc"
	messagingservice "github.com/louisbranch/threadline/internal/services/messaging/api/grpc/messaging"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Config holds maintenance command configuration.
type Config struct {
	MessagingAddr   string        `env:"THREADLINE_MAINTENANCE_MESSAGING_ADDR"`
	Timeout         time.Duration `env:"THREADLINE_MAINTENANCE_TIMEOUT" envDefault:"10m"`
	GRPCDialTimeout time.Duration `env:"THREADLINE_MAINTENANCE_DIAL_TIMEOUT" envDefault:"2s"`
	ActorID         string        `env:"THREADLINE_MAINTENANCE_ACTOR_ID"`
	DeleteUserID    string
	Prune           bool
	UnreadUserID    string
	JSONOutput      bool
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	cfg.MessagingAddr = discovery.OrDefaultGRPCAddr(cfg.MessagingAddr, discovery.ServiceMessaging)

	fs.StringVar(&cfg.MessagingAddr, "messaging-addr", cfg.MessagingAddr, "messaging gRPC server address")
	fs.StringVar(&cfg.ActorID, "actor-id", cfg.ActorID, "user acting on the request (defaults to the target user)")
	fs.StringVar(&cfg.DeleteUserID, "delete-user", "", "run (or re-run) the deletion cascade for this user ID")
	fs.BoolVar(&cfg.Prune, "prune", false, "delete conversations without open participants")
	fs.StringVar(&cfg.UnreadUserID, "unread", "", "report unread state for this user ID")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output JSON reports")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	fs.DurationVar(&cfg.GRPCDialTimeout, "dial-timeout", cfg.GRPCDialTimeout, "gRPC dial timeout")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	selected := 0
	if strings.TrimSpace(cfg.DeleteUserID) != "" {
		selected++
	}
	if cfg.Prune {
		selected++
	}
	if strings.TrimSpace(cfg.UnreadUserID) != "" {
		selected++
	}
	switch selected {
	case 0:
		return errors.New("one of -delete-user, -prune or -unread is required")
	case 1:
		return nil
	default:
		return errors.New("-delete-user, -prune and -unread are mutually exclusive")
	}
}

// messagingClient is the subset of the messaging client used here.
type messagingClient interface {
	DeleteUser(ctx context.Context, actorID, userID string) (*structpb.Struct, error)
	PruneEmptyConversations(ctx context.Context) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	UnreadByConversation(ctx context.Context, userID string) ([]*structpb.Struct, error)
}

// Run executes the maintenance command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	if errOut == nil {
		errOut = io.Discard
	}
	conn, err := platformgrpc.DialWithHealth(
		ctx,
		cfg.MessagingAddr,
		cfg.GRPCDialTimeout,
		log.New(errOut, "", 0).Printf,
		platformgrpc.DefaultClientDialOptions()...,
	)
	if err != nil {
		return fmt.Errorf("dial messaging service: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			fmt.Fprintf(errOut, "Error: close messaging connection: %v\n", closeErr)
		}
	}()
	return run(ctx, cfg, messagingservice.NewClient(conn), out)
}

func run(ctx context.Context, cfg Config, client messagingClient, out io.Writer) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	if client == nil {
		return errors.New("messaging client is required")
	}
	if out == nil {
		out = io.Discard
	}

	switch {
	case strings.TrimSpace(cfg.DeleteUserID) != "":
		return runDeleteUser(ctx, client, cfg, out)
	case cfg.Prune:
		return runPrune(ctx, client, cfg.JSONOutput, out)
	default:
		return runUnreadReport(ctx, client, strings.TrimSpace(cfg.UnreadUserID), cfg.JSONOutput, out)
	}
}

func runDeleteUser(ctx context.Context, client messagingClient, cfg Config, out io.Writer) error {
	userID := strings.TrimSpace(cfg.DeleteUserID)
	actorID := strings.TrimSpace(cfg.ActorID)
	if actorID == "" {
		actorID = userID
	}
	cascade, err := client.DeleteUser(ctx, actorID, userID)
	if err != nil {
		return fmt.Errorf("delete user %s: %w", userID, err)
	}
	if cfg.JSONOutput {
		return writeJSON(out, map[string]any{"user_id": userID, "cascade": cascade.AsMap()})
	}
	fields := cascade.GetFields()
	fmt.Fprintf(out, "Deleted user %s\n", userID)
	for _, key := range cascadeKeys {
		fmt.Fprintf(out, "  %-14s %d\n", key+":", int64(fields[key].GetNumberValue()))
	}
	return nil
}

var cascadeKeys = []string{"notifications", "receipts", "messages", "memberships", "conversations", "history"}

func runPrune(ctx context.Context, client messagingClient, jsonOutput bool, out io.Writer) error {
	pruned, err := client.PruneEmptyConversations(ctx)
	if err != nil {
		return fmt.Errorf("prune empty conversations: %w", err)
	}
	if jsonOutput {
		return writeJSON(out, map[string]any{"pruned": pruned})
	}
	fmt.Fprintf(out, "Pruned %d empty conversations\n", pruned)
	return nil
}

func runUnreadReport(ctx context.Context, client messagingClient, userID string, jsonOutput bool, out io.Writer) error {
	count, err := client.UnreadCount(ctx, userID)
	if err != nil {
		return fmt.Errorf("unread count for %s: %w", userID, err)
	}
	groups, err := client.UnreadByConversation(ctx, userID)
	if err != nil {
		return fmt.Errorf("unread by conversation for %s: %w", userID, err)
	}
	if jsonOutput {
		items := make([]any, 0, len(groups))
		for _, group := range groups {
			items = append(items, map[string]any{
				"conversation_id": group.GetFields()["conversation_id"].GetStringValue(),
				"count":           group.GetFields()["count"].GetNumberValue(),
			})
		}
		return writeJSON(out, map[string]any{"user_id": userID, "unread_count": count, "conversations": items})
	}
	fmt.Fprintf(out, "User %s has %d unread messages\n", userID, count)
	for _, group := range groups {
		fields := group.GetFields()
		fmt.Fprintf(out, "  %s: %d\n", fields["conversation_id"].GetStringValue(), int64(fields["count"].GetNumberValue()))
	}
	return nil
}

func writeJSON(out io.Writer, value map[string]any) error {
	report, err := structpb.NewStruct(value)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	data, err := protojson.MarshalOptions{Indent: "  "}.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
