package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/threadsync/internal/relay"
	"github.com/roach88/threadsync/internal/store"
)

// RelayOptions holds flags for the relay command.
type RelayOptions struct {
	*RootOptions
	Listen   string
	Database string
	Redis    string
}

// NewRelayCommand creates the relay command.
func NewRelayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RelayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Serve rooms to replicas over websockets",
		Long: `Run the relay that replicas of a room connect to.

The relay forwards every frame a replica sends to the other members of its
room. With --db it also keeps each room's batches and answers sync requests
from that history, so a replica joining an empty room still catches up.
With --redis several relays share rooms through Redis pub/sub.

Examples:
  threadsync relay --listen :8787
  threadsync relay --listen :8787 --db ./relay.db
  threadsync relay --config ./threadsync.cue --redis localhost:6379`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (default from config, :8787)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database for room history (optional)")
	cmd.Flags().StringVar(&opts.Redis, "redis", "", "Redis address for the multi-relay backplane (optional)")

	return cmd
}

func runRelay(opts *RelayOptions, cmd *cobra.Command) error {
	logger := opts.logger(cmd.ErrOrStderr())
	cfg, err := opts.loadConfig("")
	if err != nil {
		return err
	}
	listen := cfg.Relay.Listen
	if opts.Listen != "" {
		listen = opts.Listen
	}
	redisAddr := cfg.Redis.Addr
	if opts.Redis != "" {
		redisAddr = opts.Redis
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relayCfg := relay.DefaultConfig()
	relayCfg.PingInterval = cfg.Transport.Ping
	relayCfg.WriteTimeout = cfg.Transport.WriteTimeout
	relayCfg.ReadTimeout = cfg.Transport.ReadTimeout
	serverOpts := []relay.Option{relay.WithConfig(relayCfg), relay.WithLogger(logger)}

	if opts.Database != "" {
		st, err := store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if err := st.Close(); err != nil {
				logger.Error("error closing database", "error", err)
			}
		}()
		serverOpts = append(serverOpts, relay.WithHistory(st))
		logger.Info("room history enabled", "path", opts.Database)
	}

	if redisAddr != "" {
		bp, err := relay.NewRedisBackplane(ctx, redisAddr)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to connect to redis", err)
		}
		defer bp.Close()
		serverOpts = append(serverOpts, relay.WithBackplane(bp))
		logger.Info("redis backplane enabled", "addr", redisAddr)
	}

	srv := relay.NewServer(serverOpts...)
	if err := srv.ListenAndServe(ctx, listen); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitCommandError, fmt.Sprintf("relay on %s failed", listen), err)
	}
	logger.Info("relay stopped")
	return nil
}

// commandContext returns cmd's context, or Background when the command
// was executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
