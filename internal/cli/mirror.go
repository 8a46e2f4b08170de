package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/threadsync/internal/config"
	"github.com/roach88/threadsync/internal/ir"
)

// MirrorOptions holds flags for the mirror command.
type MirrorOptions struct {
	*RootOptions
	Room     string
	Relay    string
	Database string
	As       string
}

// NewMirrorCommand creates the mirror command.
func NewMirrorCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MirrorOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Keep a headless replica of a room",
		Long: `Join a room as a replica without a user interface.

The mirror merges everything the room produces into its local log and keeps
the snapshot store current, so the room survives even when every
interactive participant is gone. It runs until interrupted.

Examples:
  threadsync mirror --room design-review --db ./mirror.db
  threadsync mirror --config ./threadsync.cue --as archive-bot`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMirror(opts, cmd)
		},
	}

	addRoomFlags(cmd, &opts.Room, &opts.Relay, &opts.Database)
	cmd.Flags().StringVar(&opts.As, "as", "", "user id to advertise on the presence channel")

	return cmd
}

// addRoomFlags registers the flags shared by commands that join a room.
func addRoomFlags(cmd *cobra.Command, room, relayURL, db *string) {
	cmd.Flags().StringVar(room, "room", "", "room to join (default from config)")
	cmd.Flags().StringVar(relayURL, "relay", "", "relay URL (default from config)")
	cmd.Flags().StringVar(db, "db", "", "SQLite database for the local log (default from config)")
}

func runMirror(opts *MirrorOptions, cmd *cobra.Command) error {
	logger := opts.logger(cmd.ErrOrStderr())
	cfg, err := opts.requireRoom(opts.Room)
	if err != nil {
		return err
	}
	overrideRoomConfig(cfg, opts.Relay, opts.Database)

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var user *ir.Author
	if opts.As != "" {
		u := lookupUser(cfg.Users, opts.As)
		user = &u
	}
	s, err := openSession(ctx, cfg, user, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Error("error closing session", "error", err)
		}
	}()

	go prunePresence(ctx, s, cfg.Presence.MaxAge)

	logger.Info("mirroring room", "room", cfg.Room, "relay", cfg.Relay.URL, "db", cfg.Database.Path)
	if err := s.replica.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitCommandError, "mirror stopped", err)
	}
	logger.Info("mirror stopped", "version", s.doc.Version())
	return nil
}

// prunePresence forgets sessions that stopped heartbeating.
func prunePresence(ctx context.Context, s *session, maxAge time.Duration) {
	ticker := time.NewTicker(maxAge / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.presence.Prune(maxAge)
			s.logger.Debug("presence", "online", len(s.presence.OnlineUsers(maxAge)))
		}
	}
}

func overrideRoomConfig(cfg *config.Config, relayURL, db string) {
	if relayURL != "" {
		cfg.Relay.URL = relayURL
	}
	if db != "" {
		cfg.Database.Path = db
	}
}

// lookupUser finds id in the directory. Unknown ids act under their own
// id as display name.
func lookupUser(users []ir.Author, id string) ir.Author {
	for _, u := range users {
		if u.ID == id {
			return u
		}
	}
	return ir.Author{ID: id, Name: id}
}
