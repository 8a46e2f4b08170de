package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/threadsync/internal/document"
	"github.com/roach88/threadsync/internal/ir"
	"github.com/roach88/threadsync/internal/projector"
	"github.com/roach88/threadsync/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Room     string // optional - specific room only
}

// ReplayRoomResult holds the replay result for a single room.
type ReplayRoomResult struct {
	Room          string                `json:"room"`
	Batches       int                   `json:"batches"`
	Comments      int                   `json:"comments"`
	Digest        string                `json:"digest"`
	Deterministic bool                  `json:"deterministic"`
	Tree          []ir.ProjectedComment `json:"tree"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Rooms            []ReplayRoomResult `json:"rooms"`
	TotalRooms       int                `json:"total_rooms"`
	AllDeterministic bool               `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild threads from the local log",
		Long: `Rebuild each room's thread from the batches in the local log and print it.

Every room is replayed twice into fresh documents and the two final states
are compared, which verifies that merging the log is deterministic.

Exit codes:
  0 - All rooms replayed deterministically
  1 - A room's replays diverged
  2 - Command error (database not found, corrupt batch, etc.)

Examples:
  threadsync replay --db ./threadsync.db
  threadsync replay --db ./threadsync.db --room design-review
  threadsync replay --db ./threadsync.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Room, "room", "", "replay one room only")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	out := opts.formatter(cmd)

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	var rooms []string
	if opts.Room != "" {
		rooms = []string{opts.Room}
	} else {
		rooms, err = st.Rooms(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list rooms", err)
		}
	}

	result := ReplayResult{
		Rooms:            make([]ReplayRoomResult, 0, len(rooms)),
		TotalRooms:       len(rooms),
		AllDeterministic: true,
	}
	for _, room := range rooms {
		out.VerboseLog("replaying %s", room)
		roomResult, err := replayAndVerifyRoom(ctx, st, room)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay room %s", room), err)
		}
		result.Rooms = append(result.Rooms, roomResult)
		if !roomResult.Deterministic {
			result.AllDeterministic = false
		}
	}

	if opts.Format == "json" {
		if err := out.Success(result); err != nil {
			return err
		}
	} else {
		if err := out.Success(replayText(result)); err != nil {
			return err
		}
	}
	if !result.AllDeterministic {
		return NewExitError(ExitFailure, "replay is not deterministic")
	}
	return nil
}

// replayAndVerifyRoom replays room twice and compares the final states.
func replayAndVerifyRoom(ctx context.Context, st *store.Store, room string) (ReplayRoomResult, error) {
	first, stats, err := replayRoom(ctx, st, room)
	if err != nil {
		return ReplayRoomResult{}, err
	}
	second, _, err := replayRoom(ctx, st, room)
	if err != nil {
		return ReplayRoomResult{}, err
	}
	d1, err := first.Digest()
	if err != nil {
		return ReplayRoomResult{}, err
	}
	d2, err := second.Digest()
	if err != nil {
		return ReplayRoomResult{}, err
	}

	tree := first.Project()
	return ReplayRoomResult{
		Room:          room,
		Batches:       stats.Batches,
		Comments:      projector.Count(tree),
		Digest:        d1,
		Deterministic: d1 == d2,
		Tree:          tree,
	}, nil
}

func replayRoom(ctx context.Context, st *store.Store, room string) (*document.Document, store.ReplayResult, error) {
	doc := document.New(document.WithReplicaID("replay"), document.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	res, err := st.Replay(ctx, room, doc)
	return doc, res, err
}

func replayText(result ReplayResult) string {
	if result.TotalRooms == 0 {
		return "No rooms found in database.\n"
	}
	var b strings.Builder
	for _, r := range result.Rooms {
		mark := "✓"
		if !r.Deterministic {
			mark = "✗"
		}
		fmt.Fprintf(&b, "%s %s: %d batches, %d visible comments\n", mark, r.Room, r.Batches, r.Comments)
		b.WriteString(projector.Outline(r.Tree))
		b.WriteByte('\n')
	}
	return b.String()
}
