package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/threadsync/internal/config"
	"github.com/roach88/threadsync/internal/ir"
	"github.com/roach88/threadsync/internal/pgstore"
	"github.com/roach88/threadsync/internal/projector"
	"github.com/roach88/threadsync/internal/store"
)

// TreeOptions holds flags for the tree command.
type TreeOptions struct {
	*RootOptions
	Room     string
	Database string
}

// TreeResult is the JSON payload of the tree command.
type TreeResult struct {
	Room      string                `json:"room"`
	Backend   string                `json:"backend"`
	Found     bool                  `json:"found"`
	Version   uint64                `json:"version,omitempty"`
	UpdatedAt *time.Time            `json:"updated_at,omitempty"`
	Tree      []ir.ProjectedComment `json:"tree"`
}

// NewTreeCommand creates the tree command.
func NewTreeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TreeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print a room's stored snapshot",
		Long: `Print the projected thread last saved to the snapshot store.

The snapshot backend comes from the config (sqlite by default). Use replay
to rebuild the thread from the log instead.

Examples:
  threadsync tree --room design-review --db ./threadsync.db
  threadsync tree --config ./threadsync.cue --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTree(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Room, "room", "", "room to print (default from config)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database (default from config)")

	return cmd
}

func runTree(opts *TreeOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	out := opts.formatter(cmd)
	cfg, err := opts.requireRoom(opts.Room)
	if err != nil {
		return err
	}
	if opts.Database != "" {
		cfg.Database.Path = opts.Database
	}

	result := TreeResult{Room: cfg.Room, Backend: cfg.Snapshot.Backend, Tree: []ir.ProjectedComment{}}
	switch cfg.Snapshot.Backend {
	case config.BackendSQLite:
		st, err := store.Open(cfg.Database.Path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
		snap, found, err := st.LoadSnapshot(ctx, cfg.Room)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load snapshot", err)
		}
		if found {
			result.Found = true
			result.Version = snap.Version
			result.UpdatedAt = &snap.UpdatedAt
			result.Tree = snap.Tree
		}
	case config.BackendPostgres:
		pg, err := pgstore.Open(cfg.Snapshot.DSN)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open snapshot database", err)
		}
		defer pg.Close()
		tree, err := pg.Load(ctx, cfg.Room)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load snapshot", err)
		}
		if tree != nil {
			result.Found = true
			result.Tree = tree
		}
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("snapshot backend %q stores nothing to print", cfg.Snapshot.Backend))
	}

	if opts.Format == "json" {
		return out.Success(result)
	}
	if !result.Found {
		return out.Success(fmt.Sprintf("No snapshot stored for room %s.\n", cfg.Room))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s", result.Room, result.Backend)
	if result.Version > 0 {
		fmt.Fprintf(&b, ", version %d", result.Version)
	}
	b.WriteString(")\n")
	b.WriteString(projector.Outline(result.Tree))
	return out.Success(b.String())
}
