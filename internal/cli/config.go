package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/threadsync/internal/config"
)

// ConfigSummary is the JSON payload of config check.
type ConfigSummary struct {
	Room     string `json:"room"`
	Relay    string `json:"relay"`
	Database string `json:"database"`
	Snapshot string `json:"snapshot"`
	Users    int    `json:"users"`
}

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration files",
	}
	cmd.AddCommand(newConfigCheckCommand(rootOpts))
	return cmd
}

func newConfigCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check <file.cue>",
		Short: "Validate a config file against the schema",
		Long: `Unify a config file with the built-in schema and report the result.

Exit codes:
  0 - Config is valid
  1 - Config is invalid

Example:
  threadsync config check ./threadsync.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			cfg, err := config.Load(args[0])
			if err != nil {
				if rootOpts.Format == "json" {
					_ = out.Error("E_CONFIG", err.Error(), nil)
				}
				return WrapExitError(ExitFailure, "invalid config", err)
			}
			summary := ConfigSummary{
				Room:     cfg.Room,
				Relay:    cfg.Relay.URL,
				Database: cfg.Database.Path,
				Snapshot: cfg.Snapshot.Backend,
				Users:    len(cfg.Users),
			}
			if rootOpts.Format == "json" {
				return out.Success(summary)
			}
			return out.Success(fmt.Sprintf("✓ %s: room %s, relay %s, snapshots %s, %d users\n",
				args[0], summary.Room, summary.Relay, summary.Snapshot, summary.Users))
		},
	}
}
