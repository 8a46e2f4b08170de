package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/threadsync/internal/ir"
)

// CommentOptions holds flags for the comment command.
type CommentOptions struct {
	*RootOptions
	Room     string
	Relay    string
	Database string
	As       string
	ReplyTo  string
	Edit     string
	Delete   string
	Wait     time.Duration
	Settle   time.Duration
}

// CommentResult is the JSON payload of the comment command.
type CommentResult struct {
	Room      string `json:"room"`
	Action    string `json:"action"`
	CommentID string `json:"comment_id"`
	Delivered bool   `json:"delivered"`
}

// NewCommentCommand creates the comment command.
func NewCommentCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CommentOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "comment [text]",
		Short: "Add, reply to, edit or delete a comment",
		Long: `Join a room, catch up with its members, make one change and leave.

The change is written to the local log before it is sent, so it survives
an unreachable relay and reaches the room on the next connection.

Exit codes:
  0 - Change committed
  1 - Change rejected (not the author, comment deleted, empty text)
  2 - Command error (bad flags, database unreachable)

Examples:
  threadsync comment --room design-review --as u1 "Looks good to me"
  threadsync comment --room design-review --as u2 --reply-to 3@01J... "@Ann agreed"
  threadsync comment --room design-review --as u1 --edit 3@01J... "Looks great"
  threadsync comment --room design-review --as u1 --delete 3@01J...`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := ""
			if len(args) == 1 {
				text = args[0]
			}
			return runComment(opts, text, cmd)
		},
	}

	addRoomFlags(cmd, &opts.Room, &opts.Relay, &opts.Database)
	cmd.Flags().StringVar(&opts.As, "as", "", "acting user id (required)")
	_ = cmd.MarkFlagRequired("as")
	cmd.Flags().StringVar(&opts.ReplyTo, "reply-to", "", "reply to this comment id")
	cmd.Flags().StringVar(&opts.Edit, "edit", "", "replace the text of this comment id")
	cmd.Flags().StringVar(&opts.Delete, "delete", "", "delete this comment id")
	cmd.MarkFlagsMutuallyExclusive("reply-to", "edit", "delete")
	cmd.Flags().DurationVar(&opts.Wait, "wait", 5*time.Second, "how long to wait for the relay")
	cmd.Flags().DurationVar(&opts.Settle, "settle", time.Second, "how long to merge the room's state before acting")

	return cmd
}

func runComment(opts *CommentOptions, text string, cmd *cobra.Command) error {
	logger := opts.logger(cmd.ErrOrStderr())
	out := opts.formatter(cmd)
	cfg, err := opts.requireRoom(opts.Room)
	if err != nil {
		return err
	}
	overrideRoomConfig(cfg, opts.Relay, opts.Database)
	if opts.Delete == "" && strings.TrimSpace(text) == "" {
		return NewExitError(ExitCommandError, "comment text is required")
	}

	ctx := commandContext(cmd)
	actor := lookupUser(cfg.Users, opts.As)
	s, err := openSession(ctx, cfg, &actor, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Error("error closing session", "error", err)
		}
	}()

	online := true
	if err := s.waitConnected(ctx, opts.Wait); err != nil {
		online = false
		logger.Warn("working offline", "error", err)
	} else {
		settleCtx, cancel := context.WithTimeout(ctx, opts.Settle)
		_ = s.replica.Run(settleCtx)
		cancel()
	}

	result := CommentResult{Room: cfg.Room}
	switch {
	case opts.ReplyTo != "":
		parent, err := parseCommentID(opts.ReplyTo)
		if err != nil {
			return err
		}
		id, err := s.service.Reply(actor, parent, text)
		if err != nil {
			return rejected("reply", err)
		}
		result.Action, result.CommentID = "reply", id.String()
	case opts.Edit != "":
		id, err := parseCommentID(opts.Edit)
		if err != nil {
			return err
		}
		if err := s.service.Edit(actor, id, text); err != nil {
			return rejected("edit", err)
		}
		result.Action, result.CommentID = "edit", id.String()
	case opts.Delete != "":
		id, err := parseCommentID(opts.Delete)
		if err != nil {
			return err
		}
		if err := s.service.Delete(actor, id); err != nil {
			return rejected("delete", err)
		}
		result.Action, result.CommentID = "delete", id.String()
	default:
		id, err := s.service.AddComment(actor, text)
		if err != nil {
			return rejected("add", err)
		}
		result.Action, result.CommentID = "add", id.String()
	}

	result.Delivered = online && s.drain(ctx, opts.Wait)
	if opts.Format == "json" {
		return out.Success(result)
	}
	status := "delivered"
	if !result.Delivered {
		status = "saved locally, not yet delivered"
	}
	return out.Success(fmt.Sprintf("%s %s in %s (%s)\n", result.Action, result.CommentID, result.Room, status))
}

func parseCommentID(s string) (ir.ID, error) {
	id, err := ir.ParseID(s)
	if err != nil || id.IsZero() {
		return ir.ID{}, WrapExitError(ExitCommandError, fmt.Sprintf("invalid comment id %q", s), err)
	}
	return id, nil
}

func rejected(action string, err error) error {
	return WrapExitError(ExitFailure, action+" rejected", err)
}
