package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Rebuild bool
}

// SyncOutput is the output of the sync command.
type SyncOutput struct {
	StoreID      string `json:"store_id"`
	Adopted      bool   `json:"adopted"`
	From         int64  `json:"from"`
	LastID       int64  `json:"last_id"`
	Replayed     int    `json:"replayed"`
	Acknowledged int    `json:"acknowledged"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Bring the projection up to date with the WAL",
		Long: `Bring the projection up to date with the WAL.

An empty projection adopts the WAL's store id and replays it from the start.
A projection built from another WAL is refused. With --rebuild the projection
data is destroyed first and the whole WAL is replayed.

Exit codes:
  0 - projection is up to date
  1 - a replayed mutation failed
  2 - command error (store id mismatch, unreadable WAL, ...)

Examples:
  arla sync
  arla sync --rebuild --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.Rebuild, "rebuild", false, "destroy the projection data and replay the whole WAL")
	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()

	e, err := openEngine(ctx, opts.RootOptions, cmd)
	if err != nil {
		return f.Fail(err)
	}
	defer closeEngine(e)

	if _, err := e.Migrate(ctx); err != nil {
		return f.Fail(tag(ErrCodeStore, ExitCommandError, err))
	}
	sync := e.Sync
	if opts.Rebuild {
		sync = e.Rebuild
	}
	res, err := sync(ctx)
	if err != nil {
		return f.Fail(err)
	}

	out := SyncOutput(res)
	return f.Success(out, func(w io.Writer) {
		if out.Adopted {
			fmt.Fprintf(w, "Adopted store %s\n", out.StoreID)
		}
		fmt.Fprintf(w, "Replayed %d mutation(s), wal position %d -> %d\n", out.Replayed, out.From, out.LastID)
		if out.Acknowledged > 0 {
			fmt.Fprintf(w, "Acknowledged %d mutation(s) already applied\n", out.Acknowledged)
		}
	})
}
