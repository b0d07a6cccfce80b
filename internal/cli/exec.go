package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/arla/internal/ir"
)

// ExecOptions holds flags for the exec command.
type ExecOptions struct {
	*RootOptions
	Session string
	Version int
	ID      string
}

// ExecResult is the output of the exec command.
type ExecResult struct {
	ID       string           `json:"id"`
	Mutation string           `json:"mutation"`
	WALID    int64            `json:"wal_id"`
	Rows     []map[string]any `json:"rows"`
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "exec <action> [arg...]",
		Short: "Execute a mutation and append it to the WAL",
		Long: `Execute a mutation and append it to the WAL.

Arguments are decoded as JSON when they parse, and passed as strings
otherwise. The projection is synced with the WAL first. The mutation
version defaults to the schema version.

Examples:
  arla exec addMember alice
  arla exec addEmailAddress alice@example.com --session '{"member_id":"..."}'
  arla exec renameUser '"bob"' --version 1`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(opts, args[0], args[1:], cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Session, "session", "", "session as a JSON object")
	cmd.Flags().IntVar(&opts.Version, "version", 0, "mutation version (default: schema version)")
	cmd.Flags().StringVar(&opts.ID, "id", "", "mutation id (default: generated)")
	return cmd
}

func runExec(opts *ExecOptions, name string, rawArgs []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	session, err := parseSession(opts.Session)
	if err != nil {
		return f.Fail(err)
	}

	e, err := openEngine(cmd.Context(), opts.RootOptions, cmd)
	if err != nil {
		return f.Fail(err)
	}
	defer closeEngine(e)
	if _, err := e.Start(cmd.Context()); err != nil {
		return f.Fail(err)
	}

	m := ir.Mutation{
		ID:      opts.ID,
		Name:    name,
		Args:    parseArgs(rawArgs),
		Version: opts.Version,
		Token:   session,
	}
	if m.Version == 0 {
		m.Version = e.Version()
	}
	res, err := e.Exec(cmd.Context(), m)
	if err != nil {
		return f.Fail(err)
	}

	out := ExecResult{
		ID:       res.Mutation.ID,
		Mutation: res.Mutation.String(),
		WALID:    res.WALID,
		Rows:     res.Rows,
	}
	return f.Success(out, func(w io.Writer) {
		fmt.Fprintf(w, "Applied %s as %s (wal id %d)\n", out.Mutation, out.ID, out.WALID)
		for _, row := range out.Rows {
			b, _ := json.Marshal(row)
			fmt.Fprintf(w, "  %s\n", b)
		}
	})
}
