package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/arla/internal/store"
)

// MigrateResult is the output of the migrate command.
type MigrateResult struct {
	Applied int `json:"applied"`
	Existed int `json:"existed"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema DDL to the projection",
		Long: `Apply the schema DDL to the projection.

Every statement is idempotent: tables, columns, indexes and capture triggers
that already exist are left alone, so running migrate twice changes nothing.

Example:
  arla migrate --config arla.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, cmd)
		},
	}
}

func runMigrate(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	e, err := openEngine(cmd.Context(), opts, cmd)
	if err != nil {
		return f.Fail(err)
	}
	defer closeEngine(e)

	res, err := e.Migrate(cmd.Context())
	if err != nil {
		return f.Fail(tag(ErrCodeStore, ExitCommandError, err))
	}
	return f.Success(migrateResult(res), func(w io.Writer) {
		fmt.Fprintf(w, "Applied %d statement(s), %d already present\n", res.Applied, res.Existed)
	})
}

func migrateResult(r store.MigrateResult) MigrateResult {
	return MigrateResult{Applied: r.Applied, Existed: r.Existed}
}
