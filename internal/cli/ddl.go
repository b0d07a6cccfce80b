package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// DDLStatement is one statement of the ddl command output.
type DDLStatement struct {
	Priority int    `json:"priority"`
	Entity   string `json:"entity,omitempty"`
	SQL      string `json:"sql"`
}

// NewDDLCommand creates the ddl command.
func NewDDLCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ddl",
		Short: "Print the DDL the schema compiles to",
		Long: `Print the DDL statements the schema compiles to for the configured
dialect, in the order migrate applies them. No database is opened.

Example:
  arla ddl --schema ./schema --dialect postgres`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDDL(rootOpts, cmd)
		},
	}
}

func runDDL(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	c, err := loadConfig(opts, cmd)
	if err != nil {
		return f.Fail(err)
	}
	d, err := c.SQLDialect()
	if err != nil {
		return f.Fail(tag(ErrCodeConfig, ExitCommandError, err))
	}
	s, err := loadSchema(c)
	if err != nil {
		return f.Fail(err)
	}
	stmts, err := s.Registry.CompileDDL(d)
	if err != nil {
		return f.Fail(tag(ErrCodeSchema, ExitCommandError, err))
	}

	out := make([]DDLStatement, len(stmts))
	for i, st := range stmts {
		out[i] = DDLStatement{Priority: st.Priority, Entity: st.Entity, SQL: st.SQL}
	}
	return f.Success(out, func(w io.Writer) {
		for _, st := range out {
			fmt.Fprintf(w, "%s;\n", st.SQL)
		}
	})
}
