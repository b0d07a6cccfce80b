package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/arla/internal/aql"
	"github.com/roach88/arla/internal/ir"
	"github.com/roach88/arla/internal/querysql"
)

// QueryOptions holds flags shared by query and compile.
type QueryOptions struct {
	*RootOptions
	Session string   // JSON object
	Args    []string // bound to $1..$n
}

func (o *QueryOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Session, "session", "", "session as a JSON object")
	cmd.Flags().StringArrayVar(&o.Args, "arg", nil, "query argument bound to $n, in order (JSON, or a bare string)")
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "query <document>",
		Short: "Run a query document against the projection",
		Long: `Run a query document against the projection and print the JSON result.

The projection is synced with the WAL first.

Examples:
  arla query 'members { username }'
  arla query 'me { username, email_addresses { addr } }' --session '{"member_id":"..."}'
  arla query 'member_by_name($1) { username }' --arg alice`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}
	opts.bind(cmd)
	return cmd
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "compile <document>",
		Short: "Print the SQL a query document compiles to",
		Long: `Print the single SQL statement and parameters a query document
compiles to for the configured dialect. No database is opened.

Example:
  arla compile 'members.where(is_su = true).count()'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}
	opts.bind(cmd)
	return cmd
}

func runQuery(opts *QueryOptions, doc string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	session, args, err := opts.parse()
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

	raw, err := e.Query(cmd.Context(), doc, session, args...)
	if err != nil {
		return f.Fail(err)
	}
	return f.Success(raw, func(w io.Writer) {
		var buf bytes.Buffer
		if json.Indent(&buf, raw, "", "  ") != nil {
			buf.Reset()
			buf.Write(raw)
		}
		fmt.Fprintln(w, buf.String())
	})
}

// CompiledQuery is the output of the compile command.
type CompiledQuery struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params"`
}

func runCompile(opts *QueryOptions, doc string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	session, args, err := opts.parse()
	if err != nil {
		return f.Fail(err)
	}
	c, err := loadConfig(opts.RootOptions, cmd)
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

	tree, err := aql.ParseNormalized(doc)
	if err != nil {
		return f.Fail(err)
	}
	stmt, err := querysql.NewCompiler(s.Registry, d).Compile(tree, args, session)
	if err != nil {
		return f.Fail(err)
	}

	out := CompiledQuery{SQL: stmt.SQL, Params: stmt.Params}
	if out.Params == nil {
		out.Params = []any{}
	}
	return f.Success(out, func(w io.Writer) {
		fmt.Fprintln(w, out.SQL)
		if len(out.Params) > 0 {
			params, _ := json.Marshal(out.Params)
			fmt.Fprintf(w, "-- params: %s\n", params)
		}
	})
}

func (o *QueryOptions) parse() (ir.Session, []any, error) {
	session, err := parseSession(o.Session)
	if err != nil {
		return nil, nil, err
	}
	return session, parseArgs(o.Args), nil
}

// parseSession decodes a JSON object; empty input is a nil session.
func parseSession(s string) (ir.Session, error) {
	if s == "" {
		return nil, nil
	}
	var session ir.Session
	if err := json.Unmarshal([]byte(s), &session); err != nil {
		return nil, tag(ErrCodeArgs, ExitCommandError, fmt.Errorf("invalid --session JSON: %w", err))
	}
	return session, nil
}

// parseArgs decodes each argument as JSON, falling back to the raw string.
func parseArgs(raw []string) []any {
	out := make([]any, len(raw))
	for i, s := range raw {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			v = s
		}
		out[i] = v
	}
	return out
}
