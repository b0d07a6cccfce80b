package querysql

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/arla/internal/aql"
	"github.com/roach88/arla/internal/dialect"
	"github.com/roach88/arla/internal/ir"
	"github.com/roach88/arla/internal/schema"
)

// Statement is a compiled query: one SELECT returning a single row with a
// single JSON column named "result".
type Statement struct {
	SQL    string
	Params []any
}

// Compiler turns normalized query documents into SQL for one dialect.
//
// CRITICAL: Compile never mutates the tree it is given, so normalized trees
// can be cached and compiled concurrently.
type Compiler struct {
	reg *schema.Registry
	d   dialect.Dialect
}

// NewCompiler returns a compiler for the entities in reg. The registry must
// already be resolved.
func NewCompiler(reg *schema.Registry, d dialect.Dialect) *Compiler {
	return &Compiler{reg: reg, d: d}
}

// Dialect returns the dialect the compiler targets.
func (c *Compiler) Dialect() dialect.Dialect {
	return c.d
}

// Compile compiles a normalized document. args bind the document's $n
// placeholders; session is handed to every edge function.
func (c *Compiler) Compile(doc *aql.Node, args []any, session ir.Session) (Statement, error) {
	if doc == nil {
		return Statement{}, fmt.Errorf("cannot compile nil document")
	}
	root, ok := c.reg.Entity(schema.RootEntity)
	if !ok {
		return Statement{}, &aql.QueryError{
			Code:    aql.ErrCodeUnknownProperty,
			Message: "no root entity is defined",
		}
	}

	b := &build{
		c:       c,
		args:    args,
		session: session,
		params:  schema.NewParams(c.d),
	}

	pairs := make([]string, 0, 2*len(doc.Children))
	for _, n := range doc.Children {
		v, err := b.property(root, "", n)
		if err != nil {
			return Statement{}, err
		}
		pairs = append(pairs, literal(n.Key()), v.render(c.d))
	}

	return Statement{
		SQL:    "SELECT " + c.d.Object(pairs) + " AS result",
		Params: b.params.Values(),
	}, nil
}

// build is the state of one Compile call.
type build struct {
	c       *Compiler
	args    []any
	session ir.Session
	params  *schema.Params
	steps   int
	ords    int
}

// nextStep names a CTE. Names are unique across the whole statement, so a
// step name also serves as the alias of its rows in nested pipelines.
func (b *build) nextStep() string {
	b.steps++
	return fmt.Sprintf("step_%d", b.steps)
}

func (b *build) nextOrd() string {
	b.ords++
	return fmt.Sprintf("_arla_o%d", b.ords)
}

// value is a compiled SQL expression and whether it yields JSON text.
type value struct {
	expr string
	json bool
}

// render makes a value embeddable in a JSON constructor.
func (v value) render(d dialect.Dialect) string {
	if v.json {
		return d.JSONValue(v.expr)
	}
	return v.expr
}

// property compiles the selection n of a record of owner. row is the alias
// of the record's row, or "" at root.
func (b *build) property(owner *schema.Entity, row string, n *aql.Node) (value, error) {
	p, ok := owner.Property(n.Name)
	if !ok {
		edge, isCount := owner.CountOf(n.Name)
		if !isCount {
			return value{}, aql.Errorf(n, aql.ErrCodeUnknownProperty, "%s has no property %q", owner.Name, n.Name)
		}
		if len(n.Children) > 0 {
			return value{}, aql.Errorf(n, aql.ErrCodeInvalidFilter, "%s is a number and takes no sub-selection", n.Name)
		}
		counted := &aql.Node{
			Alias:   n.Key(),
			Name:    edge.Name,
			Args:    n.Args,
			Filters: append(append([]aql.Filter(nil), n.Filters...), &aql.Count{}),
			Pos:     n.Pos,
		}
		return b.edge(owner, row, edge, counted)
	}

	if !p.Computed() {
		if len(n.Args) > 0 || len(n.Filters) > 0 || len(n.Children) > 0 {
			return value{}, aql.Errorf(n, aql.ErrCodeInvalidFilter,
				"stored property %s takes no arguments, filters or sub-selection", n.Name)
		}
		if row == "" {
			return value{}, aql.Errorf(n, aql.ErrCodeUnknownProperty, "stored property %s has no record", n.Name)
		}
		return value{expr: row + "." + b.c.d.QuoteIdent(p.Name), json: p.Document()}, nil
	}
	return b.edge(owner, row, p, n)
}

// edge compiles a computed property into a parenthesized subquery.
func (b *build) edge(owner *schema.Entity, row string, p *schema.Property, n *aql.Node) (value, error) {
	args, err := b.operands(n, n.Args)
	if err != nil {
		return value{}, err
	}
	call := &schema.EdgeCall{
		This:    schema.NewRow(owner),
		Session: b.session,
		Args:    args,
	}
	out, err := p.Edge(call)
	if err != nil {
		var qe *aql.QueryError
		if errors.As(err, &qe) {
			return value{}, err
		}
		return value{}, aql.Errorf(n, aql.ErrCodeInvalidArgument, "edge %s.%s: %v", owner.Name, p.Name, err)
	}
	frag, err := schema.ResolveSQL(out)
	if err != nil {
		return value{}, aql.Errorf(n, aql.ErrCodeInvalidArgument, "edge %s.%s: %v", owner.Name, p.Name, err)
	}

	cols := func(ref schema.ColumnRef) (string, error) {
		if row == "" {
			return "", fmt.Errorf("root has no columns to reference (%s)", ref.Column)
		}
		col, ok := owner.Property(ref.Column)
		if !ok || col.Computed() {
			return "", fmt.Errorf("%s has no column %q", owner.Name, ref.Column)
		}
		return row + "." + b.c.d.QuoteIdent(ref.Column), nil
	}

	var with string
	if frag.With != "" {
		if with, err = schema.Bind(frag.With, frag.Args, b.params, cols); err != nil {
			return value{}, aql.Errorf(n, aql.ErrCodeInvalidArgument, "edge %s.%s: %v", owner.Name, p.Name, err)
		}
	}
	base, err := schema.Bind(frag.Text, frag.Args, b.params, cols)
	if err != nil {
		return value{}, aql.Errorf(n, aql.ErrCodeInvalidArgument, "edge %s.%s: %v", owner.Name, p.Name, err)
	}

	pl := &pipeline{b: b, n: n, prop: p, target: p.Target()}
	if with != "" {
		pl.ctes = append(pl.ctes, with)
	}
	return pl.compile(base)
}

// operands resolves property arguments to values.
func (b *build) operands(n *aql.Node, ops []aql.Operand) ([]any, error) {
	out := make([]any, 0, len(ops))
	for _, op := range ops {
		switch o := op.(type) {
		case aql.Literal:
			out = append(out, o.Value)
		case aql.Placeholder:
			v, err := b.arg(n, o)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		default:
			return nil, aql.Errorf(n, aql.ErrCodeInvalidArgument, "unsupported argument %s", op)
		}
	}
	return out, nil
}

func (b *build) arg(n *aql.Node, p aql.Placeholder) (any, error) {
	if p.Index < 1 || p.Index > len(b.args) {
		return nil, aql.Errorf(n, aql.ErrCodeInvalidArgument,
			"placeholder %s out of range (%d arguments)", p, len(b.args))
	}
	return b.args[p.Index-1], nil
}

// literal renders s as a SQL string literal.
func literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
