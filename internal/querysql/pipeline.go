package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/arla/internal/aql"
	"github.com/roach88/arla/internal/schema"
)

// pipeline compiles one edge selection into a chain of CTEs.
//
// Every step after the base carries an ordinal column (ord) that records
// row order, so order survives later steps and the final aggregation. Row
// steps (where, sortBy) run before the projection; value steps (sort after
// pluck) and limiting steps (take, slice, first) run after it, in the
// order they were written. The final SELECT collapses the last step into
// one of four shapes: a number (count), a single value or object, or an
// array of values or objects.
type pipeline struct {
	b      *build
	n      *aql.Node
	prop   *schema.Property
	target *schema.Entity // nil for scalar edges

	ctes []string
	last string
	ord  string

	values bool // rows are a single column v
	vjson  bool
	cols   []column
	single bool
}

type column struct {
	key  string
	json bool
}

func (pl *pipeline) scalar() bool {
	return pl.target == nil
}

// step appends a CTE reading from the previous one.
func (pl *pipeline) step(body string) {
	name := pl.b.nextStep()
	pl.ctes = append(pl.ctes, fmt.Sprintf("%s AS (%s)", name, body))
	pl.last = name
}

// field resolves a where or sortBy identifier against the rows the
// pipeline filters: stored properties of the target, or v for scalars.
func (pl *pipeline) field(name string) (string, error) {
	if pl.scalar() {
		if name != "v" {
			return "", aql.Errorf(pl.n, aql.ErrCodeUnknownProperty,
				"%s is a scalar; filter and sort on v, not %q", pl.n.Name, name)
		}
		return pl.col(name), nil
	}
	p, ok := pl.target.Property(name)
	if !ok {
		return "", aql.Errorf(pl.n, aql.ErrCodeUnknownProperty, "%s has no property %q", pl.target.Name, name)
	}
	if p.Computed() {
		return "", aql.Errorf(pl.n, aql.ErrCodeUnknownProperty,
			"%s.%s is computed; only stored properties can be filtered or sorted", pl.target.Name, name)
	}
	return pl.col(name), nil
}

// col qualifies a column of the previous step.
func (pl *pipeline) col(name string) string {
	return pl.last + "." + pl.b.c.d.QuoteIdent(name)
}

func (pl *pipeline) ordRef() string {
	return pl.last + "." + pl.ord
}

func (pl *pipeline) compile(base string) (value, error) {
	n := pl.n

	name := pl.b.nextStep()
	if pl.scalar() {
		if len(n.Children) > 0 {
			return value{}, aql.Errorf(n, aql.ErrCodeInvalidFilter, "%s is a scalar and takes no sub-selection", n.Name)
		}
		pl.ctes = append(pl.ctes, fmt.Sprintf("%s(v) AS (%s)", name, base))
	} else {
		pl.ctes = append(pl.ctes, fmt.Sprintf("%s AS (%s)", name, base))
	}
	pl.last = name

	ord := pl.b.nextOrd()
	pl.step(fmt.Sprintf("SELECT *, row_number() OVER () AS %s FROM %s", ord, pl.last))
	pl.ord = ord

	var pluck *aql.Pluck
	var post []aql.Filter
	for _, f := range n.Filters {
		switch v := f.(type) {
		case *aql.Pluck:
			if pl.scalar() {
				return value{}, aql.Errorf(n, aql.ErrCodeInvalidFilter, "pluck needs records; %s is a scalar", n.Name)
			}
			pluck = v
		case *aql.Where:
			if err := pl.where(v); err != nil {
				return value{}, err
			}
		case *aql.SortBy:
			if pl.scalar() {
				return value{}, aql.Errorf(n, aql.ErrCodeInvalidFilter, "sortBy needs records; use sort() on %s", n.Name)
			}
			if err := pl.sortBy(v); err != nil {
				return value{}, err
			}
		case *aql.Sort:
			if !pl.scalar() && pluck == nil {
				return value{}, aql.Errorf(n, aql.ErrCodeInvalidFilter, "sort() orders values; use sortBy(field) on %s", n.Name)
			}
			post = append(post, v)
		default:
			post = append(post, v)
		}
	}

	counted := n.Counted()
	if !counted {
		if err := pl.project(pluck); err != nil {
			return value{}, err
		}
	}

	for _, f := range post {
		switch v := f.(type) {
		case *aql.Sort:
			pl.sortValues(v.Desc)
		case *aql.Take:
			pl.limit(v.N, 0)
		case *aql.Slice:
			pl.limit(v.End-v.Start, v.Start)
		case *aql.First:
			pl.limit(1, 0)
			pl.single = true
		case *aql.Count:
		default:
			return value{}, aql.Errorf(n, aql.ErrCodeInvalidFilter, "unsupported filter %s", f)
		}
	}

	return pl.collapse(counted), nil
}

func (pl *pipeline) project(pluck *aql.Pluck) error {
	d := pl.b.c.d
	switch {
	case pl.scalar():
		pl.values = true
		pl.vjson = jsonType(pl.prop.Type)
		return nil

	case pluck != nil:
		v, err := pl.b.property(pl.target, pl.last, pluck.Target)
		if err != nil {
			return err
		}
		pl.values = true
		pl.vjson = v.json
		pl.step(fmt.Sprintf("SELECT %s AS v, %s AS %s FROM %s", v.expr, pl.ordRef(), pl.ord, pl.last))
		return nil
	}

	if len(pl.n.Children) == 0 {
		return aql.Errorf(pl.n, aql.ErrCodeInvalidFilter,
			"%s returns %s records; select at least one property", pl.n.Name, pl.target.Name)
	}
	exprs := make([]string, 0, len(pl.n.Children)+1)
	for _, child := range pl.n.Children {
		v, err := pl.b.property(pl.target, pl.last, child)
		if err != nil {
			return err
		}
		exprs = append(exprs, v.expr+" AS "+d.QuoteIdent(child.Key()))
		pl.cols = append(pl.cols, column{key: child.Key(), json: v.json})
	}
	exprs = append(exprs, pl.ordRef()+" AS "+pl.ord)
	pl.step(fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), pl.last))
	return nil
}

func (pl *pipeline) where(w *aql.Where) error {
	conds := make([]string, 0, len(w.Conds))
	for _, c := range w.Conds {
		s, err := pl.condition(c)
		if err != nil {
			return err
		}
		conds = append(conds, s)
	}
	pl.step(fmt.Sprintf("SELECT * FROM %s WHERE %s", pl.last, strings.Join(conds, " AND ")))
	return nil
}

func (pl *pipeline) condition(c aql.Condition) (string, error) {
	isNull := func(o aql.Operand) bool {
		l, ok := o.(aql.Literal)
		return ok && l.Value == nil
	}
	if isNull(c.Left) || isNull(c.Right) {
		other := c.Left
		if isNull(c.Left) {
			other = c.Right
		}
		expr, err := pl.operand(other)
		if err != nil {
			return "", err
		}
		switch c.Op {
		case "=":
			return expr + " IS NULL", nil
		case "!=":
			return expr + " IS NOT NULL", nil
		default:
			return "", aql.Errorf(pl.n, aql.ErrCodeInvalidFilter, "null only compares with = or !=")
		}
	}

	left, err := pl.operand(c.Left)
	if err != nil {
		return "", err
	}
	right, err := pl.operand(c.Right)
	if err != nil {
		return "", err
	}
	op := c.Op
	if op == "like" {
		op = "LIKE"
	}
	return left + " " + op + " " + right, nil
}

func (pl *pipeline) operand(o aql.Operand) (string, error) {
	switch v := o.(type) {
	case aql.Ident:
		return pl.field(v.Name)
	case aql.Placeholder:
		arg, err := pl.b.arg(pl.n, v)
		if err != nil {
			return "", err
		}
		return pl.b.params.Add(arg), nil
	case aql.Literal:
		return pl.b.params.Add(v.Value), nil
	default:
		return "", aql.Errorf(pl.n, aql.ErrCodeInvalidFilter, "unsupported operand %s", o)
	}
}

// sortBy renumbers rows by a column, falling back to the previous order.
func (pl *pipeline) sortBy(s *aql.SortBy) error {
	field, err := pl.field(s.Field)
	if err != nil {
		return err
	}
	ord := pl.b.nextOrd()
	pl.step(fmt.Sprintf("SELECT *, row_number() OVER (ORDER BY %s%s, %s) AS %s FROM %s",
		field, desc(s.Desc), pl.ordRef(), ord, pl.last))
	pl.ord = ord
	return nil
}

func (pl *pipeline) sortValues(descending bool) {
	ord := pl.b.nextOrd()
	pl.step(fmt.Sprintf("SELECT %s.v AS v, row_number() OVER (ORDER BY %s.v%s, %s) AS %s FROM %s",
		pl.last, pl.last, desc(descending), pl.ordRef(), ord, pl.last))
	pl.ord = ord
}

func (pl *pipeline) limit(n, offset int) {
	body := fmt.Sprintf("SELECT * FROM %s ORDER BY %s LIMIT %d", pl.last, pl.ordRef(), n)
	if offset > 0 {
		body += fmt.Sprintf(" OFFSET %d", offset)
	}
	pl.step(body)
}

func (pl *pipeline) collapse(counted bool) value {
	d := pl.b.c.d
	last, ord := pl.last, pl.ordRef()
	array := pl.prop.Array && !pl.single

	var sel string
	var out value
	switch {
	case counted:
		sel = "SELECT count(*) FROM " + last

	case pl.values:
		v := value{expr: last + ".v", json: pl.vjson}.render(d)
		if array {
			sel = fmt.Sprintf("SELECT %s FROM %s", d.ArrayAgg(v, ord), last)
			out.json = true
		} else {
			sel = fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT 1", v, last, ord)
			out.json = pl.vjson
		}

	default:
		pairs := make([]string, 0, 2*len(pl.cols))
		for _, c := range pl.cols {
			pairs = append(pairs, literal(c.key), value{expr: last + "." + d.QuoteIdent(c.key), json: c.json}.render(d))
		}
		obj := d.Object(pairs)
		if array {
			sel = fmt.Sprintf("SELECT %s FROM %s", d.ArrayAgg(obj, ord), last)
		} else {
			sel = fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT 1", obj, last, ord)
		}
		out.json = true
	}

	out.expr = "(WITH " + strings.Join(pl.ctes, ", ") + " " + sel + ")"
	return out
}

func desc(d bool) string {
	if d {
		return " DESC"
	}
	return ""
}

func jsonType(t string) bool {
	switch strings.ToLower(t) {
	case "json", "jsonb":
		return true
	}
	return false
}
