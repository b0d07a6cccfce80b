package aql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/arla/internal/ir"
)

// Position locates a node in the query text.
type Position struct {
	Line   int
	Column int
	Offset int
}

// Node is one property selection.
type Node struct {
	Alias    string
	Name     string
	Args     []Operand
	Filters  []Filter
	Children []*Node
	Pos      Position
}

// Key is the output key: the alias if present, otherwise the name.
func (n *Node) Key() string {
	if n.Alias != "" {
		return n.Alias
	}
	return n.Name
}

// Pluck returns the node's pluck filter, if any.
func (n *Node) Pluck() (*Pluck, bool) {
	for _, f := range n.Filters {
		if p, ok := f.(*Pluck); ok {
			return p, true
		}
	}
	return nil, false
}

// Counted reports whether the selection ends in count().
func (n *Node) Counted() bool {
	if len(n.Filters) == 0 {
		return false
	}
	_, ok := n.Filters[len(n.Filters)-1].(*Count)
	return ok
}

// String renders the node in canonical query syntax.
func (n *Node) String() string {
	var b strings.Builder
	n.write(&b)
	return b.String()
}

// Signature renders everything except the sub-selections, including those
// moved into pluck targets. Two sibling selections with the same key merge
// only when their signatures match.
func (n *Node) Signature() string {
	var b strings.Builder
	n.writeHead(&b, false)
	return b.String()
}

func (n *Node) writeHead(b *strings.Builder, full bool) {
	b.WriteString(n.Name)
	if len(n.Args) > 0 {
		b.WriteByte('(')
		for i, a := range n.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(a.String())
		}
		b.WriteByte(')')
	}
	for _, f := range n.Filters {
		b.WriteByte('.')
		if p, ok := f.(*Pluck); ok && !full {
			b.WriteString("pluck(" + p.Target.Signature() + ")")
			continue
		}
		b.WriteString(f.String())
	}
}

func (n *Node) write(b *strings.Builder) {
	if n.Alias != "" {
		b.WriteString(n.Alias)
		b.WriteString(": ")
	}
	n.writeHead(b, true)
	if len(n.Children) > 0 {
		b.WriteString(" {")
		for i, c := range n.Children {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteByte(' ')
			c.write(b)
		}
		b.WriteString(" }")
	}
}

// Operand is a where-clause operand or a property argument.
// Sealed: Ident, Placeholder and Literal.
type Operand interface {
	operandNode()
	String() string
}

// Ident names a column of the row being filtered.
type Ident struct {
	Name string
}

// Placeholder is $n, resolved against the positional call arguments.
type Placeholder struct {
	Index int // 1-based
}

// Literal is a constant: string, int64, float64, bool or nil.
type Literal struct {
	Value any
}

func (Ident) operandNode()       {}
func (Placeholder) operandNode() {}
func (Literal) operandNode()     {}

func (o Ident) String() string       { return o.Name }
func (o Placeholder) String() string { return "$" + strconv.Itoa(o.Index) }

func (o Literal) String() string {
	data, err := ir.MarshalCanonical(o.Value)
	if err != nil {
		return fmt.Sprint(o.Value)
	}
	return string(data)
}

// Filter is one step of a selection's filter chain.
// Sealed: Pluck, Where, SortBy, Sort, Count, First, Take and Slice.
type Filter interface {
	filterNode()
	String() string
}

// Pluck replaces each row by the value of one property of that row.
type Pluck struct {
	Target *Node
}

// Where keeps rows matching every condition.
type Where struct {
	Conds []Condition
}

// Condition is `left op right`.
type Condition struct {
	Left  Operand
	Op    string
	Right Operand
}

// SortBy orders rows by a column.
type SortBy struct {
	Field string
	Desc  bool
}

// Sort orders plucked or scalar values.
type Sort struct {
	Desc bool
}

// Count replaces the rows by their number.
type Count struct{}

// First keeps the first row and collapses to a single value.
type First struct{}

// Take keeps the first N rows.
type Take struct {
	N int
}

// Slice keeps rows [Start, End).
type Slice struct {
	Start int
	End   int
}

func (*Pluck) filterNode()  {}
func (*Where) filterNode()  {}
func (*SortBy) filterNode() {}
func (*Sort) filterNode()   {}
func (*Count) filterNode()  {}
func (*First) filterNode()  {}
func (*Take) filterNode()   {}
func (*Slice) filterNode()  {}

func (f *Pluck) String() string { return "pluck(" + f.Target.String() + ")" }

func (f *Where) String() string {
	conds := make([]string, len(f.Conds))
	for i, c := range f.Conds {
		conds[i] = c.String()
	}
	return "where(" + strings.Join(conds, ", ") + ")"
}

func (c Condition) String() string {
	return c.Left.String() + " " + c.Op + " " + c.Right.String()
}

func (f *SortBy) String() string { return "sortBy(" + f.Field + ", " + direction(f.Desc) + ")" }
func (f *Sort) String() string   { return "sort(" + direction(f.Desc) + ")" }
func (*Count) String() string    { return "count()" }
func (*First) String() string    { return "first()" }
func (f *Take) String() string   { return fmt.Sprintf("take(%d)", f.N) }
func (f *Slice) String() string  { return fmt.Sprintf("slice(%d, %d)", f.Start, f.End) }

func direction(desc bool) string {
	if desc {
		return "desc"
	}
	return "asc"
}
