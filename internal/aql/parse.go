package aql

import (
	"errors"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"golang.org/x/text/unicode/norm"
)

var aqlLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `#[^\n]*`},
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
	{Name: "Placeholder", Pattern: `\$[0-9]+`},
	{Name: "Float", Pattern: `-?[0-9]+\.[0-9]+`},
	{Name: "Int", Pattern: `-?[0-9]+`},
	{Name: "String", Pattern: `"(\\.|[^"\\])*"|'(\\.|[^'\\])*'`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "Op", Pattern: `!=|<>|<=|>=|=|<|>`},
	{Name: "Punct", Pattern: `[(){}.,:]`},
})

var aqlParser = participle.MustBuild[document](
	participle.Lexer(aqlLexer),
	participle.Elide("Whitespace", "Comment"),
	participle.UseLookahead(4),
)

// Grammar. Kept unexported; Parse converts it into Nodes.

type document struct {
	Selections []*selection `parser:"( @@ ','? )*"`
}

type selection struct {
	Pos     lexer.Position
	Alias   string        `parser:"( @Ident ':' )?"`
	Name    string        `parser:"@Ident"`
	Call    *callArgs     `parser:"@@?"`
	Filters []*filterCall `parser:"( '.' @@ )*"`
	Body    *body         `parser:"@@?"`
}

type callArgs struct {
	Open bool       `parser:"@'('"`
	Args []*operand `parser:"( @@ ( ',' @@ )* )? ')'"`
}

type body struct {
	Open       bool         `parser:"@'{'"`
	Selections []*selection `parser:"( @@ ','? )* '}'"`
}

type filterCall struct {
	Pos  lexer.Position
	Name string       `parser:"@Ident '('"`
	Args []*filterArg `parser:"( @@ ( ',' @@ )* )? ')'"`
}

type filterArg struct {
	Left *operand `parser:"@@"`
	Tail *argTail `parser:"@@?"`
}

type argTail struct {
	Cmp *comparison `parser:"  @@"`
	Dir string      `parser:"| @( 'asc' | 'desc' )"`
}

type comparison struct {
	Op    string   `parser:"@( Op | 'like' )"`
	Right *operand `parser:"@@"`
}

type operand struct {
	Placeholder *string    `parser:"  @Placeholder"`
	Float       *float64   `parser:"| @Float"`
	Int         *int64     `parser:"| @Int"`
	String      *string    `parser:"| @String"`
	True        bool       `parser:"| @'true'"`
	False       bool       `parser:"| @'false'"`
	Null        bool       `parser:"| @'null'"`
	Sel         *selection `parser:"| @@"`
}

// Parse parses a query document into a root node whose children are the
// document's top-level selections. The text is NFC-normalized first so
// identifiers and literals compare by canonical form.
func Parse(text string) (*Node, error) {
	text = norm.NFC.String(text)
	doc, err := aqlParser.ParseString("", text)
	if err != nil {
		return nil, syntaxError(text, err)
	}

	root := &Node{Name: "root", Pos: Position{Line: 1, Column: 1}}
	sels := doc.Selections
	if len(sels) == 1 && sels[0].Name == "root" && sels[0].Alias == "" && len(sels[0].Filters) == 0 {
		if sels[0].Call != nil && len(sels[0].Call.Args) > 0 {
			return nil, Errorf(root, ErrCodeInvalidArgument, "root takes no arguments")
		}
		if sels[0].Body != nil {
			sels = sels[0].Body.Selections
		} else {
			sels = nil
		}
	}
	for _, s := range sels {
		child, err := convertSelection(s)
		if err != nil {
			return nil, err
		}
		root.Children = append(root.Children, child)
	}
	return root, nil
}

func syntaxError(text string, err error) error {
	qe := &QueryError{Code: ErrCodeSyntax, Message: err.Error()}
	var pe participle.Error
	if errors.As(err, &pe) {
		pos := pe.Position()
		qe.Message = pe.Message()
		qe.Line = pos.Line
		qe.Column = pos.Column
		qe.Offset = pos.Offset
		qe.Context = sourceLine(text, pos.Line)
	}
	return qe
}

func position(p lexer.Position) Position {
	return Position{Line: p.Line, Column: p.Column, Offset: p.Offset}
}

func convertSelection(s *selection) (*Node, error) {
	n := &Node{Alias: s.Alias, Name: s.Name, Pos: position(s.Pos)}
	if s.Call != nil {
		for _, a := range s.Call.Args {
			op, err := convertOperand(n, a)
			if err != nil {
				return nil, err
			}
			if _, isIdent := op.(Ident); isIdent {
				return nil, Errorf(n, ErrCodeInvalidArgument, "property arguments must be literals or placeholders, got %s", op)
			}
			n.Args = append(n.Args, op)
		}
	}
	for _, fc := range s.Filters {
		f, err := convertFilter(n, fc)
		if err != nil {
			return nil, err
		}
		n.Filters = append(n.Filters, f)
	}
	if s.Body != nil {
		for _, cs := range s.Body.Selections {
			child, err := convertSelection(cs)
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
		}
	}
	return n, nil
}

func convertFilter(n *Node, fc *filterCall) (Filter, error) {
	at := &Node{Name: n.Name, Alias: n.Alias, Pos: position(fc.Pos)}
	arity := func(min, max int) error {
		if len(fc.Args) < min || len(fc.Args) > max {
			if min == max {
				return Errorf(at, ErrCodeInvalidFilter, "%s takes %d argument(s), got %d", fc.Name, min, len(fc.Args))
			}
			return Errorf(at, ErrCodeInvalidFilter, "%s takes %d to %d arguments, got %d", fc.Name, min, max, len(fc.Args))
		}
		return nil
	}

	switch strings.ToLower(fc.Name) {
	case "pluck":
		if err := arity(1, 1); err != nil {
			return nil, err
		}
		arg := fc.Args[0]
		if arg.Tail != nil || arg.Left.Sel == nil {
			return nil, Errorf(at, ErrCodeInvalidFilter, "pluck takes a property selection")
		}
		target, err := convertSelection(arg.Left.Sel)
		if err != nil {
			return nil, err
		}
		return &Pluck{Target: target}, nil

	case "where", "filter":
		if err := arity(1, 64); err != nil {
			return nil, err
		}
		w := &Where{}
		for _, arg := range fc.Args {
			if arg.Tail == nil || arg.Tail.Cmp == nil {
				return nil, Errorf(at, ErrCodeInvalidFilter, "%s takes comparisons like field = value", fc.Name)
			}
			left, err := convertOperand(at, arg.Left)
			if err != nil {
				return nil, err
			}
			right, err := convertOperand(at, arg.Tail.Cmp.Right)
			if err != nil {
				return nil, err
			}
			op := strings.ToLower(arg.Tail.Cmp.Op)
			if op == "<>" {
				op = "!="
			}
			w.Conds = append(w.Conds, Condition{Left: left, Op: op, Right: right})
		}
		return w, nil

	case "sortby":
		if err := arity(1, 2); err != nil {
			return nil, err
		}
		field, desc, err := sortField(at, fc.Args[0])
		if err != nil {
			return nil, err
		}
		if len(fc.Args) == 2 {
			dir, ok := bareIdent(fc.Args[1])
			if !ok || (dir != "asc" && dir != "desc") {
				return nil, Errorf(at, ErrCodeInvalidFilter, "sortBy direction must be asc or desc")
			}
			desc = dir == "desc"
		}
		return &SortBy{Field: field, Desc: desc}, nil

	case "sort":
		if err := arity(0, 1); err != nil {
			return nil, err
		}
		if len(fc.Args) == 0 {
			return &Sort{}, nil
		}
		if dir, ok := bareIdent(fc.Args[0]); ok && (dir == "asc" || dir == "desc") {
			return &Sort{Desc: dir == "desc"}, nil
		}
		field, desc, err := sortField(at, fc.Args[0])
		if err != nil {
			return nil, err
		}
		return &SortBy{Field: field, Desc: desc}, nil

	case "count":
		if err := arity(0, 0); err != nil {
			return nil, err
		}
		return &Count{}, nil

	case "first":
		if err := arity(0, 0); err != nil {
			return nil, err
		}
		return &First{}, nil

	case "take":
		if err := arity(1, 1); err != nil {
			return nil, err
		}
		count, err := intArg(at, fc.Args[0])
		if err != nil {
			return nil, err
		}
		return &Take{N: count}, nil

	case "slice":
		if err := arity(2, 2); err != nil {
			return nil, err
		}
		start, err := intArg(at, fc.Args[0])
		if err != nil {
			return nil, err
		}
		end, err := intArg(at, fc.Args[1])
		if err != nil {
			return nil, err
		}
		if end < start {
			return nil, Errorf(at, ErrCodeInvalidFilter, "slice end %d before start %d", end, start)
		}
		return &Slice{Start: start, End: end}, nil

	default:
		return nil, Errorf(at, ErrCodeInvalidFilter, "unknown filter %q", fc.Name)
	}
}

func convertOperand(at *Node, o *operand) (Operand, error) {
	switch {
	case o.Placeholder != nil:
		idx, err := strconv.Atoi(strings.TrimPrefix(*o.Placeholder, "$"))
		if err != nil || idx < 1 {
			return nil, Errorf(at, ErrCodeInvalidArgument, "invalid placeholder %s", *o.Placeholder)
		}
		return Placeholder{Index: idx}, nil
	case o.Float != nil:
		return Literal{Value: *o.Float}, nil
	case o.Int != nil:
		return Literal{Value: *o.Int}, nil
	case o.String != nil:
		return Literal{Value: unquote(*o.String)}, nil
	case o.True:
		return Literal{Value: true}, nil
	case o.False:
		return Literal{Value: false}, nil
	case o.Null:
		return Literal{Value: nil}, nil
	case o.Sel != nil:
		if !isBare(o.Sel) {
			return nil, Errorf(at, ErrCodeInvalidArgument, "expected a column name, got a selection on %s", o.Sel.Name)
		}
		return Ident{Name: o.Sel.Name}, nil
	default:
		return nil, Errorf(at, ErrCodeInvalidArgument, "empty operand")
	}
}

func sortField(at *Node, arg *filterArg) (string, bool, error) {
	if arg.Left.Sel == nil || !isBare(arg.Left.Sel) || (arg.Tail != nil && arg.Tail.Cmp != nil) {
		return "", false, Errorf(at, ErrCodeInvalidFilter, "sort field must be a column name")
	}
	desc := arg.Tail != nil && arg.Tail.Dir == "desc"
	return arg.Left.Sel.Name, desc, nil
}

func bareIdent(arg *filterArg) (string, bool) {
	if arg.Tail != nil || arg.Left.Sel == nil || !isBare(arg.Left.Sel) {
		return "", false
	}
	return arg.Left.Sel.Name, true
}

func intArg(at *Node, arg *filterArg) (int, error) {
	if arg.Tail != nil || arg.Left.Int == nil || *arg.Left.Int < 0 {
		return 0, Errorf(at, ErrCodeInvalidFilter, "expected a non-negative integer")
	}
	return int(*arg.Left.Int), nil
}

func isBare(s *selection) bool {
	return s.Alias == "" && s.Call == nil && len(s.Filters) == 0 && s.Body == nil
}

// unquote strips matching quotes and resolves backslash escapes.
func unquote(s string) string {
	if len(s) < 2 {
		return s
	}
	q := s[0]
	inner := s[1 : len(s)-1]
	if q == '"' {
		if out, err := strconv.Unquote(s); err == nil {
			return out
		}
	}
	var b strings.Builder
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if c == '\\' && i+1 < len(inner) {
			i++
			switch inner[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(inner[i])
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
