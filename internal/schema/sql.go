package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/arla/internal/dialect"
)

// SQL is the tagged variant returned by edges and actions.
// Implemented by RawSQL, ParameterizedSQL and SQLWithCTE.
type SQL interface {
	sqlValue()
}

// RawSQL is a statement without parameters.
type RawSQL string

// ParameterizedSQL is a statement whose $1..$n placeholders bind Args.
type ParameterizedSQL struct {
	Text string
	Args []any
}

// SQLWithCTE is a statement that depends on an auxiliary ("shadow") common
// table expression. With is the CTE list without the WITH keyword, for
// example "recent AS (SELECT ...)". Placeholders in both With and Text bind
// Args.
type SQLWithCTE struct {
	With string
	Args []any
	Text string
}

func (RawSQL) sqlValue()           {}
func (ParameterizedSQL) sqlValue() {}
func (SQLWithCTE) sqlValue()       {}

// Fragment is the normalized form of any SQL value.
type Fragment struct {
	With string
	Text string
	Args []any
}

// ResolveSQL converts a SQL value into a Fragment.
func ResolveSQL(s SQL) (Fragment, error) {
	switch v := s.(type) {
	case RawSQL:
		return Fragment{Text: string(v)}, nil
	case ParameterizedSQL:
		return Fragment{Text: v.Text, Args: v.Args}, nil
	case SQLWithCTE:
		return Fragment{With: v.With, Text: v.Text, Args: v.Args}, nil
	case *ParameterizedSQL:
		return Fragment{Text: v.Text, Args: v.Args}, nil
	case *SQLWithCTE:
		return Fragment{With: v.With, Text: v.Text, Args: v.Args}, nil
	case nil:
		return Fragment{}, fmt.Errorf("nil SQL value")
	default:
		return Fragment{}, fmt.Errorf("unsupported SQL value %T", s)
	}
}

// Params collects bound parameters for one statement.
type Params struct {
	d      dialect.Dialect
	values []any
}

// NewParams returns an empty parameter list rendering placeholders with d.
func NewParams(d dialect.Dialect) *Params {
	return &Params{d: d}
}

// Add binds v and returns its placeholder.
func (p *Params) Add(v any) string {
	p.values = append(p.values, normalizeArg(v))
	return p.d.Placeholder(len(p.values))
}

// Values returns the bound values in placeholder order.
func (p *Params) Values() []any {
	if p.values == nil {
		return []any{}
	}
	return p.values
}

// normalizeArg converts JSON-decoded values into driver-friendly ones.
// Structured values are stored as JSON text.
func normalizeArg(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return string(val)
	case []any, map[string]any, []string:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	default:
		return v
	}
}

// ColumnResolver renders a ColumnRef found among the arguments.
type ColumnResolver func(ref ColumnRef) (string, error)

// Bind rewrites $1..$n in text. Arguments that are ColumnRefs are rendered
// by cols; every other argument becomes a bound parameter. Placeholders
// inside quoted strings and identifiers are left alone. Referencing an
// argument that does not exist is an error.
func Bind(text string, args []any, params *Params, cols ColumnResolver) (string, error) {
	var b strings.Builder
	b.Grow(len(text))
	bound := make(map[int]string)

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '\'' || c == '"':
			end := closingQuote(text, i)
			b.WriteString(text[i:end])
			i = end - 1
		case c == '$' && i+1 < len(text) && isDigit(text[i+1]):
			j := i + 1
			for j < len(text) && isDigit(text[j]) {
				j++
			}
			n, _ := strconv.Atoi(text[i+1 : j])
			if n < 1 || n > len(args) {
				return "", fmt.Errorf("placeholder $%d out of range (%d arguments)", n, len(args))
			}
			rendered, ok := bound[n]
			if !ok {
				if ref, isRef := args[n-1].(ColumnRef); isRef {
					if cols == nil {
						return "", fmt.Errorf("placeholder $%d references column %q outside a record", n, ref.Column)
					}
					var err error
					if rendered, err = cols(ref); err != nil {
						return "", err
					}
				} else {
					rendered = params.Add(args[n-1])
				}
				bound[n] = rendered
			}
			b.WriteString(rendered)
			i = j - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

// closingQuote returns the index just past the quoted run starting at i.
// A doubled quote character is an escaped quote.
func closingQuote(s string, i int) int {
	q := s[i]
	for j := i + 1; j < len(s); j++ {
		if s[j] == q {
			if j+1 < len(s) && s[j+1] == q {
				j++
				continue
			}
			return j + 1
		}
	}
	return len(s)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
