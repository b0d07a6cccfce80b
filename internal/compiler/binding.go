package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"cuelang.org/go/cue"

	"github.com/roach88/arla/internal/engine"
	"github.com/roach88/arla/internal/schema"
)

type bindingSource int

const (
	fromArg bindingSource = iota
	fromSession
	fromThis
	fromConst
)

// binding supplies one positional parameter of a declared statement:
//
//	"arg.N"        the Nth call argument
//	"session.KEY"  a session value
//	"this.COL"     a column of the owning record (edges only)
//	"this"         the owning record's primary key (edges only)
//
// Numbers, booleans and null bind as constants.
type binding struct {
	source bindingSource
	key    string
	index  int
	value  any
}

func parseBinding(field string, v cue.Value) (binding, error) {
	switch v.Kind() {
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return binding{}, formatCUEError(field, err)
		}
		return binding{source: fromConst, value: n}, nil
	case cue.FloatKind:
		f, err := v.Float64()
		if err != nil {
			return binding{}, formatCUEError(field, err)
		}
		return binding{source: fromConst, value: f}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return binding{}, formatCUEError(field, err)
		}
		return binding{source: fromConst, value: b}, nil
	case cue.NullKind:
		return binding{source: fromConst}, nil
	case cue.StringKind:
	default:
		return binding{}, compileError(field, v.Pos(), "argument must be a string binding or a constant, got %v", v.Kind())
	}

	s, _ := v.String()
	if s == "this" {
		return binding{source: fromThis}, nil
	}
	source, key, ok := strings.Cut(s, ".")
	if !ok || key == "" {
		return binding{}, compileError(field, v.Pos(), "unknown binding %q", s)
	}
	switch source {
	case "arg":
		n, err := strconv.Atoi(key)
		if err != nil || n < 0 {
			return binding{}, compileError(field, v.Pos(), "argument index in %q must be a non-negative integer", s)
		}
		return binding{source: fromArg, index: n}, nil
	case "session":
		return binding{source: fromSession, key: key}, nil
	case "this":
		return binding{source: fromThis, key: key}, nil
	default:
		return binding{}, compileError(field, v.Pos(), "unknown binding %q", s)
	}
}

func (b binding) String() string {
	switch b.source {
	case fromArg:
		return fmt.Sprintf("arg.%d", b.index)
	case fromSession:
		return "session." + b.key
	case fromThis:
		if b.key == "" {
			return "this"
		}
		return "this." + b.key
	default:
		return fmt.Sprint(b.value)
	}
}

// statement is a declared query and its parameter bindings.
type statement struct {
	query string
	with  string
	args  []binding
}

func (s statement) sql(args []any) schema.SQL {
	if s.with != "" {
		return schema.SQLWithCTE{With: s.with, Text: s.query, Args: args}
	}
	return schema.ParameterizedSQL{Text: s.query, Args: args}
}

// edge returns the EdgeFunc for a declared edge.
func (s statement) edge(name string) schema.EdgeFunc {
	return func(c *schema.EdgeCall) (schema.SQL, error) {
		args := make([]any, len(s.args))
		for i, b := range s.args {
			switch b.source {
			case fromArg:
				if b.index >= len(c.Args) {
					return nil, fmt.Errorf("%s takes at least %d arguments", name, b.index+1)
				}
				args[i] = c.Args[b.index]
			case fromSession:
				args[i] = c.Session.Get(b.key)
			case fromThis:
				if b.key == "" {
					args[i] = c.This.ID()
				} else {
					args[i] = c.This.Col(b.key)
				}
			default:
				args[i] = b.value
			}
		}
		return s.sql(args), nil
	}
}

// action returns the engine Action for a declared action.
func (s statement) action(name string) engine.Action {
	return func(c *engine.ActionCall) (schema.SQL, error) {
		args := make([]any, len(s.args))
		for i, b := range s.args {
			switch b.source {
			case fromArg:
				if b.index >= len(c.Args) {
					return nil, engine.NewUserError("%s takes at least %d arguments", name, b.index+1)
				}
				args[i] = c.Args[b.index]
			case fromSession:
				args[i] = c.Session.Get(b.key)
			default:
				args[i] = b.value
			}
		}
		return s.sql(args), nil
	}
}
