package engine

import (
	"regexp"

	"github.com/roach88/arla/internal/ir"
	"github.com/roach88/arla/internal/schema"
	"github.com/roach88/arla/internal/trigger"
)

var actionName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Action turns a mutation into the statement that applies it. Returning a
// nil SQL makes the mutation a no-op; it is still logged. $1..$n in the
// returned SQL bind its Args.
type Action func(c *ActionCall) (schema.SQL, error)

// ActionCall is the context handed to an Action.
type ActionCall struct {
	// Mutation is the mutation after version upgrades.
	Mutation ir.Mutation

	// Args are Mutation.Args.
	Args []any

	// Session is the caller context (Mutation.Token).
	Session ir.Session

	// Tx is the mutation's transaction. Actions may read through it to
	// decide what to return.
	Tx trigger.Querier
}

// Transform upgrades a mutation by one version. It must return a mutation
// whose version differs from its input; the engine stops with a
// non-termination error if the same name@version comes back around.
type Transform func(m ir.Mutation) (ir.Mutation, error)

// Resolver is consulted when a replayed mutation fails. It may return a
// substitute statement, nil to skip the entry, or an error to abort the sync.
type Resolver func(c *ResolveCall) (schema.SQL, error)

// ResolveCall is the context handed to a Resolver.
type ResolveCall struct {
	// Err is the failure of the original action.
	Err error

	Mutation ir.Mutation
	Session  ir.Session
	Tx       trigger.Querier
}

func (e *Engine) lookup(m ir.Mutation) (Action, error) {
	if fn, ok := e.actions[m.Name]; ok {
		return fn, nil
	}
	if actionName.MatchString(m.Name) {
		return nil, mutationError(m, ErrCodeNoSuchAction, nil, "no such action %s", m.Name)
	}
	return nil, mutationError(m, ErrCodeInvalidAction, nil, "invalid action")
}
