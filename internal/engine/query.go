package engine

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/roach88/arla/internal/aql"
	"github.com/roach88/arla/internal/ir"
	"github.com/roach88/arla/internal/querysql"
)

// Query compiles a query document and runs it, returning the JSON result
// object. args bind the document's $n placeholders and session is handed to
// every edge function.
func (e *Engine) Query(ctx context.Context, text string, session ir.Session, args ...any) (json.RawMessage, error) {
	stmt, err := e.Compile(text, session, args...)
	if err != nil {
		e.metrics.ObserveQuery(err)
		return nil, err
	}
	raw, err := e.store.QueryResult(ctx, stmt.SQL, stmt.Params...)
	if err != nil {
		slog.Error("query failed", "error", err)
		err = aql.ExecutionError(err)
	}
	e.metrics.ObserveQuery(err)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

// Compile returns the SQL statement for a query document without running it.
func (e *Engine) Compile(text string, session ir.Session, args ...any) (querysql.Statement, error) {
	doc, err := e.document(text)
	if err != nil {
		return querysql.Statement{}, err
	}
	return e.compiler.Compile(doc, args, session)
}

// document returns the normalized tree for text. Trees are cached by text;
// concurrent misses for the same text parse once.
func (e *Engine) document(text string) (*aql.Node, error) {
	if v, ok := e.docs.Get(text); ok {
		return v.(*aql.Node), nil
	}
	v, err, _ := e.flight.Do(text, func() (any, error) {
		doc, err := aql.ParseNormalized(text)
		if err != nil {
			return nil, err
		}
		e.docs.Add(text, doc)
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*aql.Node), nil
}
