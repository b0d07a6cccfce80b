package harness

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/arla/internal/engine"
	"github.com/roach88/arla/internal/store"
)

// validIdentifier guards table and column names interpolated into
// final_state queries.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is a failed assertion with enough context to debug it.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string

	// Trace lists the applied mutations, for trace assertions.
	Trace []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nApplied mutations:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %v\n", ev.Seq, ev.Name, ev.Args)
		}
	}
	return buf.String()
}

// AssertionContext gives assertions access to the running engine.
type AssertionContext struct {
	Ctx     context.Context
	Harness *Harness
}

// EvaluateAssertions evaluates every assertion and returns the failure
// messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.applied(), a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.applied(), a)
		case AssertTraceCount:
			err = assertTraceCount(result.applied(), a)
		case AssertFinalState, AssertWALCount, AssertReplay:
			if actx == nil || actx.Harness == nil {
				err = fmt.Errorf("assertion[%d]: %s requires a running engine", i, a.Type)
				break
			}
			err = evaluateLive(actx, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func evaluateLive(actx *AssertionContext, a Assertion) error {
	h := actx.Harness
	switch a.Type {
	case AssertFinalState:
		return assertFinalState(actx.Ctx, h.engine.Store(), a)
	case AssertWALCount:
		return assertWALCount(actx.Ctx, h.engine, a)
	default:
		return assertReplay(actx.Ctx, h, a)
	}
}

// assertTraceContains checks for an applied mutation named a.Action whose
// args start with a.Args.
func assertTraceContains(applied []TraceEvent, a Assertion) error {
	for _, ev := range applied {
		if ev.Name == a.Action && argsPrefix(ev.Args, a.Args) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("action %s with args %v", a.Action, a.Args),
		Actual:   "not found in trace",
		Trace:    applied,
	}
}

// assertTraceOrder checks that the first application of each action comes
// in the listed order. Other mutations may come between them.
func assertTraceOrder(applied []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, ev := range applied {
		if _, seen := positions[ev.Name]; !seen {
			positions[ev.Name] = i + 1
		}
	}
	for _, action := range a.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions applied: %v", a.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    applied,
			}
		}
	}
	for i := 1; i < len(a.Actions); i++ {
		prev, cur := a.Actions[i-1], a.Actions[i]
		if positions[prev] >= positions[cur] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", a.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], cur, positions[cur]),
				Trace: applied,
			}
		}
	}
	return nil
}

func assertTraceCount(applied []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range applied {
		if ev.Name == a.Action && argsPrefix(ev.Args, a.Args) {
			count++
		}
	}
	if count != *a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d applications of %s", *a.Count, a.Action),
			Actual:   fmt.Sprintf("%d applications", count),
			Trace:    applied,
		}
	}
	return nil
}

func assertWALCount(ctx context.Context, e *engine.Engine, a Assertion) error {
	info, err := e.WAL().Info(ctx)
	if err != nil {
		return fmt.Errorf("wal_count: %w", err)
	}
	if info.Count != int64(*a.Count) {
		return &AssertionError{
			Type:     AssertWALCount,
			Expected: fmt.Sprintf("%d wal entries", *a.Count),
			Actual:   fmt.Sprintf("%d wal entries", info.Count),
		}
	}
	return nil
}

// assertFinalState requires exactly one row of a.Table to match a.Where and
// compares the a.Expect columns against it.
func assertFinalState(ctx context.Context, st *store.Store, a Assertion) error {
	if !validIdentifier.MatchString(a.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", a.Table, validIdentifier)
	}
	d := st.Dialect()
	where, args, err := buildWhereClause(st, a.Where)
	if err != nil {
		return err
	}
	query := "SELECT * FROM " + d.QuoteIdent(a.Table)
	if where != "" {
		query += " WHERE " + where
	}

	rows, err := st.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", a.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	found, err := store.ScanMaps(rows)
	rows.Close()
	if err != nil {
		return fmt.Errorf("final_state: %w", err)
	}

	switch len(found) {
	case 0:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", a.Table, formatWhereClause(a.Where)),
			Actual:   "row not found",
		}
	case 1:
	default:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", a.Table, formatWhereClause(a.Where)),
			Actual:   fmt.Sprintf("%d rows matched (assertion is ambiguous)", len(found)),
		}
	}

	row := found[0]
	for _, key := range sortedKeys(a.Expect) {
		actual, ok := row[key]
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("column %q to exist", key),
				Actual:   fmt.Sprintf("columns: %v", sortedKeys(row)),
			}
		}
		if !stateValuesEqual(a.Expect[key], actual) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("column %q = %v (type %T)", key, a.Expect[key], a.Expect[key]),
				Actual:   fmt.Sprintf("column %q = %v (type %T)", key, actual, actual),
			}
		}
	}
	return nil
}

// assertReplay syncs a second projection from the scenario's WAL and
// compares its answer to a.Query with the live projection's.
func assertReplay(ctx context.Context, h *Harness, a Assertion) error {
	want, err := h.engine.Query(ctx, a.Query, h.scenario.Session)
	if err != nil {
		return fmt.Errorf("replay: live query: %w", err)
	}

	replica, err := h.open(ctx, "replica.db")
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	defer replica.Close()

	res, err := replica.Start(ctx)
	if err != nil {
		return &AssertionError{
			Type:     AssertReplay,
			Expected: "replica syncs from the wal",
			Actual:   err.Error(),
		}
	}
	got, err := replica.Query(ctx, a.Query, h.scenario.Session)
	if err != nil {
		return fmt.Errorf("replay: replica query: %w", err)
	}

	wv, err := decode(want)
	if err != nil {
		return err
	}
	gv, err := decode(got)
	if err != nil {
		return err
	}
	if ok, err := equalJSON(wv, gv); err != nil || !ok {
		return &AssertionError{
			Type:     AssertReplay,
			Expected: fmt.Sprintf("%s (live projection)", want),
			Actual:   fmt.Sprintf("%s (replica after %d replayed)", got, res.Replayed),
		}
	}
	return nil
}

// buildWhereClause renders a parameterized conjunction over where, keys
// sorted for a stable statement.
func buildWhereClause(st *store.Store, where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}
	keys := sortedKeys(where)
	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier)
		}
	}

	d := st.Dialect()
	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		if where[key] == nil {
			clauses = append(clauses, d.QuoteIdent(key)+" IS NULL")
			continue
		}
		args = append(args, where[key])
		clauses = append(clauses, d.QuoteIdent(key)+" = "+d.Placeholder(len(args)))
	}
	return strings.Join(clauses, " AND "), args, nil
}

func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	parts := make([]string, 0, len(where))
	for _, k := range sortedKeys(where) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares a YAML value with a driver value. SQLite
// stores booleans as integers.
func stateValuesEqual(expected, actual any) bool {
	if b, ok := expected.(bool); ok {
		switch v := actual.(type) {
		case bool:
			return b == v
		case int64:
			return b == (v != 0)
		}
		return false
	}
	ok, err := equalJSON(expected, actual)
	return err == nil && ok
}

// argsPrefix reports whether actual starts with expected.
func argsPrefix(actual, expected []any) bool {
	if len(expected) > len(actual) {
		return false
	}
	for i, want := range expected {
		ok, err := equalJSON(want, actual[i])
		if err != nil || !ok {
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
