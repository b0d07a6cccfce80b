package harness

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/arla/internal/aql"
	"github.com/roach88/arla/internal/engine"
)

func load(t *testing.T, path string) *Scenario {
	t.Helper()
	s, err := LoadScenario(path)
	require.NoError(t, err)
	return s
}

func TestRun_MemberLifecycle(t *testing.T) {
	result, err := Run(context.Background(), load(t, "testdata/scenarios/member_lifecycle.yaml"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)

	require.Len(t, result.Trace, 7)
	assert.Equal(t, "m-0001", result.Trace[0].ID)
	assert.Equal(t, int64(1), result.Trace[0].WALID)
	assert.Equal(t, "UNIQUE_VIOLATION", result.Trace[2].Error)
	assert.Empty(t, result.Trace[2].ID)
	assert.Equal(t, int64(3), result.Trace[3].WALID)
	assert.Len(t, result.applied(), 3)
}

func TestRun_RejectedMutations(t *testing.T) {
	result, err := Run(context.Background(), load(t, "testdata/scenarios/rejected_mutations.yaml"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.applied())
}

func TestRun_ReportsFailures(t *testing.T) {
	result, err := Run(context.Background(), load(t, "testdata/invalid/failing.yaml"))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "steps[0] exec addMember: rows mismatch")
	assert.Contains(t, result.Errors[1], "expected error UNIQUE_VIOLATION, step succeeded")
	assert.Contains(t, result.Errors[2], "Assertion failed: wal_count")
	assert.Contains(t, result.Errors[3], "row not found")
}

func TestRun_SetupFailureIsFatal(t *testing.T) {
	s := load(t, "testdata/scenarios/rejected_mutations.yaml")
	s.Setup = []Step{{Exec: "addMember"}}

	_, err := Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup[0] exec addMember failed")
}

func TestRun_SchemaErrorIsFatal(t *testing.T) {
	s := load(t, "testdata/scenarios/rejected_mutations.yaml")
	s.Schema = t.TempDir()

	_, err := Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load schema")
}

func TestRun_StepSessionOverridesDefault(t *testing.T) {
	s := &Scenario{
		Name:        "session",
		Description: "d",
		Schema:      "testdata/schema",
		Session:     map[string]any{"who": "default"},
		Steps: []Step{
			{Exec: "addMember", Args: []any{"alice"}},
			{Exec: "addMember", Args: []any{"bob"}, Session: map[string]any{"who": "step"}},
		},
	}
	h := &Harness{scenario: s}
	assert.Equal(t, "default", h.session(s.Steps[0]).Get("who"))
	assert.Equal(t, "step", h.session(s.Steps[1]).Get("who"))
	assert.Nil(t, (&Harness{scenario: &Scenario{}}).session(Step{}))
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"mutation", &engine.MutationError{Code: engine.ErrCodeUniqueViolation}, "UNIQUE_VIOLATION"},
		{"query", &aql.QueryError{Code: aql.ErrCodeSyntax}, "SYNTAX"},
		{"config", &engine.ConfigError{Code: engine.ErrCodeStoreMismatch}, "STORE_MISMATCH"},
		{"user", engine.NewUserError("nope"), "USER"},
		{"not synced", engine.ErrNotSynced, "NOT_SYNCED"},
		{"other", errors.New("boom"), "ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}

func TestEqualJSON(t *testing.T) {
	ok, err := equalJSON(map[string]any{"n": 1, "s": "x"}, map[string]any{"s": "x", "n": json.Number("1.0")})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = equalJSON([]any{1, 2}, []any{2, 1})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckExpect(t *testing.T) {
	boom := errors.New("boom")
	assert.Empty(t, checkExpect(nil, TraceEvent{}, nil))
	assert.Contains(t, checkExpect(nil, TraceEvent{Error: "ERROR"}, boom), "unexpected error: boom")
	assert.Contains(t, checkExpect(&Expect{Rows: []map[string]any{}}, TraceEvent{}, boom), "unexpected error")
	assert.Empty(t, checkExpect(&Expect{Error: "ERROR"}, TraceEvent{Error: "ERROR"}, boom))
	assert.Contains(t, checkExpect(&Expect{Error: "SYNTAX"}, TraceEvent{Error: "ERROR"}, boom), "expected error SYNTAX, got ERROR")
	assert.Empty(t, checkExpect(&Expect{Result: map[string]any{"n": 1}}, TraceEvent{Output: map[string]any{"n": json.Number("1")}}, nil))
}
