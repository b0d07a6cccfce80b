package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_MemberLifecycle(t *testing.T) {
	result, err := RunWithGolden(t, load(t, "testdata/scenarios/member_lifecycle.yaml"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestSnapshot_IsCanonical(t *testing.T) {
	r := NewResult()
	r.record(TraceEvent{Kind: KindExec, Name: "addMember", Args: []any{"a"}, ID: "m-0001", WALID: 1, Output: []any{}})
	r.record(TraceEvent{Kind: KindQuery, Name: "members.count()", Error: "SYNTAX"})

	data, err := Snapshot("snap", r)
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"snap","trace":[`+
			`{"args":["a"],"id":"m-0001","kind":"exec","name":"addMember","output":[],"seq":1,"wal_id":1},`+
			`{"error":"SYNTAX","kind":"query","name":"members.count()","seq":2}]}`,
		string(data))
}

func TestSnapshot_IsDeterministic(t *testing.T) {
	first, err := Run(t.Context(), load(t, "testdata/scenarios/member_lifecycle.yaml"))
	require.NoError(t, err)
	second, err := Run(t.Context(), load(t, "testdata/scenarios/member_lifecycle.yaml"))
	require.NoError(t, err)

	a, err := Snapshot("x", first)
	require.NoError(t, err)
	b, err := Snapshot("x", second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}
