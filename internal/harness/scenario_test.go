package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ResolvesSchema(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/member_lifecycle.yaml")
	require.NoError(t, err)

	assert.Equal(t, "member_lifecycle", s.Name)
	assert.Equal(t, filepath.Join("testdata", "schema"), s.Schema)
	require.Len(t, s.Setup, 1)
	assert.Equal(t, "addMember", s.Setup[0].Exec)
	assert.Equal(t, []any{"alice"}, s.Setup[0].Args)
	require.Len(t, s.Steps, 6)
	assert.Equal(t, "UNIQUE_VIOLATION", s.Steps[1].Expect.Error)
	assert.Equal(t, []any{"bob"}, s.Steps[4].Args)
	require.Len(t, s.Assertions, 6)
	require.NotNil(t, s.Assertions[0].Count)
	assert.Equal(t, 3, *s.Assertions[0].Count)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/nope.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read scenario")
}

func TestLoadScenario_MissingSchemaDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: s
description: d
schema: ./nowhere
steps:
  - query: "members.count()"
`), 0o644))

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema directory")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	_, err := LoadScenario("testdata/invalid/broken.yml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stepz")
}

func TestParseScenario_Validation(t *testing.T) {
	const head = "name: s\ndescription: d\nschema: x\n"
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"missing name", "description: d\nschema: x\nsteps: [{query: q}]", "name is required"},
		{"missing description", "name: s\nschema: x\nsteps: [{query: q}]", "description is required"},
		{"missing schema", "name: s\ndescription: d\nsteps: [{query: q}]", "schema is required"},
		{"no steps", head, "steps list is required"},
		{"empty step", head + "steps: [{}]", "steps[0]: exec or query is required"},
		{"exec and query", head + "steps: [{exec: a, query: q}]", "mutually exclusive"},
		{"negative version", head + "steps: [{exec: a, version: -1}]", "version must be positive"},
		{"error with rows", head + "steps: [{exec: a, expect: {error: X, rows: []}}]", "expect.error excludes"},
		{"rows on query", head + "steps: [{query: q, expect: {rows: []}}]", "expect.rows only applies to exec"},
		{"result on exec", head + "steps: [{exec: a, expect: {result: 1}}]", "expect.result only applies to query"},
		{"setup expect", head + "setup: [{exec: a, expect: {error: X}}]\nsteps: [{query: q}]", "setup[0]: setup steps cannot carry expect"},
		{"assertion type", head + "steps: [{query: q}]\nassertions: [{}]", "assertions[0]: type is required"},
		{"unknown assertion", head + "steps: [{query: q}]\nassertions: [{type: vibes}]", `unknown assertion type "vibes"`},
		{"trace_count count", head + "steps: [{query: q}]\nassertions: [{type: trace_count, action: a}]", "non-negative count"},
		{"wal_count count", head + "steps: [{query: q}]\nassertions: [{type: wal_count, count: -1}]", "non-negative count"},
		{"trace_order length", head + "steps: [{query: q}]\nassertions: [{type: trace_order, actions: [a]}]", "at least 2 actions"},
		{"final_state table", head + "steps: [{query: q}]\nassertions: [{type: final_state, expect: {a: 1}}]", "requires table"},
		{"final_state expect", head + "steps: [{query: q}]\nassertions: [{type: final_state, table: t}]", "requires expect"},
		{"replay query", head + "steps: [{query: q}]\nassertions: [{type: replay}]", "replay requires query"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseScenario_ZeroCountIsValid(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: s
description: d
schema: x
steps: [{query: q}]
assertions:
  - type: wal_count
    count: 0
`))
	require.NoError(t, err)
	require.NotNil(t, s.Assertions[0].Count)
	assert.Equal(t, 0, *s.Assertions[0].Count)
}
