package schema

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/arla/internal/dialect"
)

func renderEntityDDL(stmts []Statement) []byte {
	var b strings.Builder
	for _, s := range stmts {
		if s.Entity == "" {
			continue
		}
		fmt.Fprintf(&b, "%d %s\n", s.Priority, s.SQL)
	}
	return []byte(b.String())
}

func TestCompileDDLPostgresGolden(t *testing.T) {
	stmts, err := testRegistry(t).CompileDDL(dialect.Postgres{})
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "ddl_postgres", renderEntityDDL(stmts))
}

func TestCompileDDLPriorityOrder(t *testing.T) {
	stmts, err := testRegistry(t).CompileDDL(dialect.SQLite{})
	require.NoError(t, err)

	for i := 1; i < len(stmts); i++ {
		assert.LessOrEqual(t, stmts[i-1].Priority, stmts[i].Priority, "statement %d out of order", i)
	}
	assert.Equal(t, PriorityInternal, stmts[0].Priority)
}

func TestCompileDDLSQLiteInlinesColumns(t *testing.T) {
	stmts, err := testRegistry(t).CompileDDL(dialect.SQLite{})
	require.NoError(t, err)

	var create string
	var pkAlters int
	for _, s := range stmts {
		if s.Entity == "email" && s.Priority == PriorityCreateTable {
			create = s.SQL
		}
		if s.Priority == PriorityPrimaryKey {
			pkAlters++
		}
	}
	assert.Contains(t, create, `"member_id" TEXT NOT NULL REFERENCES "member" ("id") ON DELETE CASCADE ON UPDATE RESTRICT`)
	assert.Contains(t, create, `"addr" TEXT NOT NULL`)
	assert.Zero(t, pkAlters, "sqlite keys are declared inline")
}

func TestCompileDDLDocumentDefaults(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Define("member", Entity{Properties: []Property{
		{Name: "addrs", Type: "text", Array: true},
		{Name: "prefs", Type: "json"},
		{Name: "nickname", Type: "text", Nullable: true},
	}}))
	require.NoError(t, r.Resolve())
	member, _ := r.Entity("member")
	table, err := member.Table(dialect.Postgres{})
	require.NoError(t, err)

	byName := map[string]dialect.Column{}
	for _, c := range table.Columns {
		byName[c.Name] = c
	}
	assert.Equal(t, "jsonb", byName["addrs"].Type)
	assert.Equal(t, "'[]'", byName["addrs"].Default)
	assert.True(t, byName["addrs"].Document)
	assert.Equal(t, "'{}'", byName["prefs"].Default)
	assert.False(t, byName["nickname"].NotNull)
}

func TestCompileDDLSkipsRoot(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Define(RootEntity, Entity{Properties: []Property{
		{Name: "members", Type: "member", Array: true, Edge: func(c *EdgeCall) (SQL, error) {
			return RawSQL("SELECT * FROM member"), nil
		}},
	}}))
	stmts, err := r.CompileDDL(dialect.SQLite{})
	require.NoError(t, err)
	for _, s := range stmts {
		assert.NotEqual(t, RootEntity, s.Entity)
	}
	assert.NotContains(t, strings.Join(r.DropStatements(dialect.SQLite{}), ";"), `"root"`)
}

func TestCompileDDLUnknownType(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Define("x", Entity{Properties: []Property{{Name: "a", Type: "hyperloglog"}}}))
	_, err := r.CompileDDL(dialect.SQLite{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported storage type")
}
