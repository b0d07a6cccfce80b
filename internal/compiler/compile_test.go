package compiler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/arla/internal/dialect"
	"github.com/roach88/arla/internal/engine"
	"github.com/roach88/arla/internal/ir"
	"github.com/roach88/arla/internal/schema"
	"github.com/roach88/arla/internal/store"
	"github.com/roach88/arla/internal/testutil"
	"github.com/roach88/arla/internal/wal"
)

func TestCompileBasic(t *testing.T) {
	s, err := CompileString(`
		version: 3
		entity: note: {
			properties: {
				body: {type: "text"}
				tags: {type: "text", array: true}
				author: {ref: "person", on_delete: "SET NULL", nullable: true}
			}
			indexes: [{name: "by_author", columns: ["author"]}]
		}
		entity: person: properties: name: {type: "text", unique: true}
		action: addNote: {query: "INSERT INTO note (body) VALUES ($1)", args: ["arg.0"]}
	`, "basic.cue")
	require.NoError(t, err)

	assert.Equal(t, 3, s.Version)
	require.Contains(t, s.Actions, "addNote")

	note, ok := s.Registry.Entity("note")
	require.True(t, ok)
	names := make([]string, 0, len(note.Properties))
	for _, p := range note.Properties {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"id", "body", "tags", "author"}, names, "id is synthesized first")

	author, _ := note.Property("author")
	assert.Equal(t, "person", author.Ref)
	assert.Equal(t, "SET NULL", author.OnDelete)
	assert.True(t, author.Nullable)

	tags, _ := note.Property("tags")
	assert.True(t, tags.Document())

	require.Len(t, note.Indexes, 1)
	assert.Equal(t, schema.Index{Name: "by_author", Columns: []string{"author"}}, note.Indexes[0])
	assert.False(t, s.Registry.Frozen())
}

func TestCompileDefaultVersion(t *testing.T) {
	s, err := CompileString(`entity: a: properties: x: {type: "int"}`, "v.cue")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Version)
	assert.Empty(t, s.Actions)
}

func TestLoadMatchesGoDeclaredSchema(t *testing.T) {
	s, err := Load(filepath.Join("testdata", "member"))
	require.NoError(t, err)
	assert.Equal(t, 2, s.Version)
	assert.Len(t, s.Actions, 3)

	for _, d := range []dialect.Dialect{dialect.SQLite{}, dialect.Postgres{}} {
		want, err := testutil.MemberSchema(t).CompileDDL(d)
		require.NoError(t, err)
		got, err := s.Registry.CompileDDL(d)
		require.NoError(t, err)
		assert.Equal(t, want, got, "%T", d)
	}
}

func TestLoadedSchemaRunsEndToEnd(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Load(filepath.Join("testdata", "member"))
	require.NoError(t, err)
	st, err := store.Open(dialect.SQLite{}, filepath.Join(dir, "projection.db"))
	require.NoError(t, err)
	log, err := wal.OpenSQLite(filepath.Join(dir, "wal.db"))
	require.NoError(t, err)
	e, err := engine.New(s.Registry, st, log, s.EngineOptions()...)
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Start(ctx)
	require.NoError(t, err)

	res, err := e.Exec(ctx, ir.Mutation{Name: "addMember", Args: []any{"alice"}, Version: 2})
	require.NoError(t, err)
	alice := res.Rows[0]["id"].(string)
	_, err = e.Exec(ctx, ir.Mutation{Name: "addMember", Args: []any{"bob"}, Version: 2})
	require.NoError(t, err)
	_, err = e.Exec(ctx, ir.Mutation{
		Name:    "addEmailAddress",
		Args:    []any{"alice@example.com"},
		Version: 2,
		Token:   ir.Session{"member_id": alice},
	})
	require.NoError(t, err)
	_, err = e.Exec(ctx, ir.Mutation{Name: "befriend", Args: []any{"alice", "bob"}, Version: 2})
	require.NoError(t, err)

	raw, err := e.Query(ctx, `me { username, email_addresses { addr }, friends { username } }`, ir.Session{"member_id": alice})
	require.NoError(t, err)
	assert.JSONEq(t, `{"me":{"username":"alice","email_addresses":[{"addr":"alice@example.com"}],"friends":[{"username":"bob"}]}}`, string(raw))

	raw, err = e.Query(ctx, `member_by_name($1) { username }`, nil, "bob")
	require.NoError(t, err)
	assert.JSONEq(t, `{"member_by_name":{"username":"bob"}}`, string(raw))

	_, err = e.Exec(ctx, ir.Mutation{Name: "befriend", Version: 2})
	require.Error(t, err)
	assert.True(t, engine.IsUserError(err))
	assert.Contains(t, err.Error(), "befriend takes at least 1 arguments")
}

func TestCompileEdgeBindings(t *testing.T) {
	s, err := CompileString(`
		entity: post: properties: {
			owner: {type: "text"}
			related: {
				type: "post"
				array: true
				query: "SELECT * FROM post WHERE owner = $1 AND id <> $2 LIMIT $3"
				args: ["this.owner", "this", 5]
			}
			mine: {type: "post", array: true, query: "SELECT * FROM post WHERE owner = $1", args: ["session.user"]}
		}
	`, "edges.cue")
	require.NoError(t, err)

	post, _ := s.Registry.Entity("post")
	related, _ := post.Property("related")
	require.True(t, related.Computed())
	assert.Equal(t, post, related.Target())

	row := schema.NewRow(post)
	sql, err := related.Edge(&schema.EdgeCall{This: row})
	require.NoError(t, err)
	assert.Equal(t, schema.ParameterizedSQL{
		Text: "SELECT * FROM post WHERE owner = $1 AND id <> $2 LIMIT $3",
		Args: []any{row.Col("owner"), row.ID(), int64(5)},
	}, sql)

	mine, _ := post.Property("mine")
	sql, err = mine.Edge(&schema.EdgeCall{This: row, Session: ir.Session{"user": "u1"}})
	require.NoError(t, err)
	assert.Equal(t, []any{"u1"}, sql.(schema.ParameterizedSQL).Args)
}

func TestCompileEdgeMissingArgument(t *testing.T) {
	s, err := CompileString(`
		entity: root: properties: find: {type: "int", query: "SELECT $1", args: ["arg.1"]}
	`, "root.cue")
	require.NoError(t, err)
	root, _ := s.Registry.Entity(schema.RootEntity)
	find, _ := root.Property("find")
	_, err = find.Edge(&schema.EdgeCall{Args: []any{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "root.find takes at least 2 arguments")
}

func TestCompileWithClause(t *testing.T) {
	s, err := CompileString(`
		action: seed: {with: "v AS (SELECT $1 AS n)", query: "SELECT n FROM v", args: [true]}
	`, "with.cue")
	require.NoError(t, err)
	sql, err := s.Actions["seed"](&engine.ActionCall{})
	require.NoError(t, err)
	assert.Equal(t, schema.SQLWithCTE{With: "v AS (SELECT $1 AS n)", Text: "SELECT n FROM v", Args: []any{true}}, sql)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
		msg   string
	}{
		{
			name:  "missing type",
			src:   `entity: a: properties: x: {unique: true}`,
			field: "entity.a.properties.x.type",
			msg:   "type is required",
		},
		{
			name:  "unknown binding",
			src:   `entity: root: properties: x: {type: "int", query: "SELECT $1", args: ["cookie.id"]}`,
			field: "entity.root.properties.x.args[0]",
			msg:   `unknown binding "cookie.id"`,
		},
		{
			name:  "negative arg index",
			src:   `action: a: {query: "SELECT $1", args: ["arg.-1"]}`,
			field: "action.a.args[0]",
			msg:   "non-negative integer",
		},
		{
			name:  "this in action",
			src:   `action: a: {query: "SELECT $1", args: ["this.id"]}`,
			field: "action.a.args",
			msg:   "this.id is only available to edges",
		},
		{
			name:  "this on root",
			src:   `entity: root: properties: x: {type: "int", query: "SELECT $1", args: ["this"]}`,
			field: "entity.root.properties.x.args",
			msg:   "this is not available on root",
		},
		{
			name: "this unknown column",
			src: `entity: a: properties: {
				n: {type: "int"}
				e: {type: "int", query: "SELECT $1", args: ["this.missing"]}
			}`,
			field: "entity.a.properties.e.args",
			msg:   `a has no stored property "missing"`,
		},
		{
			name:  "action without query",
			src:   `action: a: {args: ["arg.0"]}`,
			field: "action.a",
			msg:   "action query is required",
		},
		{
			name:  "invalid action name",
			src:   `action: "add-member": {query: "SELECT 1"}`,
			field: "action.add-member",
			msg:   "letters, digits and underscores",
		},
		{
			name:  "edge with unique",
			src:   `entity: a: properties: e: {type: "int", unique: true, query: "SELECT 1"}`,
			field: "entity.a.properties.e",
			msg:   "an edge cannot declare",
		},
		{
			name:  "index without columns",
			src:   `entity: a: {properties: n: {type: "int"}, indexes: [{name: "i"}]}`,
			field: "entity.a.indexes[0].columns",
			msg:   "index columns are required",
		},
		{
			name:  "version below one",
			src:   `version: 0`,
			field: "version",
			msg:   "at least 1",
		},
		{
			name:  "unknown ref",
			src:   `entity: a: properties: b: {ref: "missing"}`,
			field: "entity",
			msg:   `references unknown entity "missing"`,
		},
		{
			name:  "bad join",
			src:   `join: j: ["a"]`,
			field: "join.j",
			msg:   "at least two entities",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileString(tt.src, "bad.cue")
			require.Error(t, err)
			var ce *CompileError
			require.True(t, errors.As(err, &ce), "got %T: %v", err, err)
			assert.Equal(t, tt.field, ce.Field)
			assert.Contains(t, ce.Message, tt.msg)
		})
	}
}

func TestCompileCUEError(t *testing.T) {
	_, err := CompileString("entity: a: properties: x: {type: 1 & 2}", "conflict.cue")
	require.Error(t, err)
	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "cue", ce.Field)
	assert.True(t, ce.Pos.IsValid())
	assert.Contains(t, err.Error(), "conflict.cue:1:")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "missing"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema directory")

	_, err = Load(filepath.Join("testdata", "member", "entities.cue"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a directory")

	_, err = Load(filepath.Join("testdata", "empty"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no CUE files")
}

func TestFindCUEFiles(t *testing.T) {
	files, err := FindCUEFiles(filepath.Join("testdata", "member"))
	require.NoError(t, err)
	assert.Len(t, files, 2)
}
