package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/arla/internal/dialect"
	"github.com/roach88/arla/internal/ir"
	"github.com/roach88/arla/internal/schema"
	"github.com/roach88/arla/internal/store"
	"github.com/roach88/arla/internal/testutil"
	"github.com/roach88/arla/internal/wal"
)

// testVersion is the schema version of the test actions.
const testVersion = 2

// testActions are the member-schema actions:
//
//	addMember(username)        returns the new row
//	addEmailAddress(addr)      for session.member_id
//	addFriend(a, b)
//	addEmailFor(username, addr)
//	befriend(username, username)
//	touch()                    no-op
//	reject(msg)                fails with msg
func testActions() map[string]Action {
	return map[string]Action{
		"addMember": func(c *ActionCall) (schema.SQL, error) {
			return schema.ParameterizedSQL{
				Text: `INSERT INTO member (username) VALUES ($1) RETURNING id, username`,
				Args: c.Args,
			}, nil
		},
		"addEmailAddress": func(c *ActionCall) (schema.SQL, error) {
			if len(c.Args) != 1 {
				return nil, NewUserError("addEmailAddress takes an address")
			}
			return schema.ParameterizedSQL{
				Text: `INSERT INTO email (member_id, addr) VALUES ($1, $2)`,
				Args: []any{c.Session.Get("member_id"), c.Args[0]},
			}, nil
		},
		"addFriend": func(c *ActionCall) (schema.SQL, error) {
			return schema.SQLWithCTE{
				With: `pair AS (SELECT $1 AS a, $2 AS b)`,
				Text: `INSERT INTO friend (member_1_id, member_2_id) SELECT a, b FROM pair`,
				Args: c.Args,
			}, nil
		},
		"addEmailFor": func(c *ActionCall) (schema.SQL, error) {
			return schema.ParameterizedSQL{
				Text: `INSERT INTO email (member_id, addr) SELECT id, $2 FROM member WHERE username = $1`,
				Args: c.Args,
			}, nil
		},
		"befriend": func(c *ActionCall) (schema.SQL, error) {
			return schema.ParameterizedSQL{
				Text: `INSERT INTO friend (member_1_id, member_2_id) SELECT a.id, b.id FROM member a, member b WHERE a.username = $1 AND b.username = $2`,
				Args: c.Args,
			}, nil
		},
		"touch": func(*ActionCall) (schema.SQL, error) {
			return nil, nil
		},
		"reject": func(c *ActionCall) (schema.SQL, error) {
			return nil, errors.New(c.Args[0].(string))
		},
	}
}

// testEngine opens an engine over a SQLite projection and SQLite WAL in dir
// and starts it. Reopening the same dir reuses both files.
func testEngine(t *testing.T, dir string, opts ...Option) *Engine {
	t.Helper()
	e := openEngine(t, dir, opts...)
	_, err := e.Start(context.Background())
	require.NoError(t, err)
	return e
}

func openEngine(t *testing.T, dir string, opts ...Option) *Engine {
	t.Helper()
	return openEngineWith(t, testutil.MemberSchema(t), filepath.Join(dir, "projection.db"), filepath.Join(dir, "wal.db"), opts...)
}

func openEngineWith(t *testing.T, reg *schema.Registry, projection, walPath string, opts ...Option) *Engine {
	t.Helper()
	st, err := store.Open(dialect.SQLite{}, projection)
	require.NoError(t, err)
	log, err := wal.OpenSQLite(walPath, wal.WithClock(testutil.NewDeterministicClock().Now))
	require.NoError(t, err)

	base := []Option{
		WithVersion(testVersion),
		WithIDs(testutil.NewSequentialIDs("m")),
		WithActions(testActions()),
	}
	e, err := New(reg, st, log, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func mutation(name string, args ...any) ir.Mutation {
	if args == nil {
		args = []any{}
	}
	return ir.Mutation{Name: name, Args: args, Version: testVersion}
}

// addMember executes addMember and returns the new member id.
func addMember(t *testing.T, e *Engine, username string) string {
	t.Helper()
	res, err := e.Exec(context.Background(), mutation("addMember", username))
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	return res.Rows[0]["id"].(string)
}

func as(memberID string) ir.Session {
	return ir.Session{"member_id": memberID}
}

func query(t *testing.T, e *Engine, text string, session ir.Session, args ...any) string {
	t.Helper()
	raw, err := e.Query(context.Background(), text, session, args...)
	require.NoError(t, err)
	return string(raw)
}

func walCount(t *testing.T, e *Engine) int64 {
	t.Helper()
	info, err := e.WAL().Info(context.Background())
	require.NoError(t, err)
	return info.Count
}

func countRows(t *testing.T, e *Engine, table string) int {
	t.Helper()
	var n int
	require.NoError(t, e.Store().DB().QueryRow("SELECT count(*) FROM "+table).Scan(&n))
	return n
}
