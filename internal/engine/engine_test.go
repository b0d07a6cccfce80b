package engine

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/arla/internal/aql"
	"github.com/roach88/arla/internal/dialect"
	"github.com/roach88/arla/internal/ir"
	"github.com/roach88/arla/internal/metrics"
	"github.com/roach88/arla/internal/store"
	"github.com/roach88/arla/internal/testutil"
	"github.com/roach88/arla/internal/wal"
)

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(nil, nil, nil)
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestNew_RejectsRegistryReuse(t *testing.T) {
	dir := t.TempDir()
	e := openEngine(t, dir)

	log, err := wal.OpenSQLite(filepath.Join(dir, "other-wal.db"))
	require.NoError(t, err)
	defer log.Close()

	_, err = New(e.Registry(), e.Store(), log)
	require.Error(t, err)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrCodeAlreadyInitialized, ce.Code)
}

func TestNew_FreezesRegistry(t *testing.T) {
	e := openEngine(t, t.TempDir())
	assert.True(t, e.Registry().Frozen())
}

func TestNew_RejectsInvalidActionName(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(dialect.SQLite{}, filepath.Join(dir, "p.db"))
	require.NoError(t, err)
	defer st.Close()
	log, err := wal.OpenSQLite(filepath.Join(dir, "w.db"))
	require.NoError(t, err)
	defer log.Close()

	_, err = New(testutil.MemberSchema(t), st, log, WithAction("drop table", testActions()["touch"]))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid action name "drop table"`)
}

func TestExec_RequiresSync(t *testing.T) {
	e := openEngine(t, t.TempDir())
	_, err := e.Exec(context.Background(), mutation("touch"))
	assert.ErrorIs(t, err, ErrNotSynced)
}

func TestExec_AppliesAndLogs(t *testing.T) {
	ctx := context.Background()
	e := testEngine(t, t.TempDir())

	res, err := e.Exec(ctx, mutation("addMember", "alice"))
	require.NoError(t, err)
	assert.Equal(t, "m-0001", res.Mutation.ID)
	assert.Equal(t, int64(1), res.WALID)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "alice", res.Rows[0]["username"])

	assert.JSONEq(t, `{"members":[{"username":"alice"}]}`, query(t, e, `members { username }`, nil))

	var entries []wal.Entry
	for entry, err := range e.WAL().Stream(ctx, 0) {
		require.NoError(t, err)
		entries = append(entries, entry)
	}
	require.Len(t, entries, 1)
	logged, err := ir.DecodeMutation(entries[0].Value)
	require.NoError(t, err)
	assert.Equal(t, "addMember", logged.Name)
	assert.Equal(t, "m-0001", logged.ID)
	assert.Equal(t, []any{"alice"}, logged.Args)

	pos, err := e.Store().Position(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pos.LastID)
	assert.Equal(t, "m-0001", pos.LastMutation)
}

func TestExec_KeepsCallerID(t *testing.T) {
	e := testEngine(t, t.TempDir())
	m := mutation("touch")
	m.ID = "caller-chosen"
	res, err := e.Exec(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, "caller-chosen", res.Mutation.ID)
}

func TestExec_UniqueViolation(t *testing.T) {
	ctx := context.Background()
	e := testEngine(t, t.TempDir())
	alice := addMember(t, e, "alice")

	m := mutation("addEmailAddress", "dup@x")
	m.Token = as(alice)

	_, err := e.Exec(ctx, m)
	require.NoError(t, err)

	_, err = e.Exec(ctx, m)
	require.Error(t, err)
	assert.True(t, IsMutationError(err))
	assert.True(t, IsUniqueViolation(err))
	assert.Contains(t, err.Error(), "violates unique constraint")
	assert.NotContains(t, err.Error(), "UNIQUE constraint failed", "driver text is redacted")
	assert.NotNil(t, errors.Unwrap(err), "driver error kept for logs")

	var me *MutationError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "addEmailAddress", me.Mutation.Name)

	assert.Equal(t, int64(2), walCount(t, e), "failed mutation is not logged")
	assert.Equal(t, 1, countRows(t, e, "email"))
}

func TestExec_ActionNames(t *testing.T) {
	ctx := context.Background()
	e := testEngine(t, t.TempDir())

	_, err := e.Exec(ctx, mutation("addMembers"))
	require.Error(t, err)
	assert.Equal(t, ErrCodeNoSuchAction, mutationCode(err))
	assert.Contains(t, err.Error(), "no such action addMembers")

	_, err = e.Exec(ctx, mutation("addMember; DROP TABLE member"))
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidAction, mutationCode(err))
	assert.Equal(t, "INVALID_ACTION: invalid action", err.Error())

	assert.Zero(t, walCount(t, e))
}

func TestExec_RejectsIncompleteMutation(t *testing.T) {
	ctx := context.Background()
	e := testEngine(t, t.TempDir())

	_, err := e.Exec(ctx, ir.Mutation{Version: testVersion})
	assert.Equal(t, ErrCodeInvalidMutation, mutationCode(err))

	_, err = e.Exec(ctx, ir.Mutation{Name: "touch"})
	assert.Equal(t, ErrCodeInvalidMutation, mutationCode(err))
	assert.Contains(t, err.Error(), "no version")
}

func TestExec_ActionErrorIsUserError(t *testing.T) {
	e := testEngine(t, t.TempDir())

	_, err := e.Exec(context.Background(), mutation("reject", "username is taken"))
	require.Error(t, err)
	assert.True(t, IsUserError(err))
	assert.Equal(t, "username is taken", err.Error())
	assert.Zero(t, walCount(t, e))
}

func TestExec_NoopIsLogged(t *testing.T) {
	e := testEngine(t, t.TempDir())

	res, err := e.Exec(context.Background(), mutation("touch"))
	require.NoError(t, err)
	assert.NotNil(t, res.Rows)
	assert.Empty(t, res.Rows)
	assert.Equal(t, int64(1), walCount(t, e))
}

func TestExec_SQLWithCTE(t *testing.T) {
	e := testEngine(t, t.TempDir())
	alice := addMember(t, e, "alice")
	bob := addMember(t, e, "bob")

	_, err := e.Exec(context.Background(), mutation("addFriend", alice, bob))
	require.NoError(t, err)
	assert.JSONEq(t, `{"me":{"friends":[{"username":"bob"}]}}`,
		query(t, e, `me { friends { username } }`, as(alice)))
}

func TestExec_ConcurrentMutations(t *testing.T) {
	ctx := context.Background()
	e := testEngine(t, t.TempDir())

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Exec(ctx, mutation("addMember", "member-"+string(rune('a'+i))))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int64(20), walCount(t, e))
	pos, err := e.Store().Position(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(20), pos.LastID)
}

// holdingWAL blocks the first Put until release is closed.
type holdingWAL struct {
	wal.WAL
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (w *holdingWAL) Put(ctx context.Context, value any) (int64, error) {
	w.once.Do(func() {
		close(w.entered)
		<-w.release
	})
	return w.WAL.Put(ctx, value)
}

func TestExec_CommitOrderMatchesWALOrder(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st, err := store.Open(dialect.SQLite{}, filepath.Join(dir, "projection.db"))
	require.NoError(t, err)
	inner, err := wal.OpenSQLite(filepath.Join(dir, "wal.db"))
	require.NoError(t, err)
	log := &holdingWAL{WAL: inner, entered: make(chan struct{}), release: make(chan struct{})}

	e, err := New(testutil.MemberSchema(t), st, log,
		WithVersion(testVersion),
		WithIDs(testutil.NewSequentialIDs("m")),
		WithActions(testActions()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	_, err = e.Start(ctx)
	require.NoError(t, err)

	done := make(chan error, 2)
	go func() {
		_, err := e.Exec(ctx, mutation("addMember", "alice"))
		done <- err
	}()
	<-log.entered

	go func() {
		_, err := e.Exec(ctx, mutation("addEmailFor", "alice", "alice@one"))
		done <- err
	}()

	// The dependent mutation must not commit while the first is unlogged.
	assert.Never(t, func() bool {
		var n int
		err := st.DB().QueryRow("SELECT count(*) FROM email").Scan(&n)
		return err == nil && n > 0
	}, 200*time.Millisecond, 10*time.Millisecond)

	close(log.release)
	require.NoError(t, <-done)
	require.NoError(t, <-done)

	var names []string
	for entry, err := range e.WAL().Stream(ctx, 0) {
		require.NoError(t, err)
		m, err := ir.DecodeMutation(entry.Value)
		require.NoError(t, err)
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"addMember", "addEmailFor"}, names)
	assert.Equal(t, 1, countRows(t, e, "email"))
}

func TestTransform_UpgradesAndLogsOriginal(t *testing.T) {
	ctx := context.Background()
	var steps []string
	e := testEngine(t, t.TempDir(), WithVersion(3), WithTransform(func(m ir.Mutation) (ir.Mutation, error) {
		steps = append(steps, m.String())
		if m.Name == "addUser" {
			m.Name = "addMember"
		}
		m.Version++
		return m, nil
	}))

	_, err := e.Exec(ctx, ir.Mutation{Name: "addUser", Args: []any{"alice"}, Version: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"addUser@v1", "addMember@v2"}, steps)
	assert.JSONEq(t, `{"members":[{"username":"alice"}]}`, query(t, e, `members { username }`, nil))

	for entry, err := range e.WAL().Stream(ctx, 0) {
		require.NoError(t, err)
		logged, err := ir.DecodeMutation(entry.Value)
		require.NoError(t, err)
		assert.Equal(t, "addUser", logged.Name)
		assert.Equal(t, 1, logged.Version)
	}
}

func TestTransform_NotConfigured(t *testing.T) {
	e := testEngine(t, t.TempDir())

	_, err := e.Exec(context.Background(), ir.Mutation{Name: "touch", Version: 1})
	require.Error(t, err)
	assert.Equal(t, ErrCodeTransform, mutationCode(err))
	assert.Contains(t, err.Error(), "no transform is configured")
}

func TestTransform_RevisitIsNonTermination(t *testing.T) {
	e := testEngine(t, t.TempDir(), WithTransform(func(m ir.Mutation) (ir.Mutation, error) {
		return m, nil
	}))

	_, err := e.Exec(context.Background(), ir.Mutation{Name: "touch", Version: 1})
	require.Error(t, err)
	assert.True(t, IsNonTermination(err))
	assert.Contains(t, err.Error(), "revisited touch@v1")
	assert.Zero(t, walCount(t, e))
}

func TestTransform_StepBudget(t *testing.T) {
	e := testEngine(t, t.TempDir(), WithMaxTransformSteps(5), WithTransform(func(m ir.Mutation) (ir.Mutation, error) {
		m.Name += "x"
		return m, nil
	}))

	_, err := e.Exec(context.Background(), ir.Mutation{Name: "touch", Version: 1})
	require.Error(t, err)
	assert.True(t, IsNonTermination(err))
	assert.True(t, IsStepsExceededError(err))
}

func TestTransform_Error(t *testing.T) {
	e := testEngine(t, t.TempDir(), WithTransform(func(m ir.Mutation) (ir.Mutation, error) {
		return m, errors.New("cannot upgrade touch")
	}))

	_, err := e.Exec(context.Background(), ir.Mutation{Name: "touch", Version: 1})
	assert.Equal(t, ErrCodeTransform, mutationCode(err))
}

func TestQuery_CachesDocuments(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	e := testEngine(t, t.TempDir(), WithMetrics(m), WithQueryCacheSize(8))
	addMember(t, e, "alice")

	for i := 0; i < 3; i++ {
		_, err := e.Query(ctx, `members { username }`, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, e.docs.Len())

	_, err := e.Query(ctx, `members { username`, nil)
	require.Error(t, err)
	assert.True(t, aql.IsQueryError(err))

	assert.Equal(t, 3.0, promtest.ToFloat64(m.QueriesTotal.WithLabelValues(metrics.StatusOK)))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.QueriesTotal.WithLabelValues(metrics.StatusError)))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.MutationsTotal.WithLabelValues(metrics.StatusOK)))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.WALAppendsTotal))
}

func TestQuery_ConcurrentSameDocument(t *testing.T) {
	e := testEngine(t, t.TempDir())
	addMember(t, e, "alice")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			raw, err := e.Query(context.Background(), `members.pluck(username)`, nil)
			assert.NoError(t, err)
			assert.JSONEq(t, `{"members":["alice"]}`, string(raw))
		}()
	}
	wg.Wait()
}

func TestQuery_SessionAndArgs(t *testing.T) {
	e := testEngine(t, t.TempDir())
	alice := addMember(t, e, "alice")
	addMember(t, e, "bob")

	assert.JSONEq(t, `{"me":{"username":"alice"}}`, query(t, e, `me { username }`, as(alice)))
	assert.JSONEq(t, `{"me":null}`, query(t, e, `me { username }`, nil))
	assert.JSONEq(t, `{"member_by_name":{"username":"bob"}}`,
		query(t, e, `member_by_name($1) { username }`, nil, "bob"))
}

func TestQuery_UnknownFilterColumn(t *testing.T) {
	e := testEngine(t, t.TempDir())
	addMember(t, e, "alice")

	_, err := e.Query(context.Background(), `members.where(nosuch = 1) { username }`, nil)
	require.Error(t, err)

	var qe *aql.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, aql.ErrCodeUnknownProperty, qe.Code)
	assert.Equal(t, 1, qe.Line)
	assert.Equal(t, "members", qe.Property)
}

func TestQuery_ExecutionErrorKeepsCause(t *testing.T) {
	e := testEngine(t, t.TempDir())
	addMember(t, e, "alice")
	_, err := e.Store().DB().Exec(`DROP TABLE email`)
	require.NoError(t, err)

	_, err = e.Query(context.Background(), `members { email_addresses { addr } }`, nil)
	require.Error(t, err)

	var qe *aql.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, aql.ErrCodeExecution, qe.Code)
	assert.Equal(t, "compiled statement failed to run", qe.Message)
	assert.NotContains(t, qe.Message, "email")
	require.Error(t, errors.Unwrap(err))
	assert.Contains(t, errors.Unwrap(err).Error(), "email")
}

func TestCompile_ReturnsStatement(t *testing.T) {
	e := openEngine(t, t.TempDir())
	stmt, err := e.Compile(`members.count()`, nil)
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "count(*)")
	assert.NotNil(t, stmt.Params)

	raw, err := json.Marshal(stmt.Params)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))
}
