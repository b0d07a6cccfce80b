package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/arla/internal/trigger"
)

func emailsOf(c *EdgeCall) (SQL, error) {
	return ParameterizedSQL{Text: "SELECT * FROM email WHERE member_id = $1", Args: []any{c.This.ID()}}, nil
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.Define("member", Entity{
		Properties: []Property{
			{Name: "username", Type: "text", Unique: true},
			{Name: "is_su", Type: "boolean"},
			{Name: "email_addresses", Type: "email", Array: true, Edge: emailsOf},
		},
	}))
	require.NoError(t, r.Define("email", Entity{
		Properties: []Property{
			{Name: "member_id", Ref: "member"},
			{Name: "addr", Type: "text", Unique: true},
		},
	}))
	require.NoError(t, r.DefineJoin("friend", "member", "member"))
	return r
}

func TestDefineAndResolve(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Resolve())

	member, ok := r.Entity("member")
	require.True(t, ok)
	pk := member.PrimaryKey()
	require.NotNil(t, pk)
	assert.Equal(t, "id", pk.Name, "implicit primary key synthesized")
	assert.Equal(t, "uuid", pk.Type)

	edge, ok := member.Property("email_addresses")
	require.True(t, ok)
	assert.True(t, edge.Computed())
	require.NotNil(t, edge.Target())
	assert.Equal(t, "email", edge.Target().Name)

	names := []string{}
	for _, e := range r.Entities() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"member", "email", "friend"}, names)
}

func TestRedefinitionIsTolerated(t *testing.T) {
	r := NewRegistry()
	def := Entity{Properties: []Property{{Name: "username", Type: "text"}}}
	require.NoError(t, r.Define("member", def))
	require.NoError(t, r.Define("member", def))

	changed := Entity{Properties: []Property{{Name: "nickname", Type: "text"}}}
	require.NoError(t, r.Define("member", changed), "different redefinition only warns")

	member, _ := r.Entity("member")
	_, ok := member.Property("username")
	assert.True(t, ok, "first definition wins")
	assert.Len(t, r.Entities(), 1)
}

func TestFreezeRejectsDefine(t *testing.T) {
	r := NewRegistry()
	r.Freeze()
	err := r.Define("member", Entity{Properties: []Property{{Name: "username", Type: "text"}}})
	require.ErrorIs(t, err, ErrFrozen)
	assert.True(t, r.Frozen())
}

func TestDefineValidation(t *testing.T) {
	tests := []struct {
		name   string
		entity string
		def    Entity
		want   string
	}{
		{"bad entity name", "bad-name", Entity{}, "invalid entity name"},
		{"duplicate property", "x", Entity{Properties: []Property{
			{Name: "a", Type: "text"}, {Name: "a", Type: "int"},
		}}, "duplicate property"},
		{"missing type", "x", Entity{Properties: []Property{{Name: "a"}}}, "has no type"},
		{"two keys", "x", Entity{Properties: []Property{
			{Name: "a", Type: "text", PrimaryKey: true}, {Name: "b", Type: "text", PrimaryKey: true},
		}}, "2 primary keys"},
		{"stored on root", RootEntity, Entity{Properties: []Property{{Name: "a", Type: "text"}}}, "not allowed on root"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry().Define(tt.entity, tt.def)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestResolveUnknownRef(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Define("email", Entity{Properties: []Property{{Name: "member_id", Ref: "member"}}}))
	err := r.Resolve()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown entity "member"`)
}

func TestResolveForwardReference(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Define("email", Entity{Properties: []Property{{Name: "member_id", Ref: "member"}}}))
	require.NoError(t, r.Define("member", Entity{Properties: []Property{{Name: "username", Type: "text"}}}))
	require.NoError(t, r.Resolve())
}

func TestDefineJoin(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Resolve())

	friend, ok := r.Entity("friend")
	require.True(t, ok)
	_, ok = friend.Property("member_1_id")
	assert.True(t, ok)
	_, ok = friend.Property("member_2_id")
	assert.True(t, ok)
	require.Len(t, friend.Indexes, 1)
	assert.True(t, friend.Indexes[0].Unique)
	assert.Equal(t, []string{"member_1_id", "member_2_id"}, friend.Indexes[0].Columns)

	assert.Error(t, r.DefineJoin("solo", "member"))
}

func TestCountOf(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Resolve())
	member, _ := r.Entity("member")

	p, ok := member.CountOf("email_addresses_count")
	require.True(t, ok)
	assert.Equal(t, "email_addresses", p.Name)

	_, ok = member.CountOf("username_count")
	assert.False(t, ok, "stored properties have no count")
	_, ok = member.CountOf("username")
	assert.False(t, ok)
}

func TestHooksRegister(t *testing.T) {
	d := trigger.NewDispatcher()
	noop := func(ctx context.Context, rec trigger.Record, ev *trigger.Event) error { return nil }
	Hooks{BeforeChange: noop, AfterDelete: noop}.Register(d, "member")

	assert.Equal(t, 1, d.Count("member", "before-insert"))
	assert.Equal(t, 1, d.Count("member", "before-update"))
	assert.Equal(t, 0, d.Count("member", "before-delete"))
	assert.Equal(t, 1, d.Count("member", "after-delete"))
}
