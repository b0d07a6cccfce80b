package testutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/arla/internal/schema"
)

// MemberSchema defines the fixture schema used across package tests:
//
//	member  username (unique), is_su, email_addresses -> email[], friends -> member[]
//	email   member_id -> member, addr (unique)
//	friend  join of member and member
//	root    members, me (session.member_id), member_by_name($1), numbers
//
// The registry is resolved but not frozen, so tests may add entities.
func MemberSchema(t testing.TB) *schema.Registry {
	t.Helper()
	reg, err := NewMemberSchema()
	require.NoError(t, err)
	return reg
}

// NewMemberSchema builds the fixture schema without a testing.TB, for
// benchmarks and command-line demos.
func NewMemberSchema() (*schema.Registry, error) {
	reg := schema.NewRegistry()

	defs := []struct {
		name string
		def  schema.Entity
	}{
		{"member", schema.Entity{Properties: []schema.Property{
			{Name: "username", Type: "text", Unique: true},
			{Name: "is_su", Type: "boolean"},
			{Name: "email_addresses", Type: "email", Array: true, Edge: emailsOf},
			{Name: "friends", Type: "member", Array: true, Edge: friendsOf},
		}}},
		{"email", schema.Entity{Properties: []schema.Property{
			{Name: "member_id", Ref: "member"},
			{Name: "addr", Type: "text", Unique: true},
		}}},
		{schema.RootEntity, schema.Entity{Properties: []schema.Property{
			{Name: "members", Type: "member", Array: true, Edge: allMembers},
			{Name: "me", Type: "member", Edge: currentMember},
			{Name: "member_by_name", Type: "member", Edge: memberByName},
			{Name: "numbers", Type: "int", Array: true, Edge: numbers},
		}}},
	}
	for _, d := range defs {
		if err := reg.Define(d.name, d.def); err != nil {
			return nil, err
		}
	}
	if err := reg.DefineJoin("friend", "member", "member"); err != nil {
		return nil, err
	}
	if err := reg.Resolve(); err != nil {
		return nil, err
	}
	return reg, nil
}

var errMemberByNameArgs = errors.New("member_by_name takes a username")

func emailsOf(c *schema.EdgeCall) (schema.SQL, error) {
	return schema.ParameterizedSQL{
		Text: `SELECT * FROM email WHERE member_id = $1 ORDER BY addr`,
		Args: []any{c.This.ID()},
	}, nil
}

func friendsOf(c *schema.EdgeCall) (schema.SQL, error) {
	return schema.ParameterizedSQL{
		Text: `SELECT m.* FROM friend f JOIN member m ON m.id = f.member_2_id WHERE f.member_1_id = $1 ORDER BY m.username`,
		Args: []any{c.This.ID()},
	}, nil
}

func allMembers(*schema.EdgeCall) (schema.SQL, error) {
	return schema.RawSQL(`SELECT * FROM member ORDER BY username`), nil
}

func currentMember(c *schema.EdgeCall) (schema.SQL, error) {
	return schema.ParameterizedSQL{
		Text: `SELECT * FROM member WHERE id = $1`,
		Args: []any{c.Session.Get("member_id")},
	}, nil
}

func memberByName(c *schema.EdgeCall) (schema.SQL, error) {
	if len(c.Args) != 1 {
		return nil, errMemberByNameArgs
	}
	return schema.ParameterizedSQL{
		Text: `SELECT * FROM member WHERE username = $1`,
		Args: c.Args,
	}, nil
}

func numbers(*schema.EdgeCall) (schema.SQL, error) {
	return schema.RawSQL(`VALUES (10), (5), (11)`), nil
}
