package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemberSchemaResolves(t *testing.T) {
	reg := MemberSchema(t)

	member, ok := reg.Entity("member")
	require.True(t, ok)
	require.NotNil(t, member.PrimaryKey())
	assert.Equal(t, "id", member.PrimaryKey().Name)

	emails, ok := member.Property("email_addresses")
	require.True(t, ok)
	require.NotNil(t, emails.Target())
	assert.Equal(t, "email", emails.Target().Name)

	root, ok := reg.Entity("root")
	require.True(t, ok)
	nums, _ := root.Property("numbers")
	assert.Nil(t, nums.Target(), "numbers is a scalar edge")

	_, ok = reg.Entity("friend")
	assert.True(t, ok)
}
