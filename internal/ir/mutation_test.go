package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutationRoundTripKeepsIntegers(t *testing.T) {
	m := Mutation{
		ID:      "m-1",
		Name:    "addEmailAddress",
		Args:    []any{"a@x.com", 9007199254740993},
		Version: 2,
		Token:   Session{"id": "alice"},
	}

	data, err := EncodeMutation(m)
	require.NoError(t, err)

	got, err := DecodeMutation(data)
	require.NoError(t, err)
	assert.Equal(t, "addEmailAddress", got.Name)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, json.Number("9007199254740993"), got.Args[1])
	assert.Equal(t, "alice", got.Token.Get("id"))
}

func TestEncodeMutationNilArgs(t *testing.T) {
	data, err := EncodeMutation(Mutation{Name: "noop", Version: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"noop","args":[],"version":1}`, string(data))
}

func TestMutationCloneIsDeep(t *testing.T) {
	m := Mutation{
		Name:  "x",
		Args:  []any{map[string]any{"k": "v"}},
		Token: Session{"nested": map[string]any{"id": "1"}},
	}
	c := m.Clone()
	c.Args[0].(map[string]any)["k"] = "changed"
	c.Token["nested"].(map[string]any)["id"] = "2"

	assert.Equal(t, "v", m.Args[0].(map[string]any)["k"])
	assert.Equal(t, "1", m.Token.Get("nested.id"))
}

func TestSessionGet(t *testing.T) {
	s := Session{"id": "u1", "org": map[string]any{"id": "o1"}}

	assert.Equal(t, "u1", s.Get("id"))
	assert.Equal(t, "o1", s.Get("org.id"))
	assert.Nil(t, s.Get("missing"))
	assert.Nil(t, s.Get("id.deeper"))

	var empty Session
	assert.Nil(t, empty.Get("id"))
}
