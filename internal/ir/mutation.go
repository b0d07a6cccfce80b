package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Mutation is a named, versioned request to change the projection.
//
// Lifecycle: created by a caller, validated and executed inside one
// transaction, then appended to the WAL verbatim. A version transform never
// edits a Mutation in place; it returns a new one (see Clone).
type Mutation struct {
	// ID uniquely identifies the mutation. Assigned by the engine when empty.
	ID string `json:"id,omitempty"`

	// Name selects the action function.
	Name string `json:"name"`

	// Args are the positional action arguments.
	Args []any `json:"args"`

	// Version is the schema version the caller built the mutation against.
	Version int `json:"version"`

	// Token is the session context of the caller.
	Token Session `json:"token,omitempty"`
}

// Clone returns a deep copy of the mutation.
// Args and Token are copied so the clone can be rewritten freely.
func (m Mutation) Clone() Mutation {
	out := m
	out.Args = cloneSlice(m.Args)
	out.Token = m.Token.Clone()
	return out
}

// String renders the mutation for log lines.
func (m Mutation) String() string {
	return fmt.Sprintf("%s@v%d", m.Name, m.Version)
}

// EncodeMutation serializes a mutation for the WAL.
// HTML escaping is disabled so stored values match what the caller sent.
func EncodeMutation(m Mutation) ([]byte, error) {
	if m.Args == nil {
		m.Args = []any{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("encode mutation %s: %w", m.Name, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// DecodeMutation parses a WAL value back into a Mutation.
// Numbers decode as json.Number to keep integer precision.
func DecodeMutation(data []byte) (Mutation, error) {
	var m Mutation
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return Mutation{}, fmt.Errorf("decode mutation: %w", err)
	}
	if m.Args == nil {
		m.Args = []any{}
	}
	return m, nil
}

// Session is the opaque caller context (the decoded token).
// The engine never interprets it; schema edges and actions do.
type Session map[string]any

// Get returns a top-level session value, or nil.
// A dotted key walks nested objects: "user.id".
func (s Session) Get(key string) any {
	var cur any = map[string]any(s)
	for _, part := range strings.Split(key, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			if sess, isSess := cur.(Session); isSess {
				obj = sess
			} else {
				return nil
			}
		}
		cur, ok = obj[part]
		if !ok {
			return nil
		}
	}
	return cur
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	if s == nil {
		return nil
	}
	out := make(Session, len(s))
	for k, v := range s {
		out[k] = cloneValue(v)
	}
	return out
}

// SortedKeys returns the session keys in deterministic order.
func (s Session) SortedKeys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func cloneSlice(in []any) []any {
	if in == nil {
		return nil
	}
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case []any:
		return cloneSlice(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = cloneValue(e)
		}
		return out
	case Session:
		return val.Clone()
	default:
		return v
	}
}
