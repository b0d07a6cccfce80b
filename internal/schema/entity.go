package schema

import (
	"fmt"
	"strings"

	"github.com/roach88/arla/internal/ir"
	"github.com/roach88/arla/internal/trigger"
)

// RootEntity is the synthetic entity every query document is wrapped in.
const RootEntity = "root"

// CountSuffix names the pseudo-property a computed array property gains.
const CountSuffix = "_count"

// Entity is a declared schema type backed by a table.
type Entity struct {
	// Name is set by Registry.Define.
	Name string

	// Properties in declaration order. Names are unique.
	Properties []Property

	// Indexes in declaration order.
	Indexes []Index

	// Hooks run inside the mutation transaction.
	Hooks Hooks
}

// Property is a stored column or a computed edge.
type Property struct {
	Name string

	// Type is a storage type ("text", "uuid", "int", ...) for stored
	// properties, or the result type of an edge: a storage type for scalar
	// edges, an entity name for entity edges.
	Type string

	// Array marks an array-typed property. A stored array is persisted as a
	// document column.
	Array bool

	Nullable   bool
	Default    string // raw SQL expression
	Unique     bool
	PrimaryKey bool

	// Ref names the entity this stored property references. The column takes
	// the referenced primary key's type.
	Ref      string
	OnDelete string // default CASCADE
	OnUpdate string // default RESTRICT

	// Edge makes the property computed.
	Edge EdgeFunc

	// resolved by Registry.Resolve
	target *Entity
}

// Computed reports whether the property is an edge.
func (p *Property) Computed() bool {
	return p.Edge != nil
}

// Document reports whether a stored property holds JSON.
func (p *Property) Document() bool {
	if p.Computed() {
		return false
	}
	if p.Array {
		return true
	}
	t := strings.ToLower(p.Type)
	return t == "json" || t == "jsonb"
}

// Target is the entity an edge resolves to, or nil for scalar edges.
func (p *Property) Target() *Entity {
	return p.target
}

// Index is a unique or secondary index over stored columns.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
	Method  string
}

// Hooks are the lifecycle hooks of an entity. BeforeChange and AfterChange
// run for both inserts and updates.
type Hooks struct {
	BeforeChange trigger.Hook
	AfterChange  trigger.Hook
	BeforeInsert trigger.Hook
	AfterInsert  trigger.Hook
	BeforeUpdate trigger.Hook
	AfterUpdate  trigger.Hook
	BeforeDelete trigger.Hook
	AfterDelete  trigger.Hook
}

// Register installs the hooks on d for entity.
func (h Hooks) Register(d *trigger.Dispatcher, entity string) {
	type binding struct {
		hook  trigger.Hook
		phase trigger.Phase
		ops   []trigger.Op
	}
	for _, b := range []binding{
		{h.BeforeChange, trigger.Before, []trigger.Op{trigger.Insert, trigger.Update}},
		{h.AfterChange, trigger.After, []trigger.Op{trigger.Insert, trigger.Update}},
		{h.BeforeInsert, trigger.Before, []trigger.Op{trigger.Insert}},
		{h.AfterInsert, trigger.After, []trigger.Op{trigger.Insert}},
		{h.BeforeUpdate, trigger.Before, []trigger.Op{trigger.Update}},
		{h.AfterUpdate, trigger.After, []trigger.Op{trigger.Update}},
		{h.BeforeDelete, trigger.Before, []trigger.Op{trigger.Delete}},
		{h.AfterDelete, trigger.After, []trigger.Op{trigger.Delete}},
	} {
		if b.hook != nil {
			d.On(entity, b.phase, b.hook, b.ops...)
		}
	}
}

func (h Hooks) present() []string {
	var names []string
	for name, hook := range map[string]trigger.Hook{
		"beforeChange": h.BeforeChange, "afterChange": h.AfterChange,
		"beforeInsert": h.BeforeInsert, "afterInsert": h.AfterInsert,
		"beforeUpdate": h.BeforeUpdate, "afterUpdate": h.AfterUpdate,
		"beforeDelete": h.BeforeDelete, "afterDelete": h.AfterDelete,
	} {
		if hook != nil {
			names = append(names, name)
		}
	}
	return names
}

// Property returns the named property.
func (e *Entity) Property(name string) (*Property, bool) {
	for i := range e.Properties {
		if e.Properties[i].Name == name {
			return &e.Properties[i], true
		}
	}
	return nil, false
}

// CountOf resolves the "<edge>_count" pseudo-property to its edge.
func (e *Entity) CountOf(name string) (*Property, bool) {
	base, ok := strings.CutSuffix(name, CountSuffix)
	if !ok {
		return nil, false
	}
	p, ok := e.Property(base)
	if !ok || !p.Computed() || !p.Array {
		return nil, false
	}
	return p, true
}

// PrimaryKey returns the primary key property.
// Resolve guarantees exactly one exists for non-root entities.
func (e *Entity) PrimaryKey() *Property {
	for i := range e.Properties {
		if e.Properties[i].PrimaryKey {
			return &e.Properties[i]
		}
	}
	return nil
}

// Stored returns the stored properties in declaration order.
func (e *Entity) Stored() []*Property {
	var out []*Property
	for i := range e.Properties {
		if !e.Properties[i].Computed() {
			out = append(out, &e.Properties[i])
		}
	}
	return out
}

// IsRoot reports whether e is the root entity.
func (e *Entity) IsRoot() bool {
	return e.Name == RootEntity
}

func (e *Entity) validate() error {
	if !validName.MatchString(e.Name) {
		return fmt.Errorf("invalid entity name %q", e.Name)
	}
	seen := make(map[string]bool, len(e.Properties))
	pks := 0
	for _, p := range e.Properties {
		if !validName.MatchString(p.Name) {
			return fmt.Errorf("entity %s: invalid property name %q", e.Name, p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("entity %s: duplicate property %q", e.Name, p.Name)
		}
		seen[p.Name] = true
		if p.PrimaryKey {
			if p.Computed() {
				return fmt.Errorf("entity %s: computed property %q cannot be the primary key", e.Name, p.Name)
			}
			pks++
		}
		if p.Type == "" && p.Ref == "" {
			return fmt.Errorf("entity %s: property %q has no type", e.Name, p.Name)
		}
		if e.IsRoot() && !p.Computed() {
			return fmt.Errorf("entity %s: stored property %q not allowed on root", e.Name, p.Name)
		}
	}
	if pks > 1 {
		return fmt.Errorf("entity %s: %d primary keys declared", e.Name, pks)
	}
	for _, idx := range e.Indexes {
		if len(idx.Columns) == 0 {
			return fmt.Errorf("entity %s: index %q has no columns", e.Name, idx.Name)
		}
	}
	return nil
}

// EdgeFunc produces the base query of a computed property.
type EdgeFunc func(c *EdgeCall) (SQL, error)

// EdgeCall is the context handed to an EdgeFunc.
type EdgeCall struct {
	// This addresses the owning record's columns. Column references
	// become correlated references in the compiled query.
	This Row

	// Session is the opaque caller context.
	Session ir.Session

	// Args are the property's call arguments from the query document.
	Args []any
}

// Row addresses the columns of the record that owns an edge.
type Row struct {
	Entity string
	pk     string
}

// NewRow returns a Row for entity e.
func NewRow(e *Entity) Row {
	r := Row{Entity: e.Name}
	if pk := e.PrimaryKey(); pk != nil {
		r.pk = pk.Name
	}
	return r
}

// Col references a column of the owning record.
func (r Row) Col(name string) ColumnRef {
	return ColumnRef{Entity: r.Entity, Column: name}
}

// ID references the owning record's primary key.
func (r Row) ID() ColumnRef {
	return r.Col(r.pk)
}

// ColumnRef is an argument placeholder bound to a parent column.
type ColumnRef struct {
	Entity string
	Column string
}
