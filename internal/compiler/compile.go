package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/arla/internal/engine"
	"github.com/roach88/arla/internal/schema"
)

// Schema is a compiled set of declarations.
type Schema struct {
	// Version is the declared schema version, 1 when absent.
	Version int

	// Registry holds the declared entities, resolved but not frozen, so
	// Go code may still add entities before handing it to the engine.
	Registry *schema.Registry

	Actions map[string]engine.Action
}

// EngineOptions returns the engine options the declarations imply.
func (s *Schema) EngineOptions() []engine.Option {
	return []engine.Option{
		engine.WithVersion(s.Version),
		engine.WithActions(s.Actions),
	}
}

// Compile turns a CUE value into a Schema. The value's top level holds:
//
//	version: 2
//	entity: member: {
//		properties: {
//			username: {type: "text", unique: true}
//			emails: {type: "email", array: true, query: "SELECT * FROM email WHERE member_id = $1", args: ["this"]}
//		}
//		indexes: [{name: "by_name", columns: ["username"]}]
//	}
//	join: friend: ["member", "member"]
//	action: addMember: {query: "INSERT INTO member (username) VALUES ($1)", args: ["arg.0"]}
//
// Properties with a query are edges; the rest are stored columns.
func Compile(v cue.Value) (*Schema, error) {
	if err := v.Validate(); err != nil {
		return nil, formatCUEError("cue", err)
	}

	s := &Schema{
		Version:  1,
		Registry: schema.NewRegistry(),
		Actions:  make(map[string]engine.Action),
	}

	if vv := v.LookupPath(cue.ParsePath("version")); vv.Exists() {
		n, err := vv.Int64()
		if err != nil {
			return nil, formatCUEError("version", err)
		}
		if n < 1 {
			return nil, compileError("version", vv.Pos(), "version must be at least 1")
		}
		s.Version = int(n)
	}

	var edges []declaredEdge
	err := eachField(v, "entity", func(name string, ev cue.Value) error {
		def, declared, err := compileEntity(name, ev)
		if err != nil {
			return err
		}
		edges = append(edges, declared...)
		if err := s.Registry.Define(name, def); err != nil {
			return compileError("entity."+name, ev.Pos(), "%v", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = eachField(v, "join", func(name string, jv cue.Value) error {
		field := "join." + name
		entities, err := stringList(field, jv)
		if err != nil {
			return err
		}
		if err := s.Registry.DefineJoin(name, entities...); err != nil {
			return compileError(field, jv.Pos(), "%v", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.Registry.Resolve(); err != nil {
		return nil, compileError("entity", v.Pos(), "%v", err)
	}
	if err := checkEdges(s.Registry, edges); err != nil {
		return nil, err
	}

	err = eachField(v, "action", func(name string, av cue.Value) error {
		field := "action." + name
		if !actionName(name) {
			return compileError(field, av.Pos(), "action names may only use letters, digits and underscores")
		}
		stmt, ok, err := compileStatement(field, av)
		if err != nil {
			return err
		}
		if !ok {
			return compileError(field, av.Pos(), "action query is required")
		}
		for _, b := range stmt.args {
			if b.source == fromThis {
				return compileError(field+".args", av.Pos(), "%s is only available to edges", b)
			}
		}
		s.Actions[name] = stmt.action(name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// declaredEdge remembers where an edge was declared so its bindings can be
// checked once every entity is resolved.
type declaredEdge struct {
	entity string
	field  string
	at     cue.Value
	stmt   statement
}

func compileEntity(name string, v cue.Value) (schema.Entity, []declaredEdge, error) {
	prefix := "entity." + name
	var def schema.Entity
	var edges []declaredEdge

	err := eachField(v, "properties", func(prop string, pv cue.Value) error {
		field := prefix + ".properties." + prop
		p, stmt, isEdge, err := compileProperty(field, prop, pv)
		if err != nil {
			return err
		}
		if isEdge {
			p.Edge = stmt.edge(name + "." + prop)
			edges = append(edges, declaredEdge{entity: name, field: field, at: pv, stmt: stmt})
		}
		def.Properties = append(def.Properties, p)
		return nil
	})
	if err != nil {
		return def, nil, err
	}

	if iv := v.LookupPath(cue.ParsePath("indexes")); iv.Exists() {
		list, err := iv.List()
		if err != nil {
			return def, nil, formatCUEError(prefix+".indexes", err)
		}
		for i := 0; list.Next(); i++ {
			field := fmt.Sprintf("%s.indexes[%d]", prefix, i)
			idx, err := compileIndex(field, list.Value())
			if err != nil {
				return def, nil, err
			}
			def.Indexes = append(def.Indexes, idx)
		}
	}
	return def, edges, nil
}

func compileProperty(field, name string, v cue.Value) (schema.Property, statement, bool, error) {
	p := schema.Property{Name: name}
	var err error
	if p.Type, _, err = optString(field, v, "type"); err != nil {
		return p, statement{}, false, err
	}
	for path, dst := range map[string]*string{
		"default":   &p.Default,
		"ref":       &p.Ref,
		"on_delete": &p.OnDelete,
		"on_update": &p.OnUpdate,
	} {
		if *dst, _, err = optString(field, v, path); err != nil {
			return p, statement{}, false, err
		}
	}
	for path, dst := range map[string]*bool{
		"array":       &p.Array,
		"nullable":    &p.Nullable,
		"unique":      &p.Unique,
		"primary_key": &p.PrimaryKey,
	} {
		if *dst, err = optBool(field, v, path); err != nil {
			return p, statement{}, false, err
		}
	}

	stmt, isEdge, err := compileStatement(field, v)
	if err != nil {
		return p, statement{}, false, err
	}
	if p.Type == "" && p.Ref == "" {
		return p, statement{}, false, compileError(field+".type", v.Pos(), "type is required")
	}
	if isEdge && (p.Ref != "" || p.PrimaryKey || p.Unique || p.Default != "") {
		return p, statement{}, false, compileError(field, v.Pos(), "an edge cannot declare ref, primary_key, unique or default")
	}
	return p, stmt, isEdge, nil
}

// compileStatement reads query, with and args. ok is false when v declares
// no query.
func compileStatement(field string, v cue.Value) (statement, bool, error) {
	var stmt statement
	query, ok, err := optString(field, v, "query")
	if err != nil || !ok {
		return stmt, false, err
	}
	stmt.query = query
	if stmt.with, _, err = optString(field, v, "with"); err != nil {
		return stmt, false, err
	}

	if av := v.LookupPath(cue.ParsePath("args")); av.Exists() {
		list, err := av.List()
		if err != nil {
			return stmt, false, formatCUEError(field+".args", err)
		}
		for i := 0; list.Next(); i++ {
			b, err := parseBinding(fmt.Sprintf("%s.args[%d]", field, i), list.Value())
			if err != nil {
				return stmt, false, err
			}
			stmt.args = append(stmt.args, b)
		}
	}
	return stmt, true, nil
}

func compileIndex(field string, v cue.Value) (schema.Index, error) {
	var idx schema.Index
	var err error
	var ok bool
	if idx.Name, ok, err = optString(field, v, "name"); err != nil {
		return idx, err
	}
	if !ok {
		return idx, compileError(field+".name", v.Pos(), "index name is required")
	}
	if idx.Method, _, err = optString(field, v, "method"); err != nil {
		return idx, err
	}
	if idx.Unique, err = optBool(field, v, "unique"); err != nil {
		return idx, err
	}
	cols := v.LookupPath(cue.ParsePath("columns"))
	if !cols.Exists() {
		return idx, compileError(field+".columns", v.Pos(), "index columns are required")
	}
	if idx.Columns, err = stringList(field+".columns", cols); err != nil {
		return idx, err
	}
	if len(idx.Columns) == 0 {
		return idx, compileError(field+".columns", cols.Pos(), "index needs at least one column")
	}
	return idx, nil
}

// checkEdges verifies this-bindings against the resolved owning entity.
func checkEdges(reg *schema.Registry, edges []declaredEdge) error {
	for _, d := range edges {
		ent, _ := reg.Entity(d.entity)
		for _, b := range d.stmt.args {
			if b.source != fromThis {
				continue
			}
			if ent.IsRoot() {
				return compileError(d.field+".args", d.at.Pos(), "%s is not available on %s", b, schema.RootEntity)
			}
			if b.key == "" {
				continue
			}
			p, ok := ent.Property(b.key)
			if !ok || p.Computed() {
				return compileError(d.field+".args", d.at.Pos(), "%s: %s has no stored property %q", b, d.entity, b.key)
			}
		}
	}
	return nil
}
