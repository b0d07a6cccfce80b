package schema

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"sync"

	"github.com/roach88/arla/internal/ir"
)

// ErrFrozen is returned by Define once the registry has been frozen.
var ErrFrozen = errors.New("schema registry is frozen")

var validName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Registry holds entity definitions keyed by name.
//
// Definitions are registered during single-threaded initialization; reads
// after Freeze are safe from any goroutine.
type Registry struct {
	mu           sync.RWMutex
	entities     map[string]*Entity
	fingerprints map[string]string
	order        []string
	resolved     bool
	frozen       bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entities:     make(map[string]*Entity),
		fingerprints: make(map[string]string),
	}
}

// Define registers an entity. Registering the same name again with an
// identical definition is silently ignored; a different definition logs a
// warning and keeps the first one.
func (r *Registry) Define(name string, def Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("define %s: %w", name, ErrFrozen)
	}

	def.Name = name
	def.Properties = slices.Clone(def.Properties)
	def.Indexes = slices.Clone(def.Indexes)
	if err := def.validate(); err != nil {
		return err
	}

	fp, err := fingerprint(&def)
	if err != nil {
		return fmt.Errorf("define %s: %w", name, err)
	}
	if prev, ok := r.fingerprints[name]; ok {
		if prev != fp {
			slog.Warn("entity redefined with a different definition; keeping the first",
				"entity", name,
			)
		}
		return nil
	}

	r.entities[name] = &def
	r.fingerprints[name] = fp
	r.order = append(r.order, name)
	r.resolved = false
	return nil
}

// DefineJoin defines a join entity holding one reference per named entity
// and a unique index across them. Repeated entities get numbered columns:
// DefineJoin("friend", "member", "member") yields member_1_id, member_2_id.
func (r *Registry) DefineJoin(name string, entities ...string) error {
	if len(entities) < 2 {
		return fmt.Errorf("join %s needs at least two entities", name)
	}
	counts := make(map[string]int)
	for _, e := range entities {
		counts[e]++
	}
	seen := make(map[string]int)
	def := Entity{}
	var cols []string
	for _, e := range entities {
		col := e + "_id"
		if counts[e] > 1 {
			seen[e]++
			col = fmt.Sprintf("%s_%d_id", e, seen[e])
		}
		def.Properties = append(def.Properties, Property{Name: col, Ref: e})
		cols = append(cols, col)
	}
	def.Indexes = []Index{{Name: "unique_join", Columns: cols, Unique: true}}
	return r.Define(name, def)
}

// Entity returns the named entity.
func (r *Registry) Entity(name string) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[name]
	return e, ok
}

// Entities returns every entity in definition order.
func (r *Registry) Entities() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entity, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entities[name])
	}
	return out
}

// Freeze rejects further definitions.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether Freeze was called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Resolve binds forward references: refs must name a defined entity and
// edge result types resolve to an entity when they name one. Entities
// without a primary key gain a synthesized "id" uuid key.
func (r *Registry) Resolve() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved {
		return nil
	}
	for _, name := range r.order {
		e := r.entities[name]
		if !e.IsRoot() && e.PrimaryKey() == nil {
			if _, taken := e.Property("id"); taken {
				return fmt.Errorf("entity %s: property \"id\" is not a primary key and no other key is declared", name)
			}
			id := Property{Name: "id", Type: "uuid", PrimaryKey: true}
			e.Properties = append([]Property{id}, e.Properties...)
		}
	}
	for _, name := range r.order {
		e := r.entities[name]
		for i := range e.Properties {
			p := &e.Properties[i]
			if p.Ref != "" {
				target, ok := r.entities[p.Ref]
				if !ok {
					return fmt.Errorf("entity %s: property %s references unknown entity %q", name, p.Name, p.Ref)
				}
				if target.IsRoot() {
					return fmt.Errorf("entity %s: property %s cannot reference root", name, p.Name)
				}
				p.target = target
				continue
			}
			if p.Computed() {
				if target, ok := r.entities[p.Type]; ok {
					p.target = target
				}
			}
		}
		for _, idx := range e.Indexes {
			for _, col := range idx.Columns {
				p, ok := e.Property(col)
				if !ok || p.Computed() {
					return fmt.Errorf("entity %s: index %s references unknown column %q", name, idx.Name, col)
				}
			}
		}
	}
	r.resolved = true
	return nil
}

// fingerprint renders the comparable parts of a definition. Functions are
// compared by presence only.
func fingerprint(e *Entity) (string, error) {
	props := make([]any, 0, len(e.Properties))
	for _, p := range e.Properties {
		props = append(props, map[string]any{
			"name": p.Name, "type": p.Type, "array": p.Array,
			"nullable": p.Nullable, "default": p.Default, "unique": p.Unique,
			"pk": p.PrimaryKey, "ref": p.Ref, "on_delete": p.OnDelete,
			"on_update": p.OnUpdate, "edge": p.Computed(),
		})
	}
	indexes := make([]any, 0, len(e.Indexes))
	for _, idx := range e.Indexes {
		indexes = append(indexes, map[string]any{
			"name": idx.Name, "columns": idx.Columns, "unique": idx.Unique, "method": idx.Method,
		})
	}
	hooks := e.Hooks.present()
	slices.Sort(hooks)

	data, err := ir.MarshalCanonical(map[string]any{
		"properties": props,
		"indexes":    indexes,
		"hooks":      hooks,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}
