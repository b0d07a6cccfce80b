package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/arla/internal/dialect"
)

// Statement priorities. Lower runs first.
const (
	PriorityInternal    = 0
	PriorityCreateTable = 1
	PriorityTriggers    = 2
	PriorityPrimaryKey  = 3
	PriorityColumns     = 4
	PriorityIndexes     = 5
)

// Statement is one structural DDL statement.
type Statement struct {
	Priority int
	Entity   string // empty for internal statements
	SQL      string
}

// CompileDDL resolves the registry and returns the structural statements for
// every entity, ordered by priority and then by definition order.
func (r *Registry) CompileDDL(d dialect.Dialect) ([]Statement, error) {
	if err := r.Resolve(); err != nil {
		return nil, err
	}

	var stmts []Statement
	for _, sql := range d.Preamble() {
		stmts = append(stmts, Statement{Priority: PriorityInternal, SQL: sql})
	}

	for _, e := range r.Entities() {
		if e.IsRoot() {
			continue
		}
		table, err := e.Table(d)
		if err != nil {
			return nil, err
		}
		add := func(priority int, sql string) {
			stmts = append(stmts, Statement{Priority: priority, Entity: e.Name, SQL: sql})
		}

		add(PriorityCreateTable, d.CreateTable(table))
		for _, sql := range d.CaptureTriggers(table) {
			add(PriorityTriggers, sql)
		}
		for _, col := range table.Columns {
			if col.PrimaryKey {
				if d.SeparatePrimaryKey() {
					add(PriorityPrimaryKey, d.AddColumn(e.Name, col))
				}
				continue
			}
			add(PriorityColumns, d.AddColumn(e.Name, col))
		}
		for _, p := range e.Stored() {
			if p.Unique && !p.PrimaryKey {
				add(PriorityIndexes, d.CreateIndex(e.Name, dialect.Index{
					Name:    fmt.Sprintf("%s_%s_key", e.Name, p.Name),
					Columns: []string{p.Name},
					Unique:  true,
				}))
			}
		}
		for _, idx := range e.Indexes {
			add(PriorityIndexes, d.CreateIndex(e.Name, dialect.Index{
				Name:    fmt.Sprintf("%s_%s_idx", e.Name, idx.Name),
				Columns: idx.Columns,
				Unique:  idx.Unique,
				Method:  idx.Method,
			}))
		}
	}

	sort.SliceStable(stmts, func(i, j int) bool {
		return stmts[i].Priority < stmts[j].Priority
	})
	return stmts, nil
}

// DropStatements returns statements removing every entity table, in reverse
// definition order so referencing tables go first.
func (r *Registry) DropStatements(d dialect.Dialect) []string {
	entities := r.Entities()
	var out []string
	for i := len(entities) - 1; i >= 0; i-- {
		if entities[i].IsRoot() {
			continue
		}
		out = append(out, d.DropTable(entities[i].Name))
	}
	return out
}

// Table renders the entity's stored properties as dialect columns.
func (e *Entity) Table(d dialect.Dialect) (dialect.Table, error) {
	t := dialect.Table{Name: e.Name}
	for _, p := range e.Stored() {
		col, err := p.column(d)
		if err != nil {
			return dialect.Table{}, fmt.Errorf("entity %s: %w", e.Name, err)
		}
		t.Columns = append(t.Columns, col)
	}
	return t, nil
}

// column applies the storage defaults: booleans default to false, documents
// to an empty object or array, uuid keys to a generated identifier.
func (p *Property) column(d dialect.Dialect) (dialect.Column, error) {
	col := dialect.Column{
		Name:       p.Name,
		NotNull:    !p.Nullable,
		Default:    p.Default,
		PrimaryKey: p.PrimaryKey,
		Document:   p.Document(),
	}

	typ := p.Type
	if p.Ref != "" {
		if p.target == nil {
			return col, fmt.Errorf("property %s: unresolved reference %q", p.Name, p.Ref)
		}
		pk := p.target.PrimaryKey()
		typ = pk.Type
		col.Ref = &dialect.ForeignKey{
			Table:    p.target.Name,
			Column:   pk.Name,
			OnDelete: orDefault(p.OnDelete, "CASCADE"),
			OnUpdate: orDefault(p.OnUpdate, "RESTRICT"),
		}
	}

	switch {
	case col.Document:
		col.Type = d.DocumentType()
		if col.Default == "" {
			if p.Array {
				col.Default = "'[]'"
			} else {
				col.Default = "'{}'"
			}
		}
	default:
		rendered, err := d.ColumnType(typ)
		if err != nil {
			return col, fmt.Errorf("property %s: %w", p.Name, err)
		}
		col.Type = rendered
	}

	lower := strings.ToLower(typ)
	if col.Default == "" && (lower == "bool" || lower == "boolean") && !p.Nullable {
		col.Default = "false"
	}
	if col.Default == "" && p.PrimaryKey && lower == "uuid" {
		col.Default = d.UUIDDefault()
	}
	return col, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
