// Package dialect isolates the SQL differences between the supported
// relational stores.
//
// The DDL compiler, query compiler and projection store speak to a Dialect
// instead of emitting engine-specific SQL directly. Two implementations
// exist: SQLite (mattn/go-sqlite3) and Postgres (lib/pq).
package dialect

import (
	"fmt"
	"strings"
)

// Dialect renders engine-specific SQL fragments and classifies driver errors.
type Dialect interface {
	// Name is the configuration name ("sqlite" or "postgres").
	Name() string

	// Driver is the database/sql driver name.
	Driver() string

	// QuoteIdent quotes a table, column or index name.
	QuoteIdent(name string) string

	// Placeholder renders the n-th (1-based) bound parameter.
	Placeholder(n int) string

	// ColumnType maps a schema storage type onto a column type.
	ColumnType(typ string) (string, error)

	// DocumentType is the column type for structured (JSON) values.
	DocumentType() string

	// UUIDDefault is the generated default for synthesized primary keys.
	UUIDDefault() string

	// SeparatePrimaryKey reports whether the primary key is added by its own
	// ALTER statement rather than inline in CREATE TABLE.
	SeparatePrimaryKey() bool

	// Preamble returns statements creating internal tables and functions.
	Preamble() []string

	// CreateTable renders the create-table statement.
	CreateTable(t Table) string

	// AddColumn renders an add-column statement.
	AddColumn(table string, c Column) string

	// CaptureTriggers renders the change-capture trigger statements.
	CaptureTriggers(t Table) []string

	// CreateIndex renders an index statement.
	CreateIndex(table string, idx Index) string

	// DropTable renders a drop statement that tolerates a missing table.
	DropTable(name string) string

	// ArrayAgg aggregates expr into a JSON array ordered by order.
	// Zero rows aggregate to an empty array, never NULL.
	ArrayAgg(expr, order string) string

	// Object builds a JSON object from alternating key/value expressions.
	Object(pairs []string) string

	// JSONValue marks a column holding JSON text so it nests as JSON rather
	// than as a string.
	JSONValue(expr string) string

	// IsUniqueViolation reports whether err is a unique-constraint failure.
	IsUniqueViolation(err error) bool

	// IsAlreadyExists reports whether err means the structure being created
	// already exists.
	IsAlreadyExists(err error) bool
}

// Table describes an entity table for DDL rendering.
type Table struct {
	Name    string
	Columns []Column
}

// PrimaryKey returns the primary key column, if any.
func (t Table) PrimaryKey() (Column, bool) {
	for _, c := range t.Columns {
		if c.PrimaryKey {
			return c, true
		}
	}
	return Column{}, false
}

// Column describes one stored column.
type Column struct {
	Name       string
	Type       string // rendered column type
	NotNull    bool
	Default    string // raw SQL expression, empty for none
	PrimaryKey bool
	Document   bool // holds JSON text
	Ref        *ForeignKey
}

// ForeignKey describes a reference to another entity's primary key.
type ForeignKey struct {
	Table    string
	Column   string
	OnDelete string
	OnUpdate string
}

// Index describes a unique or secondary index.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
	Method  string
}

// Lookup returns the dialect registered under name.
func Lookup(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "", "sqlite", "sqlite3":
		return SQLite{}, nil
	case "postgres", "postgresql", "pg":
		return Postgres{}, nil
	default:
		return nil, fmt.Errorf("unknown dialect %q", name)
	}
}

// quoteIdent doubles embedded quotes; both dialects share ANSI quoting.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteAll(d Dialect, names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = d.QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

// columnDef renders "name type [constraints]".
func columnDef(d Dialect, c Column) string {
	var b strings.Builder
	b.WriteString(d.QuoteIdent(c.Name))
	b.WriteString(" ")
	b.WriteString(c.Type)
	if c.PrimaryKey {
		b.WriteString(" PRIMARY KEY")
	} else if c.NotNull {
		b.WriteString(" NOT NULL")
	}
	if c.Default != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(c.Default)
	}
	if c.Ref != nil {
		fmt.Fprintf(&b, " REFERENCES %s (%s)", d.QuoteIdent(c.Ref.Table), d.QuoteIdent(c.Ref.Column))
		if c.Ref.OnDelete != "" {
			b.WriteString(" ON DELETE ")
			b.WriteString(c.Ref.OnDelete)
		}
		if c.Ref.OnUpdate != "" {
			b.WriteString(" ON UPDATE ")
			b.WriteString(c.Ref.OnUpdate)
		}
	}
	return b.String()
}

// quoteLiteral renders a SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
