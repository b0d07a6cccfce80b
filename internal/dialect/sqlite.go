package dialect

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// SQLite renders SQL for mattn/go-sqlite3.
//
// SQLite cannot add a primary key or a unique column with ALTER TABLE, so
// CREATE TABLE carries every column and the add-column statements that
// follow fail with "duplicate column name" on a fresh table. Those failures
// classify as already-exists, which keeps DDL application idempotent.
type SQLite struct{}

var _ Dialect = SQLite{}

func (SQLite) Name() string                  { return "sqlite" }
func (SQLite) Driver() string                { return "sqlite3" }
func (SQLite) QuoteIdent(name string) string { return quoteIdent(name) }
func (SQLite) Placeholder(n int) string      { return fmt.Sprintf("?%d", n) }
func (SQLite) DocumentType() string          { return "TEXT" }
func (SQLite) SeparatePrimaryKey() bool      { return false }

// UUIDDefault generates an RFC 4122 version 4 identifier in SQL.
func (SQLite) UUIDDefault() string {
	return "(lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-4' || " +
		"substr(hex(randomblob(2)), 2) || '-' || substr('89ab', 1 + (abs(random()) % 4), 1) || " +
		"substr(hex(randomblob(2)), 2) || '-' || hex(randomblob(6))))"
}

func (SQLite) ColumnType(typ string) (string, error) {
	switch strings.ToLower(typ) {
	case "text", "string", "uuid", "timestamp", "timestamptz", "date":
		return "TEXT", nil
	case "int", "integer", "bigint", "smallint", "serial":
		return "INTEGER", nil
	case "float", "real", "double", "numeric", "decimal":
		return "REAL", nil
	case "bool", "boolean":
		return "BOOLEAN", nil
	case "json", "jsonb":
		return "TEXT", nil
	case "bytea", "blob", "bytes":
		return "BLOB", nil
	default:
		return "", fmt.Errorf("unsupported storage type %q", typ)
	}
}

func (SQLite) Preamble() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS arla_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS arla_changes (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			entity TEXT NOT NULL,
			op TEXT NOT NULL,
			old_row TEXT,
			new_row TEXT
		)`,
	}
}

func (d SQLite) CreateTable(t Table) string {
	defs := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		defs[i] = columnDef(d, c)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", d.QuoteIdent(t.Name), strings.Join(defs, ", "))
}

func (d SQLite) AddColumn(table string, c Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.QuoteIdent(table), columnDef(d, c))
}

// CaptureTriggers records every row change into arla_changes as JSON
// images. Document columns are decoded with json() so hooks see structured
// values.
func (d SQLite) CaptureTriggers(t Table) []string {
	image := func(row string) string {
		pairs := make([]string, 0, len(t.Columns)*2)
		for _, c := range t.Columns {
			col := row + "." + d.QuoteIdent(c.Name)
			if c.Document {
				col = "json(" + col + ")"
			}
			pairs = append(pairs, quoteLiteral(c.Name), col)
		}
		return "json_object(" + strings.Join(pairs, ", ") + ")"
	}
	entity := quoteLiteral(t.Name)

	var stmts []string
	for _, op := range []string{"insert", "update", "delete"} {
		name := d.QuoteIdent("arla_" + t.Name + "_" + op)
		var cols, vals string
		switch op {
		case "insert":
			cols, vals = "entity, op, new_row", fmt.Sprintf("%s, 'insert', %s", entity, image("NEW"))
		case "update":
			cols, vals = "entity, op, old_row, new_row", fmt.Sprintf("%s, 'update', %s, %s", entity, image("OLD"), image("NEW"))
		case "delete":
			cols, vals = "entity, op, old_row", fmt.Sprintf("%s, 'delete', %s", entity, image("OLD"))
		}
		stmts = append(stmts,
			fmt.Sprintf("DROP TRIGGER IF EXISTS %s", name),
			fmt.Sprintf("CREATE TRIGGER %s AFTER %s ON %s FOR EACH ROW BEGIN INSERT INTO arla_changes (%s) VALUES (%s); END",
				name, strings.ToUpper(op), d.QuoteIdent(t.Name), cols, vals),
		)
	}
	return stmts
}

// CreateIndex ignores access methods; SQLite has only b-trees.
func (d SQLite) CreateIndex(table string, idx Index) string {
	kind := "INDEX"
	if idx.Unique {
		kind = "UNIQUE INDEX"
	}
	return fmt.Sprintf("CREATE %s %s ON %s (%s)", kind, d.QuoteIdent(idx.Name), d.QuoteIdent(table), quoteAll(d, idx.Columns))
}

func (d SQLite) DropTable(name string) string {
	return "DROP TABLE IF EXISTS " + d.QuoteIdent(name)
}

func (SQLite) ArrayAgg(expr, order string) string {
	return fmt.Sprintf("coalesce(json_group_array(%s ORDER BY %s), json_array())", expr, order)
}

func (SQLite) Object(pairs []string) string {
	return "json_object(" + strings.Join(pairs, ", ") + ")"
}

// JSONValue re-applies the JSON subtype, which SQLite drops when a value
// crosses a subquery boundary.
func (SQLite) JSONValue(expr string) string {
	return "json(" + expr + ")"
}

func (SQLite) IsUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func (SQLite) IsAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate column name")
}
