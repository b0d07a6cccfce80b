package dialect

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Postgres renders SQL for lib/pq.
//
// Tables are created empty and every column, the primary key included, is
// added by its own ALTER statement so a column introduced by one entity can
// be referenced by a foreign key that a later entity declares.
type Postgres struct{}

var _ Dialect = Postgres{}

// Postgres error codes treated as "structure already exists".
var pgAlreadyExists = map[pq.ErrorCode]bool{
	"42P07": true, // duplicate_table
	"42701": true, // duplicate_column
	"42710": true, // duplicate_object
	"42723": true, // duplicate_function
	"42P06": true, // duplicate_schema
}

func (Postgres) Name() string                  { return "postgres" }
func (Postgres) Driver() string                { return "postgres" }
func (Postgres) QuoteIdent(name string) string { return quoteIdent(name) }
func (Postgres) Placeholder(n int) string      { return fmt.Sprintf("$%d", n) }
func (Postgres) DocumentType() string          { return "jsonb" }
func (Postgres) UUIDDefault() string           { return "gen_random_uuid()" } // built in since Postgres 13
func (Postgres) SeparatePrimaryKey() bool      { return true }

func (Postgres) ColumnType(typ string) (string, error) {
	switch strings.ToLower(typ) {
	case "text", "string":
		return "text", nil
	case "uuid":
		return "uuid", nil
	case "int", "integer":
		return "integer", nil
	case "bigint":
		return "bigint", nil
	case "smallint":
		return "smallint", nil
	case "serial":
		return "serial", nil
	case "float", "double", "real":
		return "double precision", nil
	case "numeric", "decimal":
		return "numeric", nil
	case "bool", "boolean":
		return "boolean", nil
	case "timestamp", "timestamptz":
		return "timestamptz", nil
	case "date":
		return "date", nil
	case "json", "jsonb":
		return "jsonb", nil
	case "bytea", "blob", "bytes":
		return "bytea", nil
	default:
		return "", fmt.Errorf("unsupported storage type %q", typ)
	}
}

func (Postgres) Preamble() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS arla_meta (
			key text PRIMARY KEY,
			value text NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS arla_changes (
			seq bigserial PRIMARY KEY,
			entity text NOT NULL,
			op text NOT NULL,
			old_row json,
			new_row json
		)`,
		`CREATE OR REPLACE FUNCTION arla_capture() RETURNS trigger AS $$
		BEGIN
			IF TG_OP = 'DELETE' THEN
				INSERT INTO arla_changes (entity, op, old_row) VALUES (TG_TABLE_NAME, 'delete', row_to_json(OLD));
				RETURN OLD;
			ELSIF TG_OP = 'UPDATE' THEN
				INSERT INTO arla_changes (entity, op, old_row, new_row) VALUES (TG_TABLE_NAME, 'update', row_to_json(OLD), row_to_json(NEW));
			ELSE
				INSERT INTO arla_changes (entity, op, new_row) VALUES (TG_TABLE_NAME, 'insert', row_to_json(NEW));
			END IF;
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql`,
	}
}

func (d Postgres) CreateTable(t Table) string {
	return fmt.Sprintf("CREATE TABLE %s ()", d.QuoteIdent(t.Name))
}

func (d Postgres) AddColumn(table string, c Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.QuoteIdent(table), columnDef(d, c))
}

// CaptureTriggers installs the shared arla_capture function on the table.
func (d Postgres) CaptureTriggers(t Table) []string {
	table := d.QuoteIdent(t.Name)
	return []string{
		fmt.Sprintf("DROP TRIGGER IF EXISTS arla_capture ON %s", table),
		fmt.Sprintf("CREATE TRIGGER arla_capture AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH ROW EXECUTE PROCEDURE arla_capture()", table),
	}
}

func (d Postgres) CreateIndex(table string, idx Index) string {
	kind := "INDEX"
	if idx.Unique {
		kind = "UNIQUE INDEX"
	}
	using := ""
	if idx.Method != "" {
		using = " USING " + idx.Method
	}
	return fmt.Sprintf("CREATE %s %s ON %s%s (%s)", kind, d.QuoteIdent(idx.Name), d.QuoteIdent(table), using, quoteAll(d, idx.Columns))
}

func (d Postgres) DropTable(name string) string {
	return "DROP TABLE IF EXISTS " + d.QuoteIdent(name) + " CASCADE"
}

func (Postgres) ArrayAgg(expr, order string) string {
	return fmt.Sprintf("coalesce(json_agg(%s ORDER BY %s), '[]'::json)", expr, order)
}

func (Postgres) Object(pairs []string) string {
	return "json_build_object(" + strings.Join(pairs, ", ") + ")"
}

// JSONValue is the identity: json values keep their type across subqueries.
func (Postgres) JSONValue(expr string) string {
	return expr
}

func (Postgres) IsUniqueViolation(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}

func (Postgres) IsAlreadyExists(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pgAlreadyExists[pe.Code]
	}
	return false
}
