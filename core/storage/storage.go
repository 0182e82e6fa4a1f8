// Package storage provides SQL gateways for entity definitions.
// It creates one table per definition and maps criteria onto SQL for the
// sqlite and postgres dialects.
package storage

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"github.com/artpar/entitycore/core/model"
	"github.com/artpar/entitycore/core/types"
)

// System columns present in every table.
const (
	colID        = "id"
	colCreatedAt = "created_at"
	colUpdatedAt = "updated_at"
)

// Dialect captures the SQL differences between the supported databases.
type Dialect struct {
	// Name is the config name of the dialect.
	Name string

	driver      string
	columnTypes map[types.Kind]string
	timeType    string
	like        string
	numbered    bool
	timesAsText bool
	noLimit     string

	// lockScope takes a transaction-scoped lock on one key. Empty when the
	// engine already serializes write transactions.
	lockScope string
}

// SQLite stores times as sortable UTC text and uses ? placeholders.
var SQLite = Dialect{
	Name:   "sqlite",
	driver: sqliteDriver,
	columnTypes: map[types.Kind]string{
		types.KindBoolean:    "INTEGER",
		types.KindInteger:    "INTEGER",
		types.KindPriority:   "INTEGER",
		types.KindDecimal:    "REAL",
		types.KindDate:       "TEXT",
		types.KindDateTime:   "TEXT",
		types.KindManyToMany: "TEXT",
	},
	timeType:    "TEXT",
	like:        "LIKE",
	timesAsText: true,
	noLimit:     "-1",
}

// Postgres uses native timestamps, numbered placeholders and ILIKE.
var Postgres = Dialect{
	Name:   "postgres",
	driver: "pgx",
	columnTypes: map[types.Kind]string{
		types.KindBoolean:    "BOOLEAN",
		types.KindInteger:    "BIGINT",
		types.KindPriority:   "BIGINT",
		types.KindDecimal:    "DOUBLE PRECISION",
		types.KindDate:       "DATE",
		types.KindDateTime:   "TIMESTAMPTZ",
		types.KindManyToMany: "TEXT",
	},
	timeType:  "TIMESTAMPTZ",
	like:      "ILIKE",
	numbered:  true,
	noLimit:   "ALL",
	lockScope: "SELECT pg_advisory_xact_lock(hashtext($1))",
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch name {
	case SQLite.Name, "sqlite3":
		return SQLite, nil
	case Postgres.Name, "postgresql", "pgx":
		return Postgres, nil
	}
	return Dialect{}, fmt.Errorf("unknown SQL dialect %q", name)
}

func (d Dialect) placeholder(n int) string {
	if d.numbered {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// columnType returns the SQL type of a column kind. Everything without a
// dedicated type is TEXT.
func (d Dialect) columnType(k types.Kind) string {
	if t, ok := d.columnTypes[k]; ok {
		return t
	}
	return "TEXT"
}

// quote quotes an identifier.
func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// BuildCreateTableSQL generates CREATE TABLE SQL for a definition.
func BuildCreateTableSQL(def *model.DataDefinition, d Dialect) string {
	columns := []string{
		quote(colID) + " TEXT PRIMARY KEY",
		quote(colCreatedAt) + " " + d.timeType + " NOT NULL",
		quote(colUpdatedAt) + " " + d.timeType + " NOT NULL",
	}
	var constraints []string

	for _, f := range def.Fields() {
		if !f.Persistent() {
			continue
		}
		columns = append(columns, buildColumnDef(f, d))
		if check := buildEnumCheck(f); check != "" {
			constraints = append(constraints, check)
		}
	}

	sql := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n  %s",
		quote(def.TableName()),
		strings.Join(columns, ",\n  "),
	)

	if len(constraints) > 0 {
		sql += ",\n  " + strings.Join(constraints, ",\n  ")
	}

	sql += "\n)"

	return sql
}

// buildColumnDef builds a column definition from a field. Requiredness is
// enforced by validation so cascades may still clear references.
func buildColumnDef(f *model.FieldDefinition, d Dialect) string {
	parts := []string{quote(f.Name()), d.columnType(f.Kind())}

	if v := formatDefault(f.Default()); v != "" && !f.Kind().IsRelation() {
		parts = append(parts, "DEFAULT "+v)
	}

	return strings.Join(parts, " ")
}

// buildEnumCheck restricts an enum column to its declared values.
func buildEnumCheck(f *model.FieldDefinition) string {
	enum, ok := f.Type().(*types.Enum)
	if !ok {
		return ""
	}
	options := enum.Values(language.Und)
	values := make([]string, len(options))
	for i, o := range options {
		values[i] = quoteLiteral(o.Value)
	}
	return fmt.Sprintf("CHECK(%s IN (%s))", quote(f.Name()), strings.Join(values, ", "))
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// formatDefault formats a default value for SQL.
func formatDefault(val any) string {
	switch v := val.(type) {
	case string:
		return quoteLiteral(v)
	case int, int32, int64:
		return fmt.Sprintf("%d", v)
	case float32, float64:
		return fmt.Sprintf("%v", v)
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	default:
		return ""
	}
}

// BuildIndexSQL generates CREATE INDEX statements: a unique index per
// unique field and a lookup index per belongs_to column.
func BuildIndexSQL(def *model.DataDefinition) []string {
	var indexes []string
	table := def.TableName()

	for _, f := range def.Fields() {
		if !f.Persistent() {
			continue
		}
		switch {
		case f.Unique():
			indexes = append(indexes, fmt.Sprintf(
				"CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s(%s)",
				quote("uq_"+table+"_"+f.Name()), quote(table), quote(f.Name()),
			))
		case f.Kind() == types.KindBelongsTo:
			indexes = append(indexes, fmt.Sprintf(
				"CREATE INDEX IF NOT EXISTS %s ON %s(%s)",
				quote("idx_"+table+"_"+f.Name()), quote(table), quote(f.Name()),
			))
		}
	}

	return indexes
}

// BuildAddColumnSQL adds a column created after the table.
func BuildAddColumnSQL(def *model.DataDefinition, f *model.FieldDefinition, d Dialect) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quote(def.TableName()), buildColumnDef(f, d))
}
