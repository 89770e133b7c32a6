package postgres

import (
	"context"
	"fmt"
	"github.com/lib/pq"
	"github.com/spf13/cast"
)

// Querier runs a single read-only statement. *Manager implements it.
type Querier interface {
	RunQuery(ctx context.Context, query string, args ...any) ([]Row, error)
}

// Column describes one column from information_schema.columns.
type Column struct {
	Table    string
	Name     string
	DataType string
	Nullable bool
	Default  *string
}

const columnsQuery = `
SELECT table_name, column_name, data_type, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = $1
ORDER BY table_name, ordinal_position`

const baseTablesQuery = `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE'
ORDER BY table_name`

// Columns lists the columns of every table in schema.
func Columns(ctx context.Context, q Querier, schema string) ([]Column, error) {
	rows, err := q.RunQuery(ctx, columnsQuery, schema)
	if err != nil {
		return nil, err
	}

	columns := make([]Column, 0, len(rows))
	for _, row := range rows {
		c := Column{
			Table:    cast.ToString(row["table_name"]),
			Name:     cast.ToString(row["column_name"]),
			DataType: cast.ToString(row["data_type"]),
			Nullable: cast.ToString(row["is_nullable"]) == "YES",
		}
		if def := row["column_default"]; def != nil {
			s := cast.ToString(def)
			c.Default = &s
		}
		columns = append(columns, c)
	}
	return columns, nil
}

// BaseTables lists the ordinary tables of schema, views excluded.
func BaseTables(ctx context.Context, q Querier, schema string) ([]string, error) {
	rows, err := q.RunQuery(ctx, baseTablesQuery, schema)
	if err != nil {
		return nil, err
	}

	tables := make([]string, 0, len(rows))
	for _, row := range rows {
		tables = append(tables, cast.ToString(row["table_name"]))
	}
	return tables, nil
}

// CountRows returns SELECT COUNT(*) for schema.table.
func CountRows(ctx context.Context, q Querier, schema, table string) (int64, error) {
	rows, err := q.RunQuery(ctx, "SELECT COUNT(*) AS row_count FROM "+QualifiedName(schema, table))
	if err != nil {
		return 0, err
	}
	if len(rows) != 1 {
		return 0, fmt.Errorf("count on %s returned %d rows", QualifiedName(schema, table), len(rows))
	}
	return cast.ToInt64E(rows[0]["row_count"])
}

// SampleRows returns at most limit rows of schema.table.
func SampleRows(ctx context.Context, q Querier, schema, table string, limit int) ([]Row, error) {
	return q.RunQuery(ctx, "SELECT * FROM "+QualifiedName(schema, table)+" LIMIT $1", limit)
}

// QualifiedName quotes schema and table as identifiers. Identifiers cannot be
// bound as parameters.
func QualifiedName(schema, table string) string {
	if schema == "" {
		return pq.QuoteIdentifier(table)
	}
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)
}
