package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func init() {
	// modernc registers as "sqlite", which sqlx does not know the bind
	// style of.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// columnInfo is one column as reported by the catalog.
type columnInfo struct {
	Name string
	Type string
	PK   bool
}

// dialect isolates the catalog queries and type names of one engine.
type dialect interface {
	name() string
	driver() string
	columnType(kind Kind) string
	kindOf(sqlType string) Kind
	tables(ctx context.Context, db *sqlx.DB) ([]string, error)
	columns(ctx context.Context, db *sqlx.DB, table string) ([]columnInfo, error)
	indices(ctx context.Context, db *sqlx.DB, table string) ([][]string, error)
}

func dialectFor(name string) (dialect, error) {
	switch name {
	case BackendSQLite:
		return sqliteDialect{}, nil
	case BackendPostgres:
		return postgresDialect{}, nil
	}
	return nil, fmt.Errorf("%w: sql dialect %q", ErrUnknownBackend, name)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ----- sqlite -----

type sqliteDialect struct{}

func (sqliteDialect) name() string   { return BackendSQLite }
func (sqliteDialect) driver() string { return "sqlite" }

func (sqliteDialect) columnType(kind Kind) string {
	switch kind {
	case KindInt:
		return "INTEGER DEFAULT 0"
	case KindText:
		return "TEXT DEFAULT ''"
	}
	return "BLOB"
}

func (sqliteDialect) kindOf(sqlType string) Kind {
	switch strings.ToUpper(sqlType) {
	case "INTEGER", "INT", "BIGINT":
		return KindInt
	case "TEXT":
		return KindText
	}
	return KindOpaque
}

func (sqliteDialect) tables(ctx context.Context, db *sqlx.DB) ([]string, error) {
	var names []string
	err := db.SelectContext(ctx, &names,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	return names, err
}

func (sqliteDialect) columns(ctx context.Context, db *sqlx.DB, table string) ([]columnInfo, error) {
	rows, err := db.QueryxContext(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []columnInfo
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, ctype      string
			dflt             any
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		out = append(out, columnInfo{Name: name, Type: ctype, PK: pk > 0})
	}
	return out, rows.Err()
}

func (sqliteDialect) indices(ctx context.Context, db *sqlx.DB, table string) ([][]string, error) {
	// sql IS NULL marks the automatic primary key index
	var names []string
	err := db.SelectContext(ctx, &names,
		`SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ? AND sql IS NOT NULL ORDER BY name`, table)
	if err != nil {
		return nil, err
	}

	out := make([][]string, 0, len(names))
	for _, ix := range names {
		var cols []struct {
			SeqNo int    `db:"seqno"`
			CID   int    `db:"cid"`
			Name  string `db:"name"`
		}
		if err := db.SelectContext(ctx, &cols, "PRAGMA index_info("+quoteIdent(ix)+")"); err != nil {
			return nil, err
		}
		colNames := make([]string, len(cols))
		for _, c := range cols {
			colNames[c.SeqNo] = c.Name
		}
		out = append(out, colNames)
	}
	return out, nil
}

// ----- postgres -----

type postgresDialect struct{}

func (postgresDialect) name() string   { return BackendPostgres }
func (postgresDialect) driver() string { return "postgres" }

func (postgresDialect) columnType(kind Kind) string {
	switch kind {
	case KindInt:
		return "BIGINT DEFAULT 0"
	case KindText:
		return "TEXT DEFAULT ''"
	}
	return "BYTEA"
}

func (postgresDialect) kindOf(sqlType string) Kind {
	switch strings.ToLower(sqlType) {
	case "bigint", "integer", "smallint":
		return KindInt
	case "text", "character varying":
		return KindText
	}
	return KindOpaque
}

func (postgresDialect) tables(ctx context.Context, db *sqlx.DB) ([]string, error) {
	var names []string
	err := db.SelectContext(ctx, &names, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
		ORDER BY table_name`)
	return names, err
}

func (postgresDialect) columns(ctx context.Context, db *sqlx.DB, table string) ([]columnInfo, error) {
	var rows []struct {
		Name string `db:"column_name"`
		Type string `db:"data_type"`
		PK   bool   `db:"is_pk"`
	}
	err := db.SelectContext(ctx, &rows, `
		SELECT c.column_name, c.data_type,
		       EXISTS (
		         SELECT 1
		         FROM information_schema.table_constraints tc
		         JOIN information_schema.key_column_usage k
		           ON k.constraint_name = tc.constraint_name
		          AND k.table_schema = tc.table_schema
		          AND k.table_name = tc.table_name
		         WHERE tc.constraint_type = 'PRIMARY KEY'
		           AND tc.table_schema = c.table_schema
		           AND tc.table_name = c.table_name
		           AND k.column_name = c.column_name
		       ) AS is_pk
		FROM information_schema.columns c
		WHERE c.table_schema = current_schema() AND c.table_name = $1
		ORDER BY c.ordinal_position`, table)
	if err != nil {
		return nil, err
	}
	out := make([]columnInfo, len(rows))
	for i, r := range rows {
		out[i] = columnInfo{Name: r.Name, Type: r.Type, PK: r.PK}
	}
	return out, nil
}

func (postgresDialect) indices(ctx context.Context, db *sqlx.DB, table string) ([][]string, error) {
	var rows []struct {
		Index  string `db:"index_name"`
		Column string `db:"column_name"`
	}
	err := db.SelectContext(ctx, &rows, `
		SELECT ic.relname AS index_name, a.attname AS column_name
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_class ic ON ic.oid = ix.indexrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		CROSS JOIN LATERAL unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord)
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
		WHERE t.relname = $1 AND n.nspname = current_schema() AND NOT ix.indisprimary
		ORDER BY ic.relname, k.ord`, table)
	if err != nil {
		return nil, err
	}

	var out [][]string
	last := ""
	for _, r := range rows {
		if r.Index != last || len(out) == 0 {
			out = append(out, nil)
			last = r.Index
		}
		out[len(out)-1] = append(out[len(out)-1], r.Column)
	}
	return out, nil
}
