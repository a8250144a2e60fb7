package store

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/jmoiron/sqlx"

	"dicetables-db/internal/docid"
)

// SQLConfig configures a SQLStore.
type SQLConfig struct {
	// Dialect is BackendSQLite or BackendPostgres.
	Dialect string

	// DSN is a sqlite path (":memory:" allowed) or a postgres connection
	// string.
	DSN        string
	Collection string
}

type sqlColumn struct {
	name string
	kind Kind
}

// SQLStore maps a collection onto one table. The table starts with a text
// "_id" primary key and grows a column per new document key: INTEGER
// (default 0) for integers, TEXT (default '') for strings and a binary
// column for everything else.
type SQLStore struct {
	mu         sync.Mutex
	db         *sqlx.DB
	dialect    dialect
	dsn        string
	collection string

	// mirror of the catalog for this table; rebuilt on connect
	exists  bool
	columns []sqlColumn
	indices [][]string

	closed atomic.Bool
}

// OpenSQL connects and adopts (or creates) the collection's table. An
// existing table without a text "_id" primary key is rejected with
// ErrIncompatibleSchema.
func OpenSQL(ctx context.Context, cfg SQLConfig) (*SQLStore, error) {
	d, err := dialectFor(cfg.Dialect)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(d.driver(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name(), err)
	}
	if d.name() == BackendSQLite {
		// one connection, so ":memory:" is a single database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name(), err)
	}

	s := &SQLStore{db: db, dialect: d, dsn: cfg.DSN, collection: cfg.Collection}
	if err := s.setUp(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) table() string {
	return quoteIdent(s.collection)
}

// setUp creates the table if missing and reloads the schema mirror. Callers
// hold mu.
func (s *SQLStore) setUp(ctx context.Context) error {
	cols, err := s.dialect.columns(ctx, s.db, s.collection)
	if err != nil {
		return fmt.Errorf("read columns of %s: %w", s.collection, err)
	}
	if len(cols) == 0 {
		q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s TEXT PRIMARY KEY)`, s.table(), quoteIdent(IDField))
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table %s: %w", s.collection, err)
		}
		cols = []columnInfo{{Name: IDField, Type: "TEXT", PK: true}}
	} else if err := s.checkShape(cols); err != nil {
		return err
	}

	s.columns = s.columns[:0]
	for _, c := range cols {
		s.columns = append(s.columns, sqlColumn{name: c.Name, kind: s.dialect.kindOf(c.Type)})
	}
	s.indices, err = s.dialect.indices(ctx, s.db, s.collection)
	if err != nil {
		return fmt.Errorf("read indices of %s: %w", s.collection, err)
	}
	sortIndices(s.indices)
	s.exists = true
	return nil
}

func (s *SQLStore) checkShape(cols []columnInfo) error {
	for _, c := range cols {
		if c.Name != IDField {
			continue
		}
		if !c.PK || s.dialect.kindOf(c.Type) != KindText {
			return fmt.Errorf("%w: %s.%s is %s (primary key %t)", ErrIncompatibleSchema, s.collection, IDField, c.Type, c.PK)
		}
		return nil
	}
	return fmt.Errorf("%w: %s has no %s column", ErrIncompatibleSchema, s.collection, IDField)
}

func (s *SQLStore) column(name string) (sqlColumn, bool) {
	for _, c := range s.columns {
		if c.name == name {
			return c, true
		}
	}
	return sqlColumn{}, false
}

func (s *SQLStore) addColumn(ctx context.Context, name string, kind Kind) error {
	q := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, s.table(), quoteIdent(name), s.dialect.columnType(kind))
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("add column %s.%s: %w", s.collection, name, err)
	}
	s.columns = append(s.columns, sqlColumn{name: name, kind: kind})
	return nil
}

func (s *SQLStore) ready(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if !s.exists {
		return s.setUp(ctx)
	}
	return nil
}

func (s *SQLStore) check(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

func sqlArg(v any) any {
	v = normalize(v)
	if id, ok := v.(docid.ID); ok {
		return id.String()
	}
	return v
}

var sqlOps = map[Op]string{
	OpLt:  "<",
	OpLte: "<=",
	OpGt:  ">",
	OpGte: ">=",
	OpNe:  "<>",
}

func (s *SQLStore) selected(p Projection, mode projectionMode) []string {
	var out []string
	for _, c := range s.columns {
		keep, named := p[c.name]
		switch mode {
		case projectInclude:
			if !named || !keep {
				continue
			}
		case projectExclude:
			if named {
				continue
			}
		}
		out = append(out, c.name)
	}
	return out
}

func (s *SQLStore) find(ctx context.Context, f Filter, p Projection, limit int) ([]Document, error) {
	mode, err := checkQuery(f, p)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if !s.exists {
		return nil, nil
	}
	for col := range f {
		if _, ok := s.column(col); !ok {
			return nil, nil
		}
	}
	cols := s.selected(p, mode)
	if len(cols) == 0 {
		return nil, nil
	}

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	var (
		b     strings.Builder
		where []string
		args  []any
	)
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(quoted, ", "), s.table())
	for _, col := range sortedKeys(f) {
		op, val := "=", f[col]
		if c, ok := val.(Cond); ok {
			op, val = sqlOps[c.Op], c.Value
		}
		where = append(where, quoteIdent(col)+" "+op+" ?")
		args = append(args, sqlArg(val))
	}
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY " + quoteIdent(IDField))
	if limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(limit))
	}

	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(b.String()), args...)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", s.collection, err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		row := make(map[string]any, len(cols))
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.collection, err)
		}
		doc, err := s.decodeRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", s.collection, err)
	}
	return out, nil
}

func (s *SQLStore) decodeRow(row map[string]any) (Document, error) {
	doc := make(Document, len(row))
	for name, v := range row {
		if name == IDField {
			var id docid.ID
			if err := id.Scan(v); err != nil {
				return nil, fmt.Errorf("%s row id: %w", s.collection, err)
			}
			doc[name] = id
			continue
		}
		col, _ := s.column(name)
		if b, ok := v.([]byte); ok && col.kind == KindText {
			doc[name] = string(b)
			continue
		}
		doc[name] = normalize(v)
	}
	return doc, nil
}

func (s *SQLStore) Find(ctx context.Context, f Filter, p Projection) ([]Document, error) {
	return s.find(ctx, f, p, 0)
}

func (s *SQLStore) FindOne(ctx context.Context, f Filter, p Projection) (Document, bool, error) {
	docs, err := s.find(ctx, f, p, 1)
	if err != nil || len(docs) == 0 {
		return nil, false, err
	}
	return docs[0], true, nil
}

func (s *SQLStore) Insert(ctx context.Context, doc Document) (docid.ID, error) {
	stored := copyDocument(doc)
	delete(stored, IDField)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(ctx); err != nil {
		return docid.ID{}, err
	}

	keys := sortedKeys(stored)
	for _, k := range keys {
		if _, ok := s.column(k); !ok {
			if err := s.addColumn(ctx, k, KindOf(stored[k])); err != nil {
				return docid.ID{}, err
			}
		}
	}

	id := docid.New()
	cols := []string{quoteIdent(IDField)}
	marks := []string{"?"}
	args := []any{id.String()}
	for _, k := range keys {
		cols = append(cols, quoteIdent(k))
		marks = append(marks, "?")
		args = append(args, sqlArg(stored[k]))
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", s.table(), strings.Join(cols, ", "), strings.Join(marks, ", "))
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(q), args...); err != nil {
		return docid.ID{}, fmt.Errorf("insert into %s: %w", s.collection, err)
	}
	return id, nil
}

// DeclareColumn adds col with kind unless it already exists, whatever its
// current kind.
func (s *SQLStore) DeclareColumn(ctx context.Context, col string, kind Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, ok := s.column(col); ok {
		return nil
	}
	return s.addColumn(ctx, col, kind)
}

func indexName(collection string, cols []string) string {
	return fmt.Sprintf("ix_%016x", xxhash.Sum64String(collection+"\x00"+strings.Join(cols, "\x00")))
}

func (s *SQLStore) CreateIndex(ctx context.Context, cols ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(ctx); err != nil {
		return err
	}
	for _, c := range cols {
		if _, ok := s.column(c); !ok {
			if err := s.addColumn(ctx, c, KindOpaque); err != nil {
				return err
			}
		}
	}
	if containsIndex(s.indices, cols) {
		return nil
	}

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	q := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		quoteIdent(indexName(s.collection, cols)), s.table(), strings.Join(quoted, ", "))
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create index on %s: %w", s.collection, err)
	}
	s.indices = append(s.indices, append([]string(nil), cols...))
	sortIndices(s.indices)
	return nil
}

func (s *SQLStore) HasIndex(ctx context.Context, cols ...string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}
	return s.exists && containsIndex(s.indices, cols), nil
}

func (s *SQLStore) IsEmpty(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}
	if !s.exists {
		return true, nil
	}
	var n int64
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+s.table()); err != nil {
		return false, fmt.Errorf("count %s: %w", s.collection, err)
	}
	return n == 0, nil
}

func (s *SQLStore) drop(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+s.table()); err != nil {
		return fmt.Errorf("drop %s: %w", s.collection, err)
	}
	s.exists = false
	s.columns = nil
	s.indices = nil
	return nil
}

func (s *SQLStore) Drop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.drop(ctx)
}

func (s *SQLStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if err := s.drop(ctx); err != nil {
		return err
	}
	return s.setUp(ctx)
}

var dsnPassword = regexp.MustCompile(`password=\S+`)

// redactDSN hides credentials in connection strings.
func redactDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		return u.Redacted()
	}
	return dsnPassword.ReplaceAllString(dsn, "password=xxxxx")
}

func (s *SQLStore) Info(ctx context.Context) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return Info{}, err
	}
	tables, err := s.dialect.tables(ctx, s.db)
	if err != nil {
		return Info{}, fmt.Errorf("list tables: %w", err)
	}
	if tables == nil {
		tables = []string{}
	}
	indices := make([][]string, 0, len(s.indices))
	for _, ix := range s.indices {
		indices = append(indices, append([]string(nil), ix...))
	}
	return Info{
		Backend:     s.dialect.name(),
		Database:    redactDSN(s.dsn),
		Collections: tables,
		Collection:  s.collection,
		Indices:     indices,
	}, nil
}

func (s *SQLStore) Close(context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
