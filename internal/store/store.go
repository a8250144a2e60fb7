// Package store is the uniform document-collection contract the cache runs
// on, with adapters for relational (sqlite, postgres), document (mongo,
// badger, redis) and in-process engines.
//
// A document is a flat map of column name to value. Values are int64,
// string, []byte or docid.ID; anything else is stored opaquely. Every
// stored document has a unique, ordered "_id" assigned on insert.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"dicetables-db/internal/docid"
)

// IDField is the column holding each document's identifier.
const IDField = "_id"

var (
	ErrBadProjection      = errors.New("store: projection mixes inclusion and exclusion")
	ErrBadOperator        = errors.New("store: unsupported filter operator")
	ErrIncompatibleSchema = errors.New("store: existing collection has an incompatible shape")
	ErrClosed             = errors.New("store: closed")
	ErrUnknownBackend     = errors.New("store: unknown backend")
)

// Document is one stored record.
type Document map[string]any

// ID returns the document's identifier, if it carries one.
func (d Document) ID() (docid.ID, bool) {
	id, ok := d[IDField].(docid.ID)
	return id, ok
}

// Int returns the integer stored under col.
func (d Document) Int(col string) (int64, bool) {
	v, ok := d[col].(int64)
	return v, ok
}

// Op is a comparison operator usable in a Filter.
type Op string

const (
	OpLt  Op = "$lt"
	OpLte Op = "$lte"
	OpGt  Op = "$gt"
	OpGte Op = "$gte"
	OpNe  Op = "$ne"
)

// Cond is a filter value that compares rather than matches exactly.
type Cond struct {
	Op    Op
	Value any
}

func Lt(v any) Cond  { return Cond{Op: OpLt, Value: v} }
func Lte(v any) Cond { return Cond{Op: OpLte, Value: v} }
func Gt(v any) Cond  { return Cond{Op: OpGt, Value: v} }
func Gte(v any) Cond { return Cond{Op: OpGte, Value: v} }
func Ne(v any) Cond  { return Cond{Op: OpNe, Value: v} }

// Filter maps column to either a literal (equality) or a Cond. All entries
// must hold. Filtering on a column the collection has never seen matches
// nothing.
type Filter map[string]any

// Projection selects columns: all true (only these) or all false (all but
// these). An empty projection returns whole documents.
type Projection map[string]bool

// Kind is the storage class of a column.
type Kind int

const (
	KindOpaque Kind = iota
	KindInt
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindText:
		return "text"
	}
	return "opaque"
}

// KindOf classifies a (normalized) value.
func KindOf(v any) Kind {
	switch v.(type) {
	case int64:
		return KindInt
	case string:
		return KindText
	}
	return KindOpaque
}

// Info describes where a store points and what it holds.
type Info struct {
	Backend     string     `json:"backend"`
	Database    string     `json:"database"`
	Collections []string   `json:"collections"`
	Collection  string     `json:"collection"`
	Indices     [][]string `json:"indices"`
}

// Store is one connected collection.
type Store interface {
	// Find returns every document matching f, ordered by _id, shaped by p.
	// Documents left empty by p are omitted.
	Find(ctx context.Context, f Filter, p Projection) ([]Document, error)

	// FindOne is Find limited to the first match.
	FindOne(ctx context.Context, f Filter, p Projection) (Document, bool, error)

	// Insert stores a copy of doc under a fresh id. Any _id in doc is
	// ignored.
	Insert(ctx context.Context, doc Document) (docid.ID, error)

	// DeclareColumn makes sure col exists with the given kind. Stores
	// without a fixed schema treat it as a no-op.
	DeclareColumn(ctx context.Context, col string, kind Kind) error

	// CreateIndex records a compound index over cols, creating any missing
	// columns. It is a no-op when the index already exists.
	CreateIndex(ctx context.Context, cols ...string) error
	HasIndex(ctx context.Context, cols ...string) (bool, error)

	IsEmpty(ctx context.Context) (bool, error)

	// Reset empties the collection and drops its indices, leaving it in
	// place.
	Reset(ctx context.Context) error

	// Drop removes the collection. A later Insert recreates it.
	Drop(ctx context.Context) error

	Info(ctx context.Context) (Info, error)
	Close(ctx context.Context) error
}

// normalize maps driver and caller values onto the document value set.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint:
		return int64(x)
	case uint64:
		return int64(x)
	case primitive.ObjectID:
		return docid.FromObjectID(x)
	case primitive.Binary:
		return append([]byte(nil), x.Data...)
	case []byte:
		return append([]byte(nil), x...)
	}
	return v
}

func copyDocument(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = normalize(v)
	}
	return out
}

type projectionMode int

const (
	projectAll projectionMode = iota
	projectInclude
	projectExclude
)

func checkProjection(p Projection) (projectionMode, error) {
	if len(p) == 0 {
		return projectAll, nil
	}
	var incl, excl bool
	for _, keep := range p {
		if keep {
			incl = true
		} else {
			excl = true
		}
	}
	switch {
	case incl && excl:
		return projectAll, ErrBadProjection
	case incl:
		return projectInclude, nil
	}
	return projectExclude, nil
}

func checkFilter(f Filter) error {
	for col, v := range f {
		c, ok := v.(Cond)
		if !ok {
			continue
		}
		switch c.Op {
		case OpLt, OpLte, OpGt, OpGte, OpNe:
		default:
			return fmt.Errorf("%w: %q on %q", ErrBadOperator, c.Op, col)
		}
	}
	return nil
}

func checkQuery(f Filter, p Projection) (projectionMode, error) {
	if err := checkFilter(f); err != nil {
		return projectAll, err
	}
	return checkProjection(p)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortIndices(indices [][]string) {
	sort.Slice(indices, func(i, j int) bool {
		a, b := indices[i], indices[j]
		for k := 0; k < len(a) && k < len(b); k++ {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return len(a) < len(b)
	})
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func containsIndex(indices [][]string, cols []string) bool {
	for _, ix := range indices {
		if sameColumns(ix, cols) {
			return true
		}
	}
	return false
}
