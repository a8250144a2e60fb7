package store

import (
	"bytes"

	"dicetables-db/internal/docid"
)

// The schemaless adapters (memory, badger, redis) evaluate filters and
// projections in process with the helpers below.

// compareValues orders two normalized values. ok is false when they are of
// different kinds and so never match.
func compareValues(a, b any) (int, bool) {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmpOrdered(x, y), true
		case float64:
			return cmpOrdered(float64(x), y), true
		}
	case float64:
		switch y := b.(type) {
		case float64:
			return cmpOrdered(x, y), true
		case int64:
			return cmpOrdered(x, float64(y)), true
		}
	case string:
		if y, ok := b.(string); ok {
			return cmpOrdered(x, y), true
		}
	case []byte:
		if y, ok := b.([]byte); ok {
			return bytes.Compare(x, y), true
		}
	case docid.ID:
		if y, ok := b.(docid.ID); ok {
			return x.Compare(y), true
		}
	case bool:
		if y, ok := b.(bool); ok && x == y {
			return 0, true
		}
	}
	return 0, false
}

func cmpOrdered[T int64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// matches reports whether doc satisfies f. A column missing from doc fails
// every condition, $ne included.
func matches(doc Document, f Filter) bool {
	for col, want := range f {
		got, present := doc[col]
		if !present {
			return false
		}
		cond, isCond := want.(Cond)
		if !isCond {
			c, ok := compareValues(got, normalize(want))
			if !ok || c != 0 {
				return false
			}
			continue
		}
		c, ok := compareValues(got, normalize(cond.Value))
		if cond.Op == OpNe {
			if ok && c == 0 {
				return false
			}
			continue
		}
		if !ok {
			return false
		}
		switch cond.Op {
		case OpLt:
			ok = c < 0
		case OpLte:
			ok = c <= 0
		case OpGt:
			ok = c > 0
		case OpGte:
			ok = c >= 0
		}
		if !ok {
			return false
		}
	}
	return true
}

// project shapes a copy of doc; nil means nothing was left.
func project(doc Document, p Projection, mode projectionMode) Document {
	out := make(Document, len(doc))
	switch mode {
	case projectInclude:
		for col := range p {
			if v, ok := doc[col]; ok {
				out[col] = v
			}
		}
	case projectExclude:
		for col, v := range doc {
			if _, drop := p[col]; !drop {
				out[col] = v
			}
		}
	default:
		for col, v := range doc {
			out[col] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	for col, v := range out {
		if b, ok := v.([]byte); ok {
			out[col] = append([]byte(nil), b...)
		}
	}
	return out
}

// selectDocuments applies f and p to docs in order, stopping after limit
// results when limit > 0.
func selectDocuments(docs []Document, f Filter, p Projection, mode projectionMode, limit int) []Document {
	var out []Document
	for _, doc := range docs {
		if !matches(doc, f) {
			continue
		}
		shaped := project(doc, p, mode)
		if shaped == nil {
			continue
		}
		out = append(out, shaped)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
