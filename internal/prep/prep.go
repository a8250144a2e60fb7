// Package prep turns dice records into the searchable form the cache
// stores: a canonical record, a score, per-die labels and a group key.
package prep

import (
	"errors"
	"fmt"
	"strings"

	"dicetables-db/internal/codec"
	"dicetables-db/internal/dice"
	"dicetables-db/internal/store"
)

// Reserved document columns. Die keys always contain parentheses, so a
// label column can never collide with these.
const (
	GroupField      = "group"
	ScoreField      = "score"
	SerializedField = "serialized"
)

// GroupSeparator joins labels into a group key.
const GroupSeparator = "&"

var (
	ErrEmptyTable  = errors.New("prep: the identity table has no cache record")
	ErrEmptyRecord = errors.New("prep: empty record")
)

// UnitComplexity is one die's contribution to a score: its size, plus one
// when its total weight is larger than its size. Pure modifiers count as 1.
func UnitComplexity(d dice.Die) int {
	c := d.Size()
	if d.Weight() > int64(d.Size()) {
		c++
	}
	return max(c, 1)
}

// UnitSize is the number of distinct outcomes of one die.
func UnitSize(d dice.Die) int {
	return len(d.Dict())
}

// Score sums UnitComplexity*count over the record. It grows with every die
// added, so a record's score bounds the score of any record it contains.
func Score(r dice.Record) int {
	total := 0
	for _, e := range r.Entries() {
		total += UnitComplexity(e.Die) * e.Count
	}
	return total
}

// Canonicalize moves every separable modifier out of r. Dice with a non-zero
// modifier are replaced by their unmodified form (merging counts) and pure
// modifiers are removed; offset is the summed modifier*count. Canonicalize
// is idempotent.
func Canonicalize(r dice.Record) (offset int, canonical dice.Record) {
	for _, e := range r.Entries() {
		d := e.Die
		u := d.Unmodified()
		if u == nil {
			offset += d.Modifier() * e.Count
			continue
		}
		if m := d.Modifier(); m != 0 {
			offset += m * e.Count
			d = u
		}
		// counts from a valid record are positive
		canonical, _ = canonical.Add(d, e.Count)
	}
	return offset, canonical
}

// Label is one die kind of a record, named by its key.
type Label struct {
	Key   string
	Count int
}

// Labels returns r's kinds in ascending key order.
func Labels(r dice.Record) []Label {
	entries := r.Entries()
	out := make([]Label, len(entries))
	for i, e := range entries {
		out[i] = Label{Key: e.Die.Key(), Count: e.Count}
	}
	return out
}

// GroupKey joins the labels' keys. Labels must be sorted, as Labels returns
// them, so equal sets of kinds give equal keys.
func GroupKey(labels []Label) string {
	keys := make([]string, len(labels))
	for i, l := range labels {
		keys[i] = l.Key
	}
	return strings.Join(keys, GroupSeparator)
}

// NewDocument builds the stored record for t: group key, score, the
// serialized table and one count column per label.
func NewDocument(t dice.Table) (store.Document, error) {
	r := t.Record()
	if r.IsEmpty() {
		return nil, ErrEmptyTable
	}
	blob, err := codec.Encode(t)
	if err != nil {
		return nil, fmt.Errorf("prep: serialize %s: %w", t, err)
	}

	labels := Labels(r)
	doc := store.Document{
		GroupField:      GroupKey(labels),
		ScoreField:      int64(Score(r)),
		SerializedField: blob,
	}
	for _, l := range labels {
		doc[l.Key] = int64(l.Count)
	}
	return doc, nil
}

// ExactFilter matches the stored record of exactly r.
func ExactFilter(r dice.Record) store.Filter {
	labels := Labels(r)
	f := store.Filter{
		GroupField: GroupKey(labels),
		ScoreField: int64(Score(r)),
	}
	for _, l := range labels {
		f[l.Key] = int64(l.Count)
	}
	return f
}
