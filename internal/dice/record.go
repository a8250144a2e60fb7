package dice

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNegativeCount is returned when a record would hold a negative number
// of some die.
var ErrNegativeCount = errors.New("dice: negative count")

// Entry is one die kind and how many of it a record holds.
type Entry struct {
	Die   Die
	Count int
}

// Record maps die kinds to counts. It is immutable: Add and Remove return
// new records. The zero value is the empty record.
type Record struct {
	entries map[string]Entry
}

// NewRecord builds a record from entries, summing repeated kinds.
func NewRecord(entries ...Entry) (Record, error) {
	var (
		r   Record
		err error
	)
	for _, e := range entries {
		r, err = r.Add(e.Die, e.Count)
		if err != nil {
			return Record{}, err
		}
	}
	return r, nil
}

func (r Record) clone() map[string]Entry {
	out := make(map[string]Entry, len(r.entries)+1)
	for k, e := range r.entries {
		out[k] = e
	}
	return out
}

// Add returns a record holding n more of d.
func (r Record) Add(d Die, n int) (Record, error) {
	if n < 0 {
		return Record{}, fmt.Errorf("%w: cannot add %d of %s", ErrNegativeCount, n, d.Key())
	}
	if n == 0 {
		return r, nil
	}
	m := r.clone()
	key := d.Key()
	e := m[key]
	m[key] = Entry{Die: d, Count: e.Count + n}
	return Record{entries: m}, nil
}

// Remove returns a record holding n fewer of d.
func (r Record) Remove(d Die, n int) (Record, error) {
	have := r.Count(d)
	if n < 0 || n > have {
		return Record{}, fmt.Errorf("%w: cannot remove %d of %s from %d", ErrNegativeCount, n, d.Key(), have)
	}
	if n == 0 {
		return r, nil
	}
	m := r.clone()
	if have == n {
		delete(m, d.Key())
	} else {
		m[d.Key()] = Entry{Die: d, Count: have - n}
	}
	return Record{entries: m}, nil
}

func (r Record) Count(d Die) int {
	return r.entries[d.Key()].Count
}

// CountKey is Count by die key.
func (r Record) CountKey(key string) int {
	return r.entries[key].Count
}

// Entries returns the kinds with a positive count, ordered by key.
func (r Record) Entries() []Entry {
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Entry, len(keys))
	for i, k := range keys {
		out[i] = r.entries[k]
	}
	return out
}

func (r Record) Len() int      { return len(r.entries) }
func (r Record) IsEmpty() bool { return len(r.entries) == 0 }

func (r Record) Equal(o Record) bool {
	if len(r.entries) != len(o.entries) {
		return false
	}
	for k, e := range r.entries {
		if o.entries[k].Count != e.Count {
			return false
		}
	}
	return true
}

// String lists one "key: count" line per kind.
// Brief is the one-line form used in table names, e.g. "3D6, 1D4+1".
func (r Record) Brief() string {
	entries := r.Entries()
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = fmt.Sprintf("%d%s", e.Count, e.Die.String())
	}
	return strings.Join(parts, ", ")
}

func (r Record) String() string {
	entries := r.Entries()
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = fmt.Sprintf("%s: %d", e.Die.Key(), e.Count)
	}
	return strings.Join(lines, "\n")
}
