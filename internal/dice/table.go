package dice

import (
	"fmt"
	"math/big"
	"sort"
)

// Table is the distribution of sums of the dice in its record: each event
// (a total) maps to its positive occurrence count.
//
// Tables are immutable values; the zero value is the identity table, whose
// only event is 0 and whose record is empty.
type Table struct {
	events map[int]*big.Int
	record Record
}

func identityEvents() map[int]*big.Int {
	return map[int]*big.Int{0: big.NewInt(1)}
}

// NewTable returns the identity table.
func NewTable() Table {
	return Table{events: identityEvents()}
}

// NewTableFrom builds a table from precomputed events and the record they
// represent. Every occurrence count must be positive.
func NewTableFrom(events map[int]*big.Int, r Record) (Table, error) {
	if len(events) == 0 {
		return Table{}, fmt.Errorf("%w: table has no events", ErrInvalidEvents)
	}
	out := make(map[int]*big.Int, len(events))
	for k, v := range events {
		if v == nil || v.Sign() <= 0 {
			return Table{}, fmt.Errorf("%w: event %d has no occurrences", ErrInvalidEvents, k)
		}
		out[k] = new(big.Int).Set(v)
	}
	return Table{events: out, record: r}, nil
}

func (t Table) ev() map[int]*big.Int {
	if t.events == nil {
		return identityEvents()
	}
	return t.events
}

// Add returns the table with n more of d rolled into it.
func (t Table) Add(d Die, n int) (Table, error) {
	rec, err := t.record.Add(d, n)
	if err != nil {
		return Table{}, err
	}
	events := t.ev()
	dict := d.Dict()
	for i := 0; i < n; i++ {
		events = convolve(events, dict)
	}
	return Table{events: events, record: rec}, nil
}

func convolve(events map[int]*big.Int, dict map[int]int64) map[int]*big.Int {
	out := make(map[int]*big.Int, len(events)+len(dict))
	for k, v := range events {
		for face, w := range dict {
			term := new(big.Int).Mul(v, big.NewInt(w))
			if cur, ok := out[k+face]; ok {
				cur.Add(cur, term)
			} else {
				out[k+face] = term
			}
		}
	}
	return out
}

func (t Table) Record() Record  { return t.record }
func (t Table) Count(d Die) int { return t.record.Count(d) }

// Events returns a copy of the event map.
func (t Table) Events() map[int]*big.Int {
	src := t.ev()
	out := make(map[int]*big.Int, len(src))
	for k, v := range src {
		out[k] = new(big.Int).Set(v)
	}
	return out
}

// Outcomes returns the events in ascending order.
func (t Table) Outcomes() []int {
	src := t.ev()
	keys := make([]int, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// Range returns the smallest and largest event.
func (t Table) Range() (int, int) {
	keys := t.Outcomes()
	return keys[0], keys[len(keys)-1]
}

// Frequency returns the occurrences of event, zero when absent.
func (t Table) Frequency(event int) *big.Int {
	if v, ok := t.ev()[event]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// EqualEvents reports whether both tables have the same distribution,
// regardless of record.
func (t Table) EqualEvents(o Table) bool {
	a, b := t.ev(), o.ev()
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		w, ok := b[k]
		if !ok || v.Cmp(w) != 0 {
			return false
		}
	}
	return true
}

func (t Table) Equal(o Table) bool {
	return t.record.Equal(o.record) && t.EqualEvents(o)
}

func (t Table) IsIdentity() bool {
	return t.Equal(NewTable())
}

// Shift returns the table with every event moved by offset. The record is
// unchanged.
func (t Table) Shift(offset int) Table {
	src := t.ev()
	out := make(map[int]*big.Int, len(src))
	for k, v := range src {
		out[k+offset] = v
	}
	return Table{events: out, record: t.record}
}

// WithRecord returns the same distribution labelled with r.
func (t Table) WithRecord(r Record) Table {
	return Table{events: t.ev(), record: r}
}

// String describes the table by its dice, e.g. "<DiceTable containing [5D6]>".
func (t Table) String() string {
	return "<DiceTable containing [" + t.record.Brief() + "]>"
}
