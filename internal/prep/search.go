package prep

import (
	"dicetables-db/internal/dice"
	"dicetables-db/internal/store"
)

// Candidate is one subset of a record's kinds: any stored record in its
// group holding no more of each kind is contained in the record.
type Candidate struct {
	Group  string
	Labels []Label
}

// Filter selects the stored records of this candidate's group that are
// contained in a record scoring at most maxScore.
func (c Candidate) Filter(maxScore int) store.Filter {
	f := store.Filter{
		GroupField: c.Group,
		ScoreField: store.Lte(int64(maxScore)),
	}
	for _, l := range c.Labels {
		f[l.Key] = store.Lte(int64(l.Count))
	}
	return f
}

// Search produces the candidate groups for a record one size class at a
// time, largest first. Nothing is computed ahead of the class asked for.
type Search struct {
	labels []Label
	score  int
	next   int
}

// NewSearch prepares the search for a canonical, non-empty record.
func NewSearch(r dice.Record) (*Search, error) {
	if r.IsEmpty() {
		return nil, ErrEmptyRecord
	}
	labels := Labels(r)
	return &Search{labels: labels, score: Score(r), next: len(labels)}, nil
}

func (s *Search) Score() int { return s.score }

func (s *Search) Labels() []Label {
	return append([]Label(nil), s.labels...)
}

// Next returns every candidate of the next size class, from all kinds down
// to single kinds. ok is false once size 1 has been returned.
func (s *Search) Next() (size int, candidates []Candidate, ok bool) {
	if s.next < 1 {
		return 0, nil, false
	}
	size = s.next
	s.next--

	n := len(s.labels)
	idx := make([]int, size)
	for i := range idx {
		idx[i] = i
	}
	for {
		picked := make([]Label, size)
		for i, j := range idx {
			picked[i] = s.labels[j]
		}
		candidates = append(candidates, Candidate{Group: GroupKey(picked), Labels: picked})

		// advance to the next combination in lexicographic order
		i := size - 1
		for i >= 0 && idx[i] == n-size+i {
			i--
		}
		if i < 0 {
			return size, candidates, true
		}
		idx[i]++
		for j := i + 1; j < size; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}
