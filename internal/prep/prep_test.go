package prep

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicetables-db/internal/codec"
	"dicetables-db/internal/dice"
	"dicetables-db/internal/store"
)

func record(t *testing.T, entries ...dice.Entry) dice.Record {
	t.Helper()
	r, err := dice.NewRecord(entries...)
	require.NoError(t, err)
	return r
}

var (
	d4 = dice.Must(dice.NewDie(4))
	d6 = dice.Must(dice.NewDie(6))
)

func TestScore(t *testing.T) {
	assert.Equal(t, 30, Score(record(t, dice.Entry{Die: d6, Count: 5})))

	heavy := dice.Must(dice.NewWeightedDie(map[int]int64{1: 5, 2: 5}))
	assert.Equal(t, 3, UnitComplexity(heavy), "weight above size adds one")
	light := dice.Must(dice.NewWeightedDie(map[int]int64{1: 1, 3: 1}))
	assert.Equal(t, 3, UnitComplexity(light))
	assert.Equal(t, 2, UnitSize(light))

	assert.Equal(t, 0, Score(dice.Record{}))
}

// subRecords returns every record whose counts are bounded by r's,
// including the empty record and r itself.
func subRecords(t *testing.T, r dice.Record) []dice.Record {
	t.Helper()
	out := []dice.Record{{}}
	for _, e := range r.Entries() {
		var next []dice.Record
		for _, sub := range out {
			for n := 0; n <= e.Count; n++ {
				grown, err := sub.Add(e.Die, n)
				require.NoError(t, err)
				next = append(next, grown)
			}
		}
		out = next
	}
	return out
}

func TestScoreIsMonotone(t *testing.T) {
	heavy := dice.Must(dice.NewWeightedDie(map[int]int64{1: 5, 2: 5}))
	strong := dice.Must(dice.NewStrongDie(d4, 3))
	cases := []struct {
		name    string
		entries []dice.Entry
	}{
		{"single die", []dice.Entry{{Die: d6, Count: 4}}},
		{"two dice", []dice.Entry{{Die: d6, Count: 3}, {Die: d4, Count: 2}}},
		{"weighted", []dice.Entry{{Die: heavy, Count: 2}, {Die: d6, Count: 2}}},
		{"strong", []dice.Entry{{Die: strong, Count: 2}, {Die: d4, Count: 1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			full := record(t, tc.entries...)
			want := Score(full)
			subs := subRecords(t, full)

			total := 1
			for _, e := range tc.entries {
				total *= e.Count + 1
			}
			require.Len(t, subs, total)

			for _, sub := range subs {
				got := Score(sub)
				assert.LessOrEqual(t, got, want, "%s within %s", sub, full)
				if !sub.Equal(full) {
					assert.Less(t, got, want, "proper subset %s of %s", sub, full)
				}
			}
		})
	}
}

func TestCanonicalize(t *testing.T) {
	mod := dice.Must(dice.NewModDie(6, 5))
	offset, canon := Canonicalize(record(t, dice.Entry{Die: mod, Count: 4}))
	assert.Equal(t, 20, offset)
	assert.True(t, canon.Equal(record(t, dice.Entry{Die: d6, Count: 4})))

	offset, canon = Canonicalize(record(t, dice.Entry{Die: dice.NewModifier(5), Count: 3}))
	assert.Equal(t, 15, offset)
	assert.True(t, canon.IsEmpty())

	// modified counts merge into the plain die
	offset, canon = Canonicalize(record(t,
		dice.Entry{Die: d6, Count: 2},
		dice.Entry{Die: dice.Must(dice.NewModDie(6, -1)), Count: 3},
		dice.Entry{Die: d4, Count: 1},
	))
	assert.Equal(t, -3, offset)
	assert.Equal(t, 5, canon.Count(d6))
	assert.Equal(t, 1, canon.Count(d4))

	again, canon2 := Canonicalize(canon)
	assert.Equal(t, 0, again)
	assert.True(t, canon.Equal(canon2), "idempotent")
}

func TestLabelsAndGroupKey(t *testing.T) {
	d10 := dice.Must(dice.NewDie(10))
	r := record(t, dice.Entry{Die: d6, Count: 1}, dice.Entry{Die: d10, Count: 2})
	labels := Labels(r)
	assert.Equal(t, []Label{{"Die(10)", 2}, {"Die(6)", 1}}, labels)
	assert.Equal(t, "Die(10)&Die(6)", GroupKey(labels))
}

func TestNewDocument(t *testing.T) {
	table, err := dice.NewTable().Add(d6, 5)
	require.NoError(t, err)

	doc, err := NewDocument(table)
	require.NoError(t, err)
	assert.Equal(t, "Die(6)", doc[GroupField])
	assert.Equal(t, int64(30), doc[ScoreField])
	assert.Equal(t, int64(5), doc["Die(6)"])

	back, err := codec.Decode(doc[SerializedField].([]byte))
	require.NoError(t, err)
	assert.True(t, table.Equal(back))

	_, err = NewDocument(dice.NewTable())
	assert.ErrorIs(t, err, ErrEmptyTable)
}

func TestExactFilter(t *testing.T) {
	f := ExactFilter(record(t, dice.Entry{Die: d6, Count: 10}))
	assert.Equal(t, store.Filter{GroupField: "Die(6)", ScoreField: int64(60), "Die(6)": int64(10)}, f)
}

func TestSearchSizeClasses(t *testing.T) {
	d8 := dice.Must(dice.NewDie(8))
	r := record(t,
		dice.Entry{Die: d4, Count: 1},
		dice.Entry{Die: d6, Count: 2},
		dice.Entry{Die: d8, Count: 3},
	)
	s, err := NewSearch(r)
	require.NoError(t, err)
	assert.Equal(t, 4+12+24, s.Score())

	var groups [][]string
	var sizes []int
	for {
		size, cands, ok := s.Next()
		if !ok {
			break
		}
		sizes = append(sizes, size)
		var names []string
		for _, c := range cands {
			names = append(names, c.Group)
		}
		groups = append(groups, names)
	}
	assert.Equal(t, []int{3, 2, 1}, sizes)
	assert.Equal(t, [][]string{
		{"Die(4)&Die(6)&Die(8)"},
		{"Die(4)&Die(6)", "Die(4)&Die(8)", "Die(6)&Die(8)"},
		{"Die(4)", "Die(6)", "Die(8)"},
	}, groups)

	_, err = NewSearch(dice.Record{})
	assert.ErrorIs(t, err, ErrEmptyRecord)
}

func TestCandidateFilter(t *testing.T) {
	c := Candidate{Group: "Die(6)", Labels: []Label{{"Die(6)", 4}}}
	assert.Equal(t, store.Filter{
		GroupField: "Die(6)",
		ScoreField: store.Lte(int64(24)),
		"Die(6)":   store.Lte(int64(4)),
	}, c.Filter(24))
}
