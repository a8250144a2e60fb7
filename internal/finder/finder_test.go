package finder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicetables-db/internal/dice"
	"dicetables-db/internal/docid"
	"dicetables-db/internal/prep"
	"dicetables-db/internal/store"
	"dicetables-db/internal/store/storetest"
)

var (
	d6  = dice.Must(dice.NewDie(6))
	d10 = dice.Must(dice.NewDie(10))
)

func newStore(t *testing.T) *storetest.Counting {
	t.Helper()
	s := store.NewMemoryStore("", "tables")
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return storetest.NewCounting(s)
}

func record(t *testing.T, entries ...dice.Entry) dice.Record {
	t.Helper()
	r, err := dice.NewRecord(entries...)
	require.NoError(t, err)
	return r
}

// put stores the table of entries and returns its identifier.
func put(t *testing.T, s store.Store, entries ...dice.Entry) docid.ID {
	t.Helper()
	table := dice.NewTable()
	for _, e := range entries {
		var err error
		table, err = table.Add(e.Die, e.Count)
		require.NoError(t, err)
	}
	doc, err := prep.NewDocument(table)
	require.NoError(t, err)
	id, err := s.Insert(context.Background(), doc)
	require.NoError(t, err)
	return id
}

func TestExactMatchShortCircuits(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	put(t, s, dice.Entry{Die: d6, Count: 5})
	want := put(t, s, dice.Entry{Die: d6, Count: 10})
	s.ResetCounts()

	f, err := New(s, record(t, dice.Entry{Die: d6, Count: 10}), Options{})
	require.NoError(t, err)
	m, ok, err := f.Find(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, m.Exact)
	assert.Equal(t, want, m.ID)
	assert.Equal(t, 60, m.Score)
	assert.Equal(t, int64(1), s.FindOnes())
	assert.Equal(t, int64(0), s.Finds(), "no subset scan after an exact hit")
}

func TestNearestNeverExceedsRequest(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	put(t, s, dice.Entry{Die: d6, Count: 12})
	small := put(t, s, dice.Entry{Die: d6, Count: 5})
	best := put(t, s, dice.Entry{Die: d6, Count: 8})

	f, err := New(s, record(t, dice.Entry{Die: d6, Count: 10}), Options{})
	require.NoError(t, err)
	m, ok, err := f.Find(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, m.Exact)
	assert.Equal(t, best, m.ID)
	assert.NotEqual(t, small, m.ID)
	assert.Equal(t, 48, m.Score)
}

func TestNearestNothingStored(t *testing.T) {
	s := newStore(t)
	f, err := New(s, record(t, dice.Entry{Die: d6, Count: 3}), Options{})
	require.NoError(t, err)
	_, ok, err := f.Find(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNearestKeepsBestAcrossSizes(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	// request scores 4*6 + 2*10 = 44; stored scores are 24 and 26
	put(t, s, dice.Entry{Die: d6, Count: 4})
	pair := put(t, s, dice.Entry{Die: d10, Count: 2}, dice.Entry{Die: d6, Count: 1})
	s.ResetCounts()

	f, err := New(s, record(t, dice.Entry{Die: d6, Count: 4}, dice.Entry{Die: d10, Count: 2}), Options{})
	require.NoError(t, err)
	m, ok, err := f.Nearest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, pair, m.ID)
	assert.Equal(t, 26, m.Score)
	// 26/44 is not close enough, so both single-die groups are scanned too
	assert.Equal(t, int64(3), s.Finds())
}

func TestNearestStopsWhenCloseEnough(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	// 38 of 44
	put(t, s, dice.Entry{Die: d6, Count: 3}, dice.Entry{Die: d10, Count: 2})
	req := record(t, dice.Entry{Die: d6, Count: 4}, dice.Entry{Die: d10, Count: 2})

	s.ResetCounts()
	f, err := New(s, req, Options{})
	require.NoError(t, err)
	_, ok, err := f.Nearest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), s.Finds())

	s.ResetCounts()
	strict, err := New(s, req, Options{CloseEnough: 1})
	require.NoError(t, err)
	m, ok, err := strict.Nearest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 38, m.Score)
	assert.Equal(t, int64(3), s.Finds())
}

func TestNearestFirstMaximumWins(t *testing.T) {
	s := newStore(t)
	first := put(t, s, dice.Entry{Die: d6, Count: 7})
	put(t, s, dice.Entry{Die: d6, Count: 7})

	f, err := New(s, record(t, dice.Entry{Die: d6, Count: 9}), Options{})
	require.NoError(t, err)
	m, ok, err := f.Nearest(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, m.ID)
}

func TestNewRejectsEmptyRecord(t *testing.T) {
	_, err := New(newStore(t), dice.Record{}, Options{})
	assert.ErrorIs(t, err, prep.ErrEmptyRecord)
}
