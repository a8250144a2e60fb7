package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicetables-db/internal/docid"
)

// backend opens a fresh, empty collection.
type backend struct {
	name string
	open func(t *testing.T) Store
}

func uniqueName(t *testing.T) string {
	name := strings.NewReplacer("/", "_", " ", "_", "-", "_").Replace(t.Name())
	return strings.ToLower(fmt.Sprintf("t_%s_%s", name, docid.New().String()[18:]))
}

func closeOnCleanup(t *testing.T, s Store) Store {
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

// dropOnCleanup is for shared servers: the collection goes away with the
// test. A store the test already closed is left behind.
func dropOnCleanup(t *testing.T, s Store) Store {
	t.Cleanup(func() {
		_ = s.Drop(context.Background())
		_ = s.Close(context.Background())
	})
	return s
}

func backends() []backend {
	var out []backend

	out = append(out, backend{name: "memory", open: func(t *testing.T) Store {
		db := uniqueName(t)
		s := NewMemoryStore(db, "tables")
		return closeOnCleanup(t, s)
	}})

	out = append(out, backend{name: "sqlite_memory", open: func(t *testing.T) Store {
		s, err := OpenSQL(context.Background(), SQLConfig{Dialect: BackendSQLite, DSN: ":memory:", Collection: "tables"})
		require.NoError(t, err)
		return closeOnCleanup(t, s)
	}})

	out = append(out, backend{name: "badger_memory", open: func(t *testing.T) Store {
		s, err := OpenBadger(context.Background(), BadgerConfig{Collection: "tables"})
		require.NoError(t, err)
		return closeOnCleanup(t, s)
	}})

	out = append(out, backend{name: "redis", open: func(t *testing.T) Store {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		s, err := NewRedisStore(context.Background(), client, RedisConfig{Prefix: "test", Collection: "tables", OwnsClient: true})
		require.NoError(t, err)
		return closeOnCleanup(t, s)
	}})

	if dsn := os.Getenv("DICETABLES_TEST_POSTGRES_DSN"); dsn != "" {
		out = append(out, backend{name: "postgres", open: func(t *testing.T) Store {
			s, err := OpenSQL(context.Background(), SQLConfig{Dialect: BackendPostgres, DSN: dsn, Collection: uniqueName(t)})
			require.NoError(t, err)
			return dropOnCleanup(t, s)
		}})
	}
	if uri := os.Getenv("DICETABLES_TEST_MONGO_URI"); uri != "" {
		out = append(out, backend{name: "mongo", open: func(t *testing.T) Store {
			s, err := OpenMongo(context.Background(), MongoConfig{URI: uri, Database: "dicetables_test", Collection: uniqueName(t)})
			require.NoError(t, err)
			return dropOnCleanup(t, s)
		}})
	}
	return out
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.open(t))
		})
	}
}

func insertAll(t *testing.T, s Store, docs ...Document) []docid.ID {
	t.Helper()
	ids := make([]docid.ID, len(docs))
	for i, d := range docs {
		id, err := s.Insert(context.Background(), d)
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

func idsOf(t *testing.T, docs []Document) []docid.ID {
	t.Helper()
	out := make([]docid.ID, len(docs))
	for i, d := range docs {
		id, ok := d.ID()
		require.True(t, ok, "document %v has no id", d)
		out[i] = id
	}
	return out
}

func TestConformance_InsertAndFindOrdered(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		ids := insertAll(t, s,
			Document{"group": "Die(6)", "score": 6, "Die(6)": 1},
			Document{"group": "Die(6)", "score": 12, "Die(6)": 2},
			Document{"group": "Die(6)", "score": 18, "Die(6)": 3},
		)
		assert.Less(t, ids[0].Compare(ids[1]), 0)
		assert.Less(t, ids[1].Compare(ids[2]), 0)

		docs, err := s.Find(ctx, nil, nil)
		require.NoError(t, err)
		require.Len(t, docs, 3)
		assert.Equal(t, ids, idsOf(t, docs))
		assert.Equal(t, "Die(6)", docs[0]["group"])
		assert.Equal(t, int64(12), docs[1]["score"])

		doc, ok, err := s.FindOne(ctx, Filter{"score": Gte(10)}, nil)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, ids[1], idsOf(t, []Document{doc})[0])

		byID, ok, err := s.FindOne(ctx, Filter{IDField: ids[2]}, Projection{"score": true})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, Document{"score": int64(18)}, byID)
	})
}

func TestConformance_FilterOperators(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		insertAll(t, s,
			Document{"group": "a", "score": 1},
			Document{"group": "a", "score": 5},
			Document{"group": "b", "score": 9},
		)

		count := func(f Filter) int {
			docs, err := s.Find(ctx, f, Projection{"score": true})
			require.NoError(t, err)
			return len(docs)
		}
		assert.Equal(t, 2, count(Filter{"group": "a"}))
		assert.Equal(t, 1, count(Filter{"group": "a", "score": Lt(5)}))
		assert.Equal(t, 2, count(Filter{"group": "a", "score": Lte(5)}))
		assert.Equal(t, 1, count(Filter{"score": Gt(5)}))
		assert.Equal(t, 2, count(Filter{"score": Gte(5)}))
		assert.Equal(t, 2, count(Filter{"score": Ne(9)}))
		assert.Equal(t, 0, count(Filter{"group": "c"}))

		assert.Equal(t, 0, count(Filter{"missing": 1}), "unknown column matches nothing")
		assert.Equal(t, 0, count(Filter{"missing": Ne(1)}), "unknown column matches nothing")

		_, err := s.Find(ctx, Filter{"score": Cond{Op: "$regex", Value: "x"}}, nil)
		assert.ErrorIs(t, err, ErrBadOperator)
	})
}

func TestConformance_Projection(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		ids := insertAll(t, s, Document{"group": "g", "score": 3, "serialized": []byte{1, 2, 3}})

		docs, err := s.Find(ctx, nil, Projection{"group": true})
		require.NoError(t, err)
		assert.Equal(t, []Document{{"group": "g"}}, docs)

		docs, err = s.Find(ctx, nil, Projection{IDField: true, "score": true})
		require.NoError(t, err)
		assert.Equal(t, []Document{{IDField: ids[0], "score": int64(3)}}, docs)

		docs, err = s.Find(ctx, nil, Projection{"serialized": false, IDField: false})
		require.NoError(t, err)
		assert.Equal(t, []Document{{"group": "g", "score": int64(3)}}, docs)

		docs, err = s.Find(ctx, nil, Projection{"serialized": true})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, []byte{1, 2, 3}, docs[0]["serialized"])

		docs, err = s.Find(ctx, nil, Projection{"nothing_here": true})
		require.NoError(t, err)
		assert.Empty(t, docs, "documents left empty by a projection are omitted")

		_, err = s.Find(ctx, nil, Projection{"group": true, "score": false})
		assert.ErrorIs(t, err, ErrBadProjection)
		_, _, err = s.FindOne(ctx, nil, Projection{"group": true, "score": false})
		assert.ErrorIs(t, err, ErrBadProjection)
	})
}

func TestConformance_InsertCopiesAndAssignsID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		supplied := docid.New()
		blob := []byte("abc")
		doc := Document{IDField: supplied, "serialized": blob, "score": 1}

		id, err := s.Insert(ctx, doc)
		require.NoError(t, err)
		assert.NotEqual(t, supplied, id)

		blob[0] = 'X'
		doc["score"] = 99

		got, ok, err := s.FindOne(ctx, Filter{IDField: id}, nil)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("abc"), got["serialized"])
		assert.Equal(t, int64(1), got["score"])

		_, ok, err = s.FindOne(ctx, Filter{IDField: supplied}, nil)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestConformance_Indices(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		has, err := s.HasIndex(ctx, "group", "score")
		require.NoError(t, err)
		assert.False(t, has)

		require.NoError(t, s.DeclareColumn(ctx, "group", KindText))
		require.NoError(t, s.DeclareColumn(ctx, "score", KindInt))
		require.NoError(t, s.CreateIndex(ctx, "group", "score"))
		require.NoError(t, s.CreateIndex(ctx, "group", "score"))

		has, err = s.HasIndex(ctx, "group", "score")
		require.NoError(t, err)
		assert.True(t, has)
		has, err = s.HasIndex(ctx, "score", "group")
		require.NoError(t, err)
		assert.False(t, has, "column order matters")

		info, err := s.Info(ctx)
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"group", "score"}}, info.Indices)
		assert.Contains(t, info.Collections, info.Collection)
	})
}

func TestConformance_ResetAndDrop(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		empty, err := s.IsEmpty(ctx)
		require.NoError(t, err)
		assert.True(t, empty)

		insertAll(t, s, Document{"score": 1}, Document{"score": 2})
		require.NoError(t, s.CreateIndex(ctx, "score"))
		empty, err = s.IsEmpty(ctx)
		require.NoError(t, err)
		assert.False(t, empty)

		require.NoError(t, s.Reset(ctx))
		empty, err = s.IsEmpty(ctx)
		require.NoError(t, err)
		assert.True(t, empty)
		has, err := s.HasIndex(ctx, "score")
		require.NoError(t, err)
		assert.False(t, has)
		info, err := s.Info(ctx)
		require.NoError(t, err)
		assert.Contains(t, info.Collections, info.Collection)

		require.NoError(t, s.Drop(ctx))
		info, err = s.Info(ctx)
		require.NoError(t, err)
		assert.NotContains(t, info.Collections, info.Collection)
		docs, err := s.Find(ctx, nil, nil)
		require.NoError(t, err)
		assert.Empty(t, docs)

		insertAll(t, s, Document{"score": 3})
		docs, err = s.Find(ctx, Filter{"score": 3}, nil)
		require.NoError(t, err)
		assert.Len(t, docs, 1)
	})
}

func TestConformance_Closed(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Close(ctx))
		_, err := s.Find(ctx, nil, nil)
		assert.ErrorIs(t, err, ErrClosed)
		_, err = s.Insert(ctx, Document{"a": 1})
		assert.ErrorIs(t, err, ErrClosed)
	})
}

// ----- persistence across connections -----

func TestReconnectSeesData(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	mr := miniredis.RunT(t)

	cases := []struct {
		name string
		open func(t *testing.T) Store
	}{
		{"memory", func(t *testing.T) Store {
			return NewMemoryStore("reconnect_"+filepath.Base(dir), "tables")
		}},
		{"sqlite_file", func(t *testing.T) Store {
			s, err := OpenSQL(ctx, SQLConfig{Dialect: BackendSQLite, DSN: filepath.Join(dir, "tables.db"), Collection: "tables"})
			require.NoError(t, err)
			return s
		}},
		{"badger_dir", func(t *testing.T) Store {
			s, err := OpenBadger(ctx, BadgerConfig{Path: filepath.Join(dir, "badger"), Collection: "tables"})
			require.NoError(t, err)
			return s
		}},
		{"redis", func(t *testing.T) Store {
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			s, err := NewRedisStore(ctx, client, RedisConfig{Prefix: "reconnect", Collection: "tables", OwnsClient: true})
			require.NoError(t, err)
			return s
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			first := tc.open(t)
			require.NoError(t, first.DeclareColumn(ctx, "group", KindText))
			require.NoError(t, first.DeclareColumn(ctx, "score", KindInt))
			require.NoError(t, first.CreateIndex(ctx, "group", "score"))
			ids := insertAll(t, first,
				Document{"group": "Die(6)", "score": 30, "Die(6)": 5},
				Document{"group": "Die(6)", "score": 60, "Die(6)": 10},
			)
			require.NoError(t, first.Close(ctx))

			second := tc.open(t)
			defer second.Close(ctx)

			docs, err := second.Find(ctx, Filter{"group": "Die(6)", "score": Lte(60)}, Projection{IDField: true, "score": true})
			require.NoError(t, err)
			assert.Equal(t, []Document{
				{IDField: ids[0], "score": int64(30)},
				{IDField: ids[1], "score": int64(60)},
			}, docs)

			has, err := second.HasIndex(ctx, "group", "score")
			require.NoError(t, err)
			assert.True(t, has)
		})
	}
}
