package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"

	"dicetables-db/internal/docid"
)

// mgetBatch bounds the keys fetched per MGET round trip.
const mgetBatch = 256

// RedisStore keeps a collection in Redis: one bson-encoded string per
// document, a sorted set of ids (all score 0, so ordered by id) and a
// metadata key.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	collection string
	ownsClient bool
	closed     atomic.Bool
}

type RedisConfig struct {
	Prefix     string
	Collection string

	// OwnsClient makes Close close the client too.
	OwnsClient bool
}

// NewRedisStore connects to the collection, creating it when missing.
func NewRedisStore(ctx context.Context, client *redis.Client, config RedisConfig) (*RedisStore, error) {
	s := &RedisStore{
		client:     client,
		prefix:     config.Prefix,
		collection: config.Collection,
		ownsClient: config.OwnsClient,
	}
	if err := s.setUp(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// key builds the final Redis key with prefix.
func (s *RedisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisStore) collectionsKey() string { return s.key("collections") }
func (s *RedisStore) metaKey() string        { return s.key("c:" + s.collection + ":meta") }
func (s *RedisStore) idsKey() string         { return s.key("c:" + s.collection + ":ids") }

func (s *RedisStore) docKey(hexID string) string {
	return s.key("c:" + s.collection + ":d:" + hexID)
}

func freshMeta() ([]byte, error) {
	return bson.Marshal(collectionMeta{Format: metaFormat, Indices: [][]string{}})
}

func (s *RedisStore) check(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	return nil
}

func (s *RedisStore) setUp(ctx context.Context) error {
	if _, err := s.meta(ctx); err != nil {
		return err
	}
	raw, err := freshMeta()
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, s.metaKey(), raw, 0)
		pipe.SAdd(ctx, s.collectionsKey(), s.collection)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis create collection: %w", err)
	}
	return nil
}

// meta returns the collection metadata, or a zero value when the collection
// does not exist.
func (s *RedisStore) meta(ctx context.Context) (collectionMeta, error) {
	raw, err := s.client.Get(ctx, s.metaKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return collectionMeta{Format: metaFormat}, nil
	}
	if err != nil {
		return collectionMeta{}, fmt.Errorf("redis get meta: %w", err)
	}
	return unmarshalMeta(raw)
}

func (s *RedisStore) find(ctx context.Context, f Filter, p Projection, limit int) ([]Document, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	mode, err := checkQuery(f, p)
	if err != nil {
		return nil, err
	}

	ids, err := s.client.ZRange(ctx, s.idsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list ids: %w", err)
	}

	var out []Document
	for start := 0; start < len(ids); start += mgetBatch {
		end := min(start+mgetBatch, len(ids))
		keys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, s.docKey(id))
		}
		vals, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("redis mget failed: %w", err)
		}
		for _, v := range vals {
			raw, ok := v.(string)
			if !ok {
				// id without a document: a concurrent drop
				continue
			}
			doc, err := unmarshalDocument([]byte(raw))
			if err != nil {
				return nil, err
			}
			if !matches(doc, f) {
				continue
			}
			if shaped := project(doc, p, mode); shaped != nil {
				out = append(out, shaped)
				if limit > 0 && len(out) == limit {
					return out, nil
				}
			}
		}
	}
	return out, nil
}

func (s *RedisStore) Find(ctx context.Context, f Filter, p Projection) ([]Document, error) {
	return s.find(ctx, f, p, 0)
}

func (s *RedisStore) FindOne(ctx context.Context, f Filter, p Projection) (Document, bool, error) {
	docs, err := s.find(ctx, f, p, 1)
	if err != nil || len(docs) == 0 {
		return nil, false, err
	}
	return docs[0], true, nil
}

func (s *RedisStore) Insert(ctx context.Context, doc Document) (docid.ID, error) {
	if err := s.check(ctx); err != nil {
		return docid.ID{}, err
	}
	stored := copyDocument(doc)
	id := docid.New()
	stored[IDField] = id
	raw, err := marshalDocument(stored)
	if err != nil {
		return docid.ID{}, err
	}
	meta, err := freshMeta()
	if err != nil {
		return docid.ID{}, err
	}

	hexID := id.String()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, s.metaKey(), meta, 0)
		pipe.SAdd(ctx, s.collectionsKey(), s.collection)
		pipe.Set(ctx, s.docKey(hexID), raw, 0)
		pipe.ZAdd(ctx, s.idsKey(), redis.Z{Score: 0, Member: hexID})
		return nil
	})
	if err != nil {
		return docid.ID{}, fmt.Errorf("redis insert failed: %w", err)
	}
	return id, nil
}

func (s *RedisStore) DeclareColumn(ctx context.Context, _ string, _ Kind) error {
	return s.check(ctx)
}

// CreateIndex only records the index; lookups always scan the collection.
func (s *RedisStore) CreateIndex(ctx context.Context, cols ...string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	meta, err := s.meta(ctx)
	if err != nil {
		return err
	}
	if containsIndex(meta.Indices, cols) {
		return nil
	}
	meta.Indices = append(meta.Indices, append([]string(nil), cols...))
	sortIndices(meta.Indices)
	raw, err := bson.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.metaKey(), raw, 0)
		pipe.SAdd(ctx, s.collectionsKey(), s.collection)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set meta: %w", err)
	}
	return nil
}

func (s *RedisStore) HasIndex(ctx context.Context, cols ...string) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	meta, err := s.meta(ctx)
	if err != nil {
		return false, err
	}
	return containsIndex(meta.Indices, cols), nil
}

func (s *RedisStore) IsEmpty(ctx context.Context) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	n, err := s.client.ZCard(ctx, s.idsKey()).Result()
	if err != nil {
		return false, fmt.Errorf("redis zcard failed: %w", err)
	}
	return n == 0, nil
}

func (s *RedisStore) Reset(ctx context.Context) error {
	if err := s.Drop(ctx); err != nil {
		return err
	}
	return s.setUp(ctx)
}

func (s *RedisStore) Drop(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	ids, err := s.client.ZRange(ctx, s.idsKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("redis list ids: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for start := 0; start < len(ids); start += mgetBatch {
			end := min(start+mgetBatch, len(ids))
			keys := make([]string, 0, end-start)
			for _, id := range ids[start:end] {
				keys = append(keys, s.docKey(id))
			}
			pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, s.idsKey(), s.metaKey())
		pipe.SRem(ctx, s.collectionsKey(), s.collection)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis drop failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Info(ctx context.Context) (Info, error) {
	if err := s.check(ctx); err != nil {
		return Info{}, err
	}
	names, err := s.client.SMembers(ctx, s.collectionsKey()).Result()
	if err != nil {
		return Info{}, fmt.Errorf("redis list collections: %w", err)
	}
	sort.Strings(names)
	meta, err := s.meta(ctx)
	if err != nil {
		return Info{}, err
	}
	indices := meta.Indices
	if indices == nil {
		indices = [][]string{}
	}
	opts := s.client.Options()
	return Info{
		Backend:     BackendRedis,
		Database:    fmt.Sprintf("%s/%d", opts.Addr, opts.DB),
		Collections: names,
		Collection:  s.collection,
		Indices:     indices,
	}, nil
}

// Ping checks if Redis connection is healthy.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close(context.Context) error {
	if s.closed.Swap(true) || !s.ownsClient {
		return nil
	}
	return s.client.Close()
}
