package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"dicetables-db/internal/docid"
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Empty means in-memory.
	Path       string
	Collection string
	Logger     *zap.Logger
}

// BadgerStore keeps each collection under its own key prefix in an embedded
// badger database. Documents are bson-encoded under keys that end in their
// id bytes, so key order is _id order.
type BadgerStore struct {
	db         *badger.DB
	path       string
	collection string
	closed     atomic.Bool
}

// badgerLogger adapts zap to badger's Logger interface.
type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.logger.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.logger.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.logger.Debugf(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.logger.Debugf(format, args...) }

// OpenBadger opens (or creates) the database and connects to the collection.
func OpenBadger(ctx context.Context, cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.Path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.Named("badger").Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &BadgerStore{db: db, path: cfg.Path, collection: cfg.Collection}
	if err := s.setUp(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BadgerStore) metaKey() []byte {
	return []byte("m\x00" + s.collection)
}

func (s *BadgerStore) docPrefix() []byte {
	return []byte("d\x00" + s.collection + "\x00")
}

func (s *BadgerStore) docKey(id docid.ID) []byte {
	return append(s.docPrefix(), id[:]...)
}

// setUp creates the collection's metadata or checks the existing one.
func (s *BadgerStore) setUp(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := s.readMeta(txn)
		return err
	})
}

// readMeta loads the collection's metadata, writing a fresh record when the
// collection does not exist yet.
func (s *BadgerStore) readMeta(txn *badger.Txn) (collectionMeta, error) {
	item, err := txn.Get(s.metaKey())
	if errors.Is(err, badger.ErrKeyNotFound) {
		meta := collectionMeta{Format: metaFormat, Indices: [][]string{}}
		return meta, s.writeMeta(txn, meta)
	}
	if err != nil {
		return collectionMeta{}, fmt.Errorf("badger get meta: %w", err)
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return collectionMeta{}, fmt.Errorf("badger read meta: %w", err)
	}
	return unmarshalMeta(raw)
}

func (s *BadgerStore) writeMeta(txn *badger.Txn, meta collectionMeta) error {
	raw, err := bson.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	if err := txn.Set(s.metaKey(), raw); err != nil {
		return fmt.Errorf("badger set meta: %w", err)
	}
	return nil
}

func (s *BadgerStore) check(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

func (s *BadgerStore) find(ctx context.Context, f Filter, p Projection, limit int) ([]Document, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	mode, err := checkQuery(f, p)
	if err != nil {
		return nil, err
	}

	var out []Document
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.docPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("badger read document: %w", err)
			}
			doc, err := unmarshalDocument(raw)
			if err != nil {
				return err
			}
			if !matches(doc, f) {
				continue
			}
			if shaped := project(doc, p, mode); shaped != nil {
				out = append(out, shaped)
				if limit > 0 && len(out) == limit {
					return nil
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) Find(ctx context.Context, f Filter, p Projection) ([]Document, error) {
	return s.find(ctx, f, p, 0)
}

func (s *BadgerStore) FindOne(ctx context.Context, f Filter, p Projection) (Document, bool, error) {
	docs, err := s.find(ctx, f, p, 1)
	if err != nil || len(docs) == 0 {
		return nil, false, err
	}
	return docs[0], true, nil
}

func (s *BadgerStore) Insert(ctx context.Context, doc Document) (docid.ID, error) {
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

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := s.readMeta(txn); err != nil {
			return err
		}
		return txn.Set(s.docKey(id), raw)
	})
	if err != nil {
		return docid.ID{}, fmt.Errorf("badger insert: %w", err)
	}
	return id, nil
}

func (s *BadgerStore) DeclareColumn(ctx context.Context, _ string, _ Kind) error {
	return s.check(ctx)
}

// CreateIndex only records the index; lookups always scan the collection.
func (s *BadgerStore) CreateIndex(ctx context.Context, cols ...string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		meta, err := s.readMeta(txn)
		if err != nil {
			return err
		}
		if containsIndex(meta.Indices, cols) {
			return nil
		}
		meta.Indices = append(meta.Indices, append([]string(nil), cols...))
		sortIndices(meta.Indices)
		return s.writeMeta(txn, meta)
	})
}

func (s *BadgerStore) indices() ([][]string, error) {
	var out [][]string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.metaKey())
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		meta, err := unmarshalMeta(raw)
		out = meta.Indices
		return err
	})
	return out, err
}

func (s *BadgerStore) HasIndex(ctx context.Context, cols ...string) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	indices, err := s.indices()
	if err != nil {
		return false, err
	}
	return containsIndex(indices, cols), nil
}

func (s *BadgerStore) IsEmpty(ctx context.Context) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	empty := true
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.docPrefix()
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Rewind()
		empty = !it.Valid()
		return nil
	})
	return empty, err
}

func (s *BadgerStore) Reset(ctx context.Context) error {
	if err := s.Drop(ctx); err != nil {
		return err
	}
	return s.setUp(ctx)
}

func (s *BadgerStore) Drop(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if err := s.db.DropPrefix(s.docPrefix()); err != nil {
		return fmt.Errorf("badger drop documents: %w", err)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.metaKey())
	})
	if err != nil {
		return fmt.Errorf("badger drop meta: %w", err)
	}
	return nil
}

func (s *BadgerStore) collections() ([]string, error) {
	names := []string{}
	prefix := []byte("m\x00")
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(bytes.TrimPrefix(it.Item().Key(), prefix)))
		}
		return nil
	})
	return names, err
}

func (s *BadgerStore) Info(ctx context.Context) (Info, error) {
	if err := s.check(ctx); err != nil {
		return Info{}, err
	}
	names, err := s.collections()
	if err != nil {
		return Info{}, fmt.Errorf("badger list collections: %w", err)
	}
	indices, err := s.indices()
	if err != nil {
		return Info{}, err
	}
	if indices == nil {
		indices = [][]string{}
	}
	database := s.path
	if database == "" {
		database = ":memory:"
	}
	return Info{
		Backend:     BackendBadger,
		Database:    database,
		Collections: names,
		Collection:  s.collection,
		Indices:     indices,
	}, nil
}

func (s *BadgerStore) Close(context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
