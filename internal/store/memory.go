package store

import (
	"context"
	"sync"
	"sync/atomic"

	"dicetables-db/internal/docid"
)

type memoryCollection struct {
	docs    []Document
	indices [][]string
}

type memoryDatabase struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

// named in-process databases; reconnecting by name sees the same data
var memoryDatabases = struct {
	mu     sync.Mutex
	byName map[string]*memoryDatabase
}{byName: make(map[string]*memoryDatabase)}

func memoryDatabaseNamed(name string) *memoryDatabase {
	if name == "" {
		return &memoryDatabase{collections: make(map[string]*memoryCollection)}
	}
	memoryDatabases.mu.Lock()
	defer memoryDatabases.mu.Unlock()
	db, ok := memoryDatabases.byName[name]
	if !ok {
		db = &memoryDatabase{collections: make(map[string]*memoryCollection)}
		memoryDatabases.byName[name] = db
	}
	return db
}

// MemoryStore keeps documents in process memory.
type MemoryStore struct {
	db         *memoryDatabase
	database   string
	collection string
	closed     atomic.Bool
}

// NewMemoryStore connects to collection in the named in-process database.
// An empty database name gets a private database.
func NewMemoryStore(database, collection string) *MemoryStore {
	s := &MemoryStore{
		db:         memoryDatabaseNamed(database),
		database:   database,
		collection: collection,
	}
	s.db.mu.Lock()
	s.ensureCollection()
	s.db.mu.Unlock()
	return s
}

// callers hold db.mu for writing
func (s *MemoryStore) ensureCollection() *memoryCollection {
	c, ok := s.db.collections[s.collection]
	if !ok {
		c = &memoryCollection{}
		s.db.collections[s.collection] = c
	}
	return c
}

func (s *MemoryStore) check(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

func (s *MemoryStore) find(ctx context.Context, f Filter, p Projection, limit int) ([]Document, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	mode, err := checkQuery(f, p)
	if err != nil {
		return nil, err
	}

	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	c, ok := s.db.collections[s.collection]
	if !ok {
		return nil, nil
	}
	return selectDocuments(c.docs, f, p, mode, limit), nil
}

func (s *MemoryStore) Find(ctx context.Context, f Filter, p Projection) ([]Document, error) {
	return s.find(ctx, f, p, 0)
}

func (s *MemoryStore) FindOne(ctx context.Context, f Filter, p Projection) (Document, bool, error) {
	docs, err := s.find(ctx, f, p, 1)
	if err != nil || len(docs) == 0 {
		return nil, false, err
	}
	return docs[0], true, nil
}

func (s *MemoryStore) Insert(ctx context.Context, doc Document) (docid.ID, error) {
	if err := s.check(ctx); err != nil {
		return docid.ID{}, err
	}
	// Copy to decouple from caller's map
	stored := copyDocument(doc)
	id := docid.New()
	stored[IDField] = id

	s.db.mu.Lock()
	c := s.ensureCollection()
	c.docs = append(c.docs, stored)
	s.db.mu.Unlock()
	return id, nil
}

func (s *MemoryStore) DeclareColumn(ctx context.Context, _ string, _ Kind) error {
	return s.check(ctx)
}

func (s *MemoryStore) CreateIndex(ctx context.Context, cols ...string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	c := s.ensureCollection()
	if !containsIndex(c.indices, cols) {
		c.indices = append(c.indices, append([]string(nil), cols...))
		sortIndices(c.indices)
	}
	return nil
}

func (s *MemoryStore) HasIndex(ctx context.Context, cols ...string) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	c, ok := s.db.collections[s.collection]
	return ok && containsIndex(c.indices, cols), nil
}

func (s *MemoryStore) IsEmpty(ctx context.Context) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	c, ok := s.db.collections[s.collection]
	return !ok || len(c.docs) == 0, nil
}

func (s *MemoryStore) Reset(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.db.mu.Lock()
	s.db.collections[s.collection] = &memoryCollection{}
	s.db.mu.Unlock()
	return nil
}

func (s *MemoryStore) Drop(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.db.mu.Lock()
	delete(s.db.collections, s.collection)
	s.db.mu.Unlock()
	return nil
}

func (s *MemoryStore) Info(ctx context.Context) (Info, error) {
	if err := s.check(ctx); err != nil {
		return Info{}, err
	}
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	info := Info{
		Backend:     BackendMemory,
		Database:    s.database,
		Collections: sortedKeys(s.db.collections),
		Collection:  s.collection,
		Indices:     [][]string{},
	}
	if c, ok := s.db.collections[s.collection]; ok {
		for _, ix := range c.indices {
			info.Indices = append(info.Indices, append([]string(nil), ix...))
		}
	}
	return info, nil
}

// Close detaches this handle. The named database stays available to new
// connections.
func (s *MemoryStore) Close(context.Context) error {
	s.closed.Store(true)
	return nil
}
