package store

import (
	"context"
	"sync"

	"dicetables-db/internal/docid"
)

type syncStore struct {
	mu    sync.Mutex
	inner Store
}

// Synchronized serializes every call into inner, so one connection can be
// shared by the request path and the background writer.
func Synchronized(inner Store) Store {
	if s, ok := inner.(*syncStore); ok {
		return s
	}
	return &syncStore{inner: inner}
}

func (s *syncStore) Find(ctx context.Context, f Filter, p Projection) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Find(ctx, f, p)
}

func (s *syncStore) FindOne(ctx context.Context, f Filter, p Projection) (Document, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.FindOne(ctx, f, p)
}

func (s *syncStore) Insert(ctx context.Context, doc Document) (docid.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Insert(ctx, doc)
}

func (s *syncStore) DeclareColumn(ctx context.Context, col string, kind Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.DeclareColumn(ctx, col, kind)
}

func (s *syncStore) CreateIndex(ctx context.Context, cols ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.CreateIndex(ctx, cols...)
}

func (s *syncStore) HasIndex(ctx context.Context, cols ...string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.HasIndex(ctx, cols...)
}

func (s *syncStore) IsEmpty(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.IsEmpty(ctx)
}

func (s *syncStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Reset(ctx)
}

func (s *syncStore) Drop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Drop(ctx)
}

func (s *syncStore) Info(ctx context.Context) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Info(ctx)
}

func (s *syncStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Close(ctx)
}
