// Package storetest holds helpers for tests that need to observe how a
// store.Store is used.
package storetest

import (
	"context"
	"sync/atomic"

	"dicetables-db/internal/docid"
	"dicetables-db/internal/store"
)

// Counting wraps a store and counts reads and writes.
type Counting struct {
	store.Store

	finds    atomic.Int64
	findOnes atomic.Int64
	inserts  atomic.Int64
}

func NewCounting(inner store.Store) *Counting {
	return &Counting{Store: inner}
}

func (c *Counting) Find(ctx context.Context, f store.Filter, p store.Projection) ([]store.Document, error) {
	c.finds.Add(1)
	return c.Store.Find(ctx, f, p)
}

func (c *Counting) FindOne(ctx context.Context, f store.Filter, p store.Projection) (store.Document, bool, error) {
	c.findOnes.Add(1)
	return c.Store.FindOne(ctx, f, p)
}

func (c *Counting) Insert(ctx context.Context, doc store.Document) (docid.ID, error) {
	c.inserts.Add(1)
	return c.Store.Insert(ctx, doc)
}

func (c *Counting) Finds() int64    { return c.finds.Load() }
func (c *Counting) FindOnes() int64 { return c.findOnes.Load() }
func (c *Counting) Inserts() int64  { return c.inserts.Load() }

// ResetCounts zeroes every counter.
func (c *Counting) ResetCounts() {
	c.finds.Store(0)
	c.findOnes.Store(0)
	c.inserts.Store(0)
}
