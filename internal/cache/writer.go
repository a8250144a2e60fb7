package cache

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"dicetables-db/internal/dice"
	"dicetables-db/internal/metrics"
	"dicetables-db/pkg/logging/logging"
)

var errWriterClosed = errors.New("cache: writer closed")

// job is one save list, or a flush barrier when flushed is set.
type job struct {
	ctx     context.Context
	tables  []dice.Table
	flushed chan struct{}
}

// writer persists save lists on a single goroutine. Producers never wait
// for it: a full queue drops the save list.
type writer struct {
	cache  *Cache
	logger *zap.Logger

	mu      sync.RWMutex
	closed  bool
	jobs    chan job
	stopped chan struct{}
	once    sync.Once
}

func newWriter(c *Cache, size int) *writer {
	w := &writer{
		cache:   c,
		logger:  c.logger.Named("writer"),
		jobs:    make(chan job, size),
		stopped: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *writer) run() {
	defer close(w.stopped)
	for j := range w.jobs {
		if j.flushed != nil {
			close(j.flushed)
			continue
		}
		w.persist(j.ctx, j.tables)
	}
}

// enqueue hands tables to the writer. The job keeps ctx's values but not
// its cancellation: a write, once scheduled, runs to completion.
func (w *writer) enqueue(ctx context.Context, tables []dice.Table) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	logger := logging.FromContextOr(ctx, w.logger)
	if w.closed {
		metrics.PersistDroppedTotal.Inc()
		logger.Warn("writer closed, save list dropped", zap.Int("tables", len(tables)))
		return
	}
	select {
	case w.jobs <- job{ctx: context.WithoutCancel(ctx), tables: tables}:
	default:
		metrics.PersistDroppedTotal.Inc()
		logger.Warn("write queue full, save list dropped",
			zap.Int("tables", len(tables)),
			zap.Int("queue_size", cap(w.jobs)),
		)
	}
}

// flush blocks until every job queued before it has been handled.
func (w *writer) flush(ctx context.Context) error {
	flushed := make(chan struct{})

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return errWriterClosed
	}
	select {
	case w.jobs <- job{flushed: flushed}:
		w.mu.RUnlock()
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting jobs and waits for the queue to drain.
func (w *writer) close(ctx context.Context) error {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.jobs)
		w.mu.Unlock()
	})
	select {
	case <-w.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *writer) persist(ctx context.Context, tables []dice.Table) {
	ctx, span := tracer.Start(ctx, "cache.persist")
	defer span.End()
	span.SetAttributes(attribute.Int("dicetables.save_list", len(tables)))

	logger := logging.FromContextOr(ctx, w.logger)
	var written, failed int
	for _, t := range tables {
		if t.IsIdentity() {
			metrics.PersistSkippedTotal.WithLabelValues("identity").Inc()
			continue
		}
		exists, err := w.cache.HasTable(ctx, t)
		if err != nil {
			failed++
			metrics.PersistFailuresTotal.Inc()
			logger.Warn("persist lookup failed", zap.Stringer("table", t), zap.Error(err))
			continue
		}
		if exists {
			metrics.PersistSkippedTotal.WithLabelValues("exists").Inc()
			continue
		}
		id, err := w.cache.AddTable(ctx, t)
		if err != nil {
			failed++
			metrics.PersistFailuresTotal.Inc()
			logger.Warn("persist failed", zap.Stringer("table", t), zap.Error(err))
			continue
		}
		written++
		metrics.TablesPersistedTotal.Inc()
		logger.Debug("persisted", zap.Stringer("table", t), zap.Stringer("id", id))
	}

	span.SetAttributes(attribute.Int("dicetables.written", written))
	if failed > 0 {
		span.SetStatus(codes.Error, "some tables were not written")
	}
}
