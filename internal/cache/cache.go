// Package cache answers dice-table requests from a store of previously
// built tables, building only what is missing and writing useful
// intermediates back in the background.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"dicetables-db/internal/builder"
	"dicetables-db/internal/codec"
	"dicetables-db/internal/dice"
	"dicetables-db/internal/docid"
	"dicetables-db/internal/finder"
	"dicetables-db/internal/metrics"
	"dicetables-db/internal/prep"
	"dicetables-db/internal/store"
	"dicetables-db/pkg/logging/logging"
)

// DefaultQueueSize bounds the save lists waiting for the writer.
const DefaultQueueSize = 64

var ErrNotFound = errors.New("cache: table not found")

var tracer = otel.Tracer("dicetables/cache")

type Config struct {
	StepSize    int
	CloseEnough float64
	QueueSize   int
}

func (c Config) WithDefaults() Config {
	if c.StepSize <= 0 {
		c.StepSize = builder.DefaultStep
	}
	if c.CloseEnough <= 0 || c.CloseEnough > 1 {
		c.CloseEnough = finder.DefaultCloseEnough
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	return c
}

// Cache owns one collection of a store for its lifetime.
type Cache struct {
	store   store.Store
	cfg     Config
	builder *builder.Builder
	writer  *writer
	logger  *zap.Logger
	loads   singleflight.Group
}

// New takes ownership of s, makes sure the (group, score) index exists and
// starts the background writer.
func New(ctx context.Context, s store.Store, cfg Config, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.WithDefaults()
	s = store.Synchronized(s)

	c := &Cache{
		store:   s,
		cfg:     cfg,
		builder: builder.New(cfg.StepSize),
		logger:  logger.Named("cache"),
	}
	if err := c.ensureIndex(ctx); err != nil {
		return nil, err
	}
	c.writer = newWriter(c, cfg.QueueSize)
	return c, nil
}

func (c *Cache) ensureIndex(ctx context.Context) error {
	columns := []struct {
		name string
		kind store.Kind
	}{
		{prep.GroupField, store.KindText},
		{prep.ScoreField, store.KindInt},
		{prep.SerializedField, store.KindOpaque},
	}
	for _, col := range columns {
		if err := c.store.DeclareColumn(ctx, col.name, col.kind); err != nil {
			return fmt.Errorf("cache: declare %s: %w", col.name, err)
		}
	}

	ok, err := c.store.HasIndex(ctx, prep.GroupField, prep.ScoreField)
	if err != nil {
		return fmt.Errorf("cache: check index: %w", err)
	}
	if ok {
		return nil
	}
	if err := c.store.CreateIndex(ctx, prep.GroupField, prep.ScoreField); err != nil {
		return fmt.Errorf("cache: create index: %w", err)
	}
	c.logger.Info("created index", zap.Strings("columns", []string{prep.GroupField, prep.ScoreField}))
	return nil
}

func (c *Cache) Config() Config { return c.cfg }

// Process returns the table for request. The closest stored table is grown
// to the request's dice without modifiers, the modifiers are applied as one
// shift, and the intermediates are queued for the writer.
//
// When progress is not nil it receives one event per intermediate and then
// a Done event, also on failure. Process never closes it.
func (c *Cache) Process(ctx context.Context, request dice.Record, progress chan<- builder.Progress) (dice.Table, error) {
	start := time.Now()
	defer func() { metrics.ProcessSeconds.Observe(time.Since(start).Seconds()) }()
	defer done(ctx, progress)

	ctx, span := tracer.Start(ctx, "cache.process")
	defer span.End()

	offset, canonical := prep.Canonicalize(request)
	span.SetAttributes(
		attribute.String("dicetables.group", prep.GroupKey(prep.Labels(canonical))),
		attribute.Int("dicetables.score", prep.Score(canonical)),
		attribute.Int("dicetables.offset", offset),
	)

	base, lookup, err := c.base(ctx, canonical)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return dice.Table{}, err
	}
	metrics.LookupsTotal.WithLabelValues(lookup).Inc()

	final, saveList, err := c.builder.Build(ctx, canonical, base, progress)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return dice.Table{}, err
	}
	if len(saveList) > 0 {
		c.writer.enqueue(ctx, saveList)
	}
	span.SetAttributes(
		attribute.String("dicetables.lookup", lookup),
		attribute.Int("dicetables.save_list", len(saveList)),
	)

	logging.FromContextOr(ctx, c.logger).Info("cache_process",
		zap.String("request", request.String()),
		zap.String("lookup", lookup), // exact | approximate | miss | empty
		zap.Int("offset", offset),
		zap.Int("save_list", len(saveList)),
		zap.Float64("latency_ms", float64(time.Since(start).Microseconds())/1000.0),
	)
	return final.Shift(offset).WithRecord(request), nil
}

func done(ctx context.Context, progress chan<- builder.Progress) {
	if progress == nil {
		return
	}
	select {
	case progress <- builder.Progress{Done: true}:
	case <-ctx.Done():
	}
}

// base finds the table to build from. A failed read costs only extra
// building, so it falls back to the identity table.
func (c *Cache) base(ctx context.Context, canonical dice.Record) (dice.Table, string, error) {
	if canonical.IsEmpty() {
		return dice.NewTable(), "empty", nil
	}

	f, err := finder.New(c.store, canonical, finder.Options{CloseEnough: c.cfg.CloseEnough})
	if err != nil {
		return dice.Table{}, "", err
	}
	m, ok, err := f.Find(ctx)
	if err == nil && ok {
		var t dice.Table
		t, err = c.GetTable(ctx, m.ID)
		if err == nil {
			if m.Exact {
				return t, "exact", nil
			}
			return t, "approximate", nil
		}
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return dice.Table{}, "", ctxErr
		}
		logging.FromContextOr(ctx, c.logger).Warn("lookup failed, building from scratch", zap.Error(err))
	}
	return dice.NewTable(), "miss", nil
}

// GetTable loads a stored table by identifier. Concurrent loads of the same
// identifier share one read.
func (c *Cache) GetTable(ctx context.Context, id docid.ID) (dice.Table, error) {
	v, err, _ := c.loads.Do(id.String(), func() (any, error) {
		doc, ok, err := c.store.FindOne(ctx,
			store.Filter{store.IDField: id},
			store.Projection{prep.SerializedField: true},
		)
		if err != nil {
			return dice.Table{}, fmt.Errorf("cache: load %s: %w", id, err)
		}
		if !ok {
			return dice.Table{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		blob, ok := doc[prep.SerializedField].([]byte)
		if !ok {
			return dice.Table{}, fmt.Errorf("cache: load %s: %w", id, codec.ErrCorrupt)
		}
		return codec.Decode(blob)
	})
	if err != nil {
		return dice.Table{}, err
	}
	return v.(dice.Table), nil
}

// HasTable reports whether a record of exactly t's dice is stored.
func (c *Cache) HasTable(ctx context.Context, t dice.Table) (bool, error) {
	r := t.Record()
	if r.IsEmpty() {
		return false, nil
	}
	_, ok, err := c.store.FindOne(ctx, prep.ExactFilter(r), store.Projection{store.IDField: true})
	return ok, err
}

// AddTable stores t immediately, without checking for an existing record.
func (c *Cache) AddTable(ctx context.Context, t dice.Table) (docid.ID, error) {
	doc, err := prep.NewDocument(t)
	if err != nil {
		return docid.ID{}, err
	}
	return c.store.Insert(ctx, doc)
}

// FindNearest returns the best stored base for r's dice without modifiers.
func (c *Cache) FindNearest(ctx context.Context, r dice.Record) (finder.Match, bool, error) {
	_, canonical := prep.Canonicalize(r)
	if canonical.IsEmpty() {
		return finder.Match{}, false, nil
	}
	f, err := finder.New(c.store, canonical, finder.Options{CloseEnough: c.cfg.CloseEnough})
	if err != nil {
		return finder.Match{}, false, err
	}
	return f.Find(ctx)
}

// Flush waits until every save list queued before the call is written.
func (c *Cache) Flush(ctx context.Context) error {
	return c.writer.flush(ctx)
}

// Reset empties the collection and recreates the index.
func (c *Cache) Reset(ctx context.Context) error {
	if err := c.Flush(ctx); err != nil {
		return err
	}
	if err := c.store.Reset(ctx); err != nil {
		return fmt.Errorf("cache: reset: %w", err)
	}
	return c.ensureIndex(ctx)
}

func (c *Cache) Info(ctx context.Context) (store.Info, error) {
	return c.store.Info(ctx)
}

// Close drains the writer and closes the store.
func (c *Cache) Close(ctx context.Context) error {
	werr := c.writer.close(ctx)
	serr := c.store.Close(ctx)
	return errors.Join(werr, serr)
}
