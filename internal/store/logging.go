package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dicetables-db/internal/docid"
	"dicetables-db/internal/metrics"
	"dicetables-db/pkg/logging/logging"
)

// LoggingStore wraps a Store with logging + metrics.
type LoggingStore struct {
	inner   Store
	logger  *zap.Logger
	backend string
}

// WithLogging returns a store that logs every operation and records its
// latency. Reads log at debug, writes at info.
func WithLogging(inner Store, backend string, logger *zap.Logger) *LoggingStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingStore{inner: inner, logger: logger.Named("store"), backend: backend}
}

func (s *LoggingStore) observe(ctx context.Context, op string, start time.Time, result string, err error, fields ...zap.Field) {
	elapsed := time.Since(start)
	metrics.StoreOpSeconds.WithLabelValues(s.backend, op).Observe(elapsed.Seconds())

	logger := logging.FromContextOr(ctx, s.logger)
	fields = append(fields,
		zap.String("backend", s.backend),
		zap.String("store_op", op),
		zap.String("store_result", result), // hit | miss | ok | error
		zap.Float64("latency_ms", float64(elapsed.Microseconds())/1000.0),
	)

	switch {
	case err != nil:
		logger.Error("store_op", append(fields, zap.Error(err))...)
	case op == "find" || op == "find_one" || op == "has_index" || op == "is_empty" || op == "info":
		logger.Debug("store_op", fields...)
	default:
		logger.Info("store_op", fields...)
	}
}

func resultOf(found bool, err error) string {
	switch {
	case err != nil:
		return "error"
	case found:
		return "hit"
	}
	return "miss"
}

func okOrError(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (s *LoggingStore) Find(ctx context.Context, f Filter, p Projection) ([]Document, error) {
	start := time.Now()
	docs, err := s.inner.Find(ctx, f, p)
	s.observe(ctx, "find", start, resultOf(len(docs) > 0, err), err,
		zap.Int("filter_columns", len(f)),
		zap.Int("documents", len(docs)),
	)
	return docs, err
}

func (s *LoggingStore) FindOne(ctx context.Context, f Filter, p Projection) (Document, bool, error) {
	start := time.Now()
	doc, ok, err := s.inner.FindOne(ctx, f, p)
	s.observe(ctx, "find_one", start, resultOf(ok, err), err, zap.Int("filter_columns", len(f)))
	return doc, ok, err
}

func (s *LoggingStore) Insert(ctx context.Context, doc Document) (docid.ID, error) {
	start := time.Now()
	id, err := s.inner.Insert(ctx, doc)
	s.observe(ctx, "insert", start, okOrError(err), err,
		zap.Stringer("doc_id", id),
		zap.Int("columns", len(doc)),
	)
	return id, err
}

func (s *LoggingStore) DeclareColumn(ctx context.Context, col string, kind Kind) error {
	start := time.Now()
	err := s.inner.DeclareColumn(ctx, col, kind)
	s.observe(ctx, "declare_column", start, okOrError(err), err,
		zap.String("column", col), zap.Stringer("kind", kind))
	return err
}

func (s *LoggingStore) CreateIndex(ctx context.Context, cols ...string) error {
	start := time.Now()
	err := s.inner.CreateIndex(ctx, cols...)
	s.observe(ctx, "create_index", start, okOrError(err), err, zap.Strings("columns", cols))
	return err
}

func (s *LoggingStore) HasIndex(ctx context.Context, cols ...string) (bool, error) {
	start := time.Now()
	ok, err := s.inner.HasIndex(ctx, cols...)
	s.observe(ctx, "has_index", start, resultOf(ok, err), err, zap.Strings("columns", cols))
	return ok, err
}

func (s *LoggingStore) IsEmpty(ctx context.Context) (bool, error) {
	start := time.Now()
	empty, err := s.inner.IsEmpty(ctx)
	s.observe(ctx, "is_empty", start, okOrError(err), err, zap.Bool("empty", empty))
	return empty, err
}

func (s *LoggingStore) Reset(ctx context.Context) error {
	start := time.Now()
	err := s.inner.Reset(ctx)
	s.observe(ctx, "reset", start, okOrError(err), err)
	return err
}

func (s *LoggingStore) Drop(ctx context.Context) error {
	start := time.Now()
	err := s.inner.Drop(ctx)
	s.observe(ctx, "drop", start, okOrError(err), err)
	return err
}

func (s *LoggingStore) Info(ctx context.Context) (Info, error) {
	start := time.Now()
	info, err := s.inner.Info(ctx)
	s.observe(ctx, "info", start, okOrError(err), err)
	return info, err
}

func (s *LoggingStore) Close(ctx context.Context) error {
	start := time.Now()
	err := s.inner.Close(ctx)
	s.observe(ctx, "close", start, okOrError(err), err)
	return err
}
