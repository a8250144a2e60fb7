package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"dicetables-db/pkg/logging/logging"
)

func TestLoggingStoreLogsOperations(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := WithLogging(NewMemoryStore("", "tables"), BackendMemory, zap.New(core))
	ctx := context.Background()

	_, err := s.Insert(ctx, Document{"score": 1})
	require.NoError(t, err)
	_, ok, err := s.FindOne(ctx, Filter{"score": 2}, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = s.Find(ctx, nil, Projection{"a": true, "b": false})
	assert.ErrorIs(t, err, ErrBadProjection)

	entries := logs.FilterMessage("store_op").All()
	require.Len(t, entries, 3)

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "insert", entries[0].ContextMap()["store_op"])
	assert.Equal(t, "ok", entries[0].ContextMap()["store_result"])

	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, "miss", entries[1].ContextMap()["store_result"])

	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "error", entries[2].ContextMap()["store_result"])
}

func TestLoggingStorePrefersRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.DebugLevel)
	reqCore, reqLogs := observer.New(zapcore.DebugLevel)
	s := WithLogging(NewMemoryStore("", "tables"), BackendMemory, zap.New(baseCore))

	ctx := logging.WithLogger(context.Background(), zap.New(reqCore))
	_, err := s.IsEmpty(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, baseLogs.Len())
	assert.Equal(t, 1, reqLogs.Len())
}
