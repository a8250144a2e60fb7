package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"dicetables-db/internal/cache"
	"dicetables-db/internal/dice"
	"dicetables-db/internal/handlers"
	"dicetables-db/internal/httpserver"
	"dicetables-db/internal/metrics"
	"dicetables-db/internal/store"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), ".env")))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestBuildCommand(t *testing.T) {
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("STORE_DSN", filepath.Join(t.TempDir(), "tables.db"))
	t.Setenv("LOG_LEVEL", "error")

	out, err := execute(t, "build", "2*Die(6)")
	require.NoError(t, err)

	var got dice.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, [2]int{2, 12}, got.Range)
	assert.Equal(t, 7.0, got.Mean)
}

func TestResetNeedsForce(t *testing.T) {
	_, err := execute(t, "reset")
	assert.ErrorContains(t, err, "--force")
}

func TestBuildRemote(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	t.Cleanup(func() { remoteURL, showProgress = "", false })

	metrics.Register()
	logger := zaptest.NewLogger(t)
	c, err := cache.New(context.Background(), store.NewMemoryStore("", "tables"), cache.Config{}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, handlers.NewTablesHandler(c, dice.RequestOptions{}), httpserver.Options{})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	out, err := execute(t, "build", "--remote", srv.URL, "--progress", "20*Die(6)")
	require.NoError(t, err)

	lines := strings.SplitN(out, "\n", 5)
	require.Len(t, lines, 5)
	assert.Equal(t, "<DiceTable containing [5D6]>", lines[0])
	assert.Equal(t, "<DiceTable containing [20D6]>", lines[3])

	var got dice.Summary
	require.NoError(t, json.Unmarshal([]byte(lines[4]), &got))
	assert.Equal(t, [2]int{20, 120}, got.Range)
}
