package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"dicetables-db/internal/builder"
	"dicetables-db/internal/cache"
	"dicetables-db/internal/codec"
	"dicetables-db/internal/dice"
	"dicetables-db/internal/docid"
	"dicetables-db/internal/store"
	"dicetables-db/pkg/logging/logging"
)

func newHandler(t *testing.T) (*TablesHandler, *cache.Cache) {
	t.Helper()
	c, err := cache.New(context.Background(), store.NewMemoryStore("", "tables"), cache.Config{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return NewTablesHandler(c, dice.RequestOptions{MaxDiceValue: 600}), c
}

func routes(h *TablesHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/tables", h.BuildTable)
	r.Get("/v1/tables/{id}", h.GetTable)
	r.Get("/v1/info", h.Info)
	return r
}

func post(t *testing.T, h http.Handler, body string, accept string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/tables", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestBuildTable(t *testing.T) {
	h, _ := newHandler(t)
	rr := post(t, routes(h), `{"request": "3*Die(6) & ModDie(4, 1)"}`, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var got dice.Summary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, [2]int{5, 23}, got.Range)
	assert.Equal(t, 14.0, got.Mean)
	assert.Contains(t, got.Name, "3D6")
}

func TestBuildTableErrors(t *testing.T) {
	h, _ := newHandler(t)
	cases := []struct {
		name, body, typ string
	}{
		{"bad json", `{"request": `, "ValueError"},
		{"unknown field", `{"dice": "Die(6)"}`, "ValueError"},
		{"parse", `{"request": "2*Dye(6)"}`, "ParseError"},
		{"limits", `{"request": "2*Die(500)"}`, "LimitsError"},
		{"die size", `{"request": "Die(501)"}`, "LimitsError"},
		{"no events", `{"request": "WeightedDie({1: 0})"}`, "InvalidEventsError"},
		{"negative count", `{"request": "-2*Die(6)"}`, "DiceRecordError"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := post(t, routes(h), tc.body, "")
			assert.Equal(t, http.StatusBadRequest, rr.Code)

			var got ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
			assert.Equal(t, tc.typ, got.Type, got.Error)
			assert.NotEmpty(t, got.Error)
		})
	}
}

func TestBuildTableStreamsProgress(t *testing.T) {
	h, _ := newHandler(t)
	rr := post(t, routes(h), `{"request": "12*Die(6)"}`, "text/event-stream")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))

	var events []string
	for _, line := range strings.Split(rr.Body.String(), "\n") {
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			events = append(events, data)
		}
	}
	require.Len(t, events, 4)
	assert.JSONEq(t, `{"table":"<DiceTable containing [5D6]>"}`, events[0])
	assert.JSONEq(t, `{"table":"<DiceTable containing [10D6]>"}`, events[1])
	var summary dice.Summary
	require.NoError(t, json.Unmarshal([]byte(events[2]), &summary))
	assert.Equal(t, "<DiceTable containing [12D6]>", summary.Name)
	assert.Contains(t, events[2], `"name":"<DiceTable containing [12D6]>"`)
	assert.Equal(t, "[DONE]", events[3])
}

// brokenTables fails every call with an error that must stay server-side.
type brokenTables struct{}

var errDisk = errors.New("read /var/lib/dicetables/tables.db: input/output error")

func (brokenTables) Process(context.Context, dice.Record, chan<- builder.Progress) (dice.Table, error) {
	return dice.Table{}, errDisk
}

func (brokenTables) GetTable(context.Context, docid.ID) (dice.Table, error) {
	return dice.Table{}, fmt.Errorf("%w: bad blob", codec.ErrCorrupt)
}

func (brokenTables) Info(context.Context) (store.Info, error) {
	return store.Info{}, errDisk
}

func TestInternalErrorsAreMasked(t *testing.T) {
	h := NewTablesHandler(brokenTables{}, dice.RequestOptions{})

	rr := post(t, routes(h), `{"request": "Die(6)"}`, "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"internal server error","type":"InternalError"}`, rr.Body.String())

	rr = post(t, routes(h), `{"request": "Die(6)"}`, "text/event-stream")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "/var/lib")
	assert.Contains(t, rr.Body.String(), `data: {"error":"internal server error","type":"InternalError"}`)
	assert.True(t, strings.HasSuffix(rr.Body.String(), "data: [DONE]\n\n"))

	rr = httptest.NewRecorder()
	routes(h).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/tables/"+docid.New().String(), nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"internal server error","type":"CorruptTable"}`, rr.Body.String())
}

func TestGetTable(t *testing.T) {
	h, c := newHandler(t)
	table, err := dice.NewTable().Add(dice.Must(dice.NewDie(4)), 2)
	require.NoError(t, err)
	id, err := c.AddTable(context.Background(), table)
	require.NoError(t, err)

	get := func(path string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		routes(h).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		return rr
	}

	rr := get("/v1/tables/" + id.String())
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var got dice.Summary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "<DiceTable containing [2D4]>", got.Name)
	assert.Equal(t, []int{2, 3, 4, 5, 6, 7, 8}, got.Outcomes)

	rr = get("/v1/tables/" + docid.New().String())
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), `"type":"NotFound"`)

	rr = get("/v1/tables/not-an-id")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), `"type":"ValueError"`)
}

func TestInfo(t *testing.T) {
	h, _ := newHandler(t)
	rr := httptest.NewRecorder()
	routes(h).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/info", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var got store.Info
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "memory", got.Backend)
	assert.Equal(t, "tables", got.Collection)
	assert.Contains(t, got.Indices, []string{"group", "score"})
}

func TestClassify(t *testing.T) {
	status, typ := classify(context.DeadlineExceeded)
	assert.Equal(t, http.StatusGatewayTimeout, status)
	assert.Equal(t, "Timeout", typ)

	status, typ = classify(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "InternalError", typ)
}

func TestBuildTableLogsDice(t *testing.T) {
	h, _ := newHandler(t)
	core, logs := observer.New(zap.InfoLevel)

	req := httptest.NewRequest(http.MethodPost, "/v1/tables", strings.NewReader(`{"request": "2*Die(6)"}`))
	req = req.WithContext(logging.WithLogger(req.Context(), zap.New(core)))
	rr := httptest.NewRecorder()
	routes(h).ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	built := logs.FilterMessage("table built").All()
	require.Len(t, built, 1)
	assert.Equal(t, "2D6", built[0].ContextMap()["dice"])
}
