package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"dicetables-db/internal/builder"
	"dicetables-db/internal/cache"
	"dicetables-db/internal/codec"
	"dicetables-db/internal/dice"
	"dicetables-db/internal/docid"
	"dicetables-db/internal/store"
	"dicetables-db/pkg/logging/logging"
)

// TableService is the part of cache.Cache the handlers use.
type TableService interface {
	Process(ctx context.Context, request dice.Record, progress chan<- builder.Progress) (dice.Table, error)
	GetTable(ctx context.Context, id docid.ID) (dice.Table, error)
	Info(ctx context.Context) (store.Info, error)
}

// TablesHandler holds dependencies for the /v1/tables endpoints.
type TablesHandler struct {
	Tables  TableService
	Options dice.RequestOptions
}

func NewTablesHandler(tables TableService, opts dice.RequestOptions) *TablesHandler {
	return &TablesHandler{Tables: tables, Options: opts}
}

// BuildRequest is the body of POST /v1/tables.
type BuildRequest struct {
	Request string `json:"request"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

// BuildTable handles POST /v1/tables. With "Accept: text/event-stream" the
// intermediates are streamed as server-sent events, followed by the summary
// and a [DONE] sentinel.
func (h *TablesHandler) BuildTable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)
	start := time.Now()

	var req BuildRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		logger.Warn("invalid request", zap.Error(err))
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeErr(w, err)
			return
		}
		h.writeError(w, http.StatusBadRequest, "ValueError", fmt.Errorf("invalid JSON body: %w", err))
		return
	}

	record, err := dice.ParseRequest(req.Request, h.Options)
	if err != nil {
		logger.Info("rejected request", zap.String("request", req.Request), zap.Error(err))
		h.writeErr(w, err)
		return
	}

	ctx = logging.WithFields(ctx, zap.String("dice", record.Brief()))
	logger = logging.L(ctx)
	r = r.WithContext(ctx)

	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		h.stream(w, r, record)
		return
	}

	table, err := h.Tables.Process(ctx, record, nil)
	if err != nil {
		logger.Error("build failed", zap.Error(err))
		h.writeErr(w, err)
		return
	}
	logger.Info("table built",
		zap.Duration("total_latency_ms", time.Since(start)),
	)
	h.writeJSON(w, http.StatusOK, dice.Summarize(table))
}

func (h *TablesHandler) stream(w http.ResponseWriter, r *http.Request, record dice.Record) {
	ctx := r.Context()
	flusher, _ := w.(http.Flusher)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	type result struct {
		table dice.Table
		err   error
	}
	progress := make(chan builder.Progress, 16)
	done := make(chan result, 1)
	go func() {
		t, err := h.Tables.Process(ctx, record, progress)
		close(progress)
		done <- result{t, err}
	}()

	send := func(v any) {
		var buf bytes.Buffer
		_ = encodeJSON(&buf, v)
		_, _ = fmt.Fprintf(w, "data: %s\n\n", bytes.TrimSpace(buf.Bytes()))
		if flusher != nil {
			flusher.Flush()
		}
	}
	for p := range progress {
		if !p.Done {
			send(p)
		}
	}

	res := <-done
	if res.err != nil {
		logging.L(ctx).Error("build failed", zap.Error(res.err))
		_, body := errorBody(res.err)
		send(body)
	} else {
		send(dice.Summarize(res.table))
	}
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

// GetTable handles GET /v1/tables/{id}.
func (h *TablesHandler) GetTable(w http.ResponseWriter, r *http.Request) {
	id, err := docid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	table, err := h.Tables.GetTable(r.Context(), id)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			logging.L(r.Context()).Error("load failed", zap.Stringer("id", id), zap.Error(err))
		}
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dice.Summarize(table))
}

// Info handles GET /v1/info.
func (h *TablesHandler) Info(w http.ResponseWriter, r *http.Request) {
	info, err := h.Tables.Info(r.Context())
	if err != nil {
		logging.L(r.Context()).Error("info failed", zap.Error(err))
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

// classify maps an error to a status code and the error type reported to
// clients.
func classify(err error) (int, string) {
	var parseErr *dice.ParseError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &parseErr):
		return http.StatusBadRequest, "ParseError"
	case errors.Is(err, dice.ErrLimits):
		return http.StatusBadRequest, "LimitsError"
	case errors.Is(err, dice.ErrInvalidEvents):
		return http.StatusBadRequest, "InvalidEventsError"
	case errors.Is(err, dice.ErrNegativeCount):
		return http.StatusBadRequest, "DiceRecordError"
	case errors.Is(err, dice.ErrBadDelimiter), errors.Is(err, docid.ErrInvalidID):
		return http.StatusBadRequest, "ValueError"
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge, "ValueError"
	case errors.Is(err, cache.ErrNotFound):
		return http.StatusNotFound, "NotFound"
	case errors.Is(err, codec.ErrCorrupt):
		return http.StatusInternalServerError, "CorruptTable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Timeout"
	}
	return http.StatusInternalServerError, "InternalError"
}

// errorBody classifies err. Server-side failures never leak their message.
func errorBody(err error) (int, ErrorResponse) {
	status, typ := classify(err)
	return status, newErrorResponse(status, typ, err)
}

func newErrorResponse(status int, typ string, err error) ErrorResponse {
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	return ErrorResponse{Error: msg, Type: typ}
}

func (h *TablesHandler) writeErr(w http.ResponseWriter, err error) {
	status, body := errorBody(err)
	h.writeJSON(w, status, body)
}

func (h *TablesHandler) writeError(w http.ResponseWriter, status int, typ string, err error) {
	h.writeJSON(w, status, newErrorResponse(status, typ, err))
}

// writeJSON is a small helper to send JSON responses consistently.
func (h *TablesHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = encodeJSON(w, v)
}

// encodeJSON leaves '<' and '>' alone: table names are "<DiceTable ...>".
func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
