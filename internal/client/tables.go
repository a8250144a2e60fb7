package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"dicetables-db/internal/dice"
	"dicetables-db/internal/store"
)

const maxErrorBody = 4 * 1024

// Build asks the server for the table of request and returns its summary.
func (c *Client) Build(parentCtx context.Context, request string) (*dice.Summary, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(buildRequest{Request: request})
	if err != nil {
		return nil, fmt.Errorf("dicetables: marshal request: %w", err)
	}

	resp, err := c.doWithRetry(ctx, body, c.post("/v1/tables", "application/json"))
	if err != nil {
		c.logger.Error("build request failed", zap.String("request", request), zap.Error(err))
		return nil, err
	}
	defer resp.Body.Close()

	var out dice.Summary
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("build request completed",
		zap.String("request", request),
		zap.Duration("duration", time.Since(start)),
	)
	return &out, nil
}

// Table fetches a stored table by its hex id.
func (c *Client) Table(parentCtx context.Context, id string) (*dice.Summary, error) {
	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.doWithRetry(ctx, nil, c.get("/v1/tables/"+url.PathEscape(id)))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out dice.Summary
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Info describes the server's store.
func (c *Client) Info(parentCtx context.Context) (store.Info, error) {
	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.doWithRetry(ctx, nil, c.get("/v1/info"))
	if err != nil {
		return store.Info{}, err
	}
	defer resp.Body.Close()

	var out store.Info
	if err := decode(resp, &out); err != nil {
		return store.Info{}, err
	}
	return out, nil
}

// post builds a fresh *http.Request for each attempt.
func (c *Client) post(path, accept string) func(context.Context, []byte) (*http.Response, error) {
	return func(ctx context.Context, body []byte) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("dicetables: build HTTP request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", accept)
		return c.httpClient.Do(req)
	}
}

func (c *Client) get(path string) func(context.Context, []byte) (*http.Response, error) {
	return func(ctx context.Context, _ []byte) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
		if err != nil {
			return nil, fmt.Errorf("dicetables: build HTTP request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		return c.httpClient.Do(req)
	}
}

// decode reads a 2xx JSON body into v, or turns anything else into an
// *APIError.
func decode(resp *http.Response, v any) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("dicetables: decode response: %w", err)
	}
	return nil
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return &APIError{Status: resp.StatusCode, Type: e.Type, Message: e.Error}
	}
	return &APIError{Status: resp.StatusCode, Message: truncate(string(body), 200)}
}

// truncate limits string length for error messages.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
