package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// BuildStream asks the server to stream the build of request. The channel
// yields each intermediate table the server computes, then the summary or
// an error, and is closed at the end of the stream.
func (c *Client) BuildStream(parentCtx context.Context, request string) (<-chan StreamEvent, error) {
	body, err := json.Marshal(buildRequest{Request: request})
	if err != nil {
		return nil, fmt.Errorf("dicetables: marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.Timeout)

	// connect with retries; nothing is retried mid-stream
	resp, err := c.doWithRetry(ctx, body, c.post("/v1/tables", "text/event-stream"))
	if err != nil {
		cancel()
		c.logger.Error("stream connect failed", zap.String("request", request), zap.Error(err))
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer cancel()
		defer resp.Body.Close()
		return nil, apiError(resp)
	}

	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)
		defer cancel()
		defer resp.Body.Close()

		send := func(ev StreamEvent) bool {
			select {
			case <-ctx.Done():
				return false
			case events <- ev:
				return true
			}
		}

		reader := bufio.NewReader(resp.Body)
		count := 0
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err == io.EOF {
					c.logger.Debug("stream ended without [DONE]", zap.Int("events", count))
					return
				}
				if ctx.Err() == nil {
					send(StreamEvent{Err: fmt.Errorf("dicetables: read stream line: %w", err)})
				}
				return
			}

			line = bytes.TrimSpace(line)
			const prefix = "data: "
			if !bytes.HasPrefix(line, []byte(prefix)) {
				continue
			}
			payload := bytes.TrimSpace(line[len(prefix):])
			if bytes.Equal(payload, []byte("[DONE]")) {
				c.logger.Debug("stream received [DONE]", zap.Int("events", count))
				return
			}

			var p streamPayload
			if err := json.Unmarshal(payload, &p); err != nil {
				send(StreamEvent{Err: fmt.Errorf("dicetables: unmarshal stream event: %w", err)})
				return
			}
			count++

			var ev StreamEvent
			switch {
			case p.Error != "":
				ev.Err = &APIError{Status: resp.StatusCode, Type: p.Type, Message: p.Error}
			case p.Table != "":
				progress := p.Progress
				ev.Progress = &progress
			default:
				summary := p.Summary
				ev.Summary = &summary
			}
			if !send(ev) {
				return
			}
		}
	}()
	return events, nil
}
