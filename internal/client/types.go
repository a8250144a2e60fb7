package client

import (
	"fmt"

	"dicetables-db/internal/builder"
	"dicetables-db/internal/dice"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("dicetables: server %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("dicetables: server %d: %s (%s)", e.Status, e.Message, e.Type)
}

// StreamEvent is one item of a streamed build. Exactly one field is set.
type StreamEvent struct {
	Progress *builder.Progress
	Summary  *dice.Summary
	Err      error
}

// wire shapes, mirroring internal/handlers
type buildRequest struct {
	Request string `json:"request"`
}

type errorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

// streamPayload holds any data: line of the build stream.
type streamPayload struct {
	builder.Progress
	dice.Summary
	Error string `json:"error"`
	Type  string `json:"type"`
}
