package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Generation statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
	StatusError     = "error"
)

// Generation records one describe call.
type Generation struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Variant     string    `json:"variant"`
	Model       string    `json:"model,omitempty"`
	AssistantID string    `json:"assistant_id,omitempty"`
	ThreadID    string    `json:"thread_id,omitempty"`
	RunID       string    `json:"run_id,omitempty"`
	Status      string    `json:"status"`
	Stage       string    `json:"stage,omitempty"` // failing stage, empty on success
	InputJSON   string    `json:"input_json"`
	Prompt      string    `json:"prompt"`
	Reply       string    `json:"reply,omitempty"`
	Error       string    `json:"error,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
}
