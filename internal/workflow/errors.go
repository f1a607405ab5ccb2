package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrNoDocument   = errors.New("no document uploaded")
	ErrNoFeedback   = errors.New("no feedback available")
	ErrNoResume     = errors.New("no generated resume available")
	ErrBusy         = errors.New("operation already in progress")
	ErrInvalidState = errors.New("operation not allowed in current state")
	ErrSuperseded   = errors.New("session changed while the operation was running")
	ErrConflict     = errors.New("session version conflict")
)

// ValidationError rejects an upload before it touches session state.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid file: %s", e.Reason)
}

const (
	ErrorCodeInvalidFile      = "invalid_file"
	ErrorCodeExtraction       = "extraction_failed"
	ErrorCodeAnalysisFailed   = "analysis_failed"
	ErrorCodeGenerationFailed = "generation_failed"
	ErrorCodeInProgress       = "in_progress"
	ErrorCodeInvalidState     = "invalid_state"
	ErrorCodeSuperseded       = "superseded"
	ErrorCodeLLMUnavailable   = "llm_unavailable"
	ErrorCodeInternal         = "internal_error"
)
