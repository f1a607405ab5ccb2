package llm

import (
	"context"
	"errors"
)

// Client sends a prompt to a text-generation service and returns the raw completion.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Params are the sampling settings sent with a request.
type Params struct {
	Model         string
	MaxTokens     int
	Temperature   float64
	TopP          float64
	TopK          int
	StopSequences []string
}

// Request pairs a rendered prompt with its parameters.
type Request struct {
	// Kind labels the request for logs and metrics ("feedback" or "resume").
	Kind   string
	Prompt string
	Params Params
}

const (
	KindFeedback = "feedback"
	KindResume   = "resume"
)

// DefaultFeedbackParams returns the settings used for the critique request.
func DefaultFeedbackParams() Params {
	return Params{Model: "command", MaxTokens: 1500, Temperature: 0.3, TopP: 0.75, TopK: 0}
}

// DefaultResumeParams returns the settings used for the rewrite request.
func DefaultResumeParams() Params {
	p := DefaultFeedbackParams()
	p.MaxTokens = 2500
	p.Temperature = 0.5
	return p
}

// ErrNotImplemented is returned by the placeholder client.
var ErrNotImplemented = errors.New("LLM not implemented")

// PlaceholderClient is used when no API key is configured.
type PlaceholderClient struct{}

// Generate returns ErrNotImplemented.
func (PlaceholderClient) Generate(context.Context, Request) (string, error) {
	return "", ErrNotImplemented
}
