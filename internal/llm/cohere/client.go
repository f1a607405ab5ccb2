package cohere

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"resume-scanner/internal/llm"
	"resume-scanner/internal/shared/telemetry"
)

// DefaultEndpoint is the Cohere generate API.
const DefaultEndpoint = "https://api.cohere.ai/v1/generate"

const maxErrorBody = 4 << 10

// Client implements llm.Client against a Cohere-style generate endpoint.
type Client struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// NewClient constructs a new client. An empty endpoint selects DefaultEndpoint;
// timeout bounds every request.
func NewClient(apiKey, endpoint string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("LLM_API_KEY is required")
	}
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		apiKey:     apiKey,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type generateRequest struct {
	Model             string   `json:"model,omitempty"`
	Prompt            string   `json:"prompt"`
	MaxTokens         int      `json:"max_tokens"`
	Temperature       float64  `json:"temperature"`
	P                 float64  `json:"p"`
	K                 int      `json:"k"`
	StopSequences     []string `json:"stop_sequences"`
	ReturnLikelihoods string   `json:"return_likelihoods"`
}

type generateResponse struct {
	ID          string `json:"id"`
	Generations []struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"generations"`
	Meta *struct {
		BilledUnits *struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"billed_units"`
	} `json:"meta,omitempty"`
}

// Generate posts the prompt and returns the first generation's text verbatim.
// A 2xx reply without a usable generations envelope yields "" and no error.
func (c *Client) Generate(ctx context.Context, req llm.Request) (string, error) {
	stops := req.Params.StopSequences
	if stops == nil {
		stops = []string{}
	}
	payload, err := json.Marshal(generateRequest{
		Model:             req.Params.Model,
		Prompt:            req.Prompt,
		MaxTokens:         req.Params.MaxTokens,
		Temperature:       req.Params.Temperature,
		P:                 req.Params.TopP,
		K:                 req.Params.TopK,
		StopSequences:     stops,
		ReturnLikelihoods: "NONE",
	})
	if err != nil {
		return "", fmt.Errorf("cohere encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("cohere build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", llm.NetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", llm.StatusError(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", llm.NetworkError(err)
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Generations) == 0 {
		reason := "missing generations"
		if err != nil {
			reason = err.Error()
		}
		telemetry.Warn("llm.response_malformed", map[string]any{
			"kind":   req.Kind,
			"reason": reason,
			"bytes":  len(body),
		})
		return "", nil
	}

	fields := map[string]any{
		"kind":        req.Kind,
		"model":       req.Params.Model,
		"duration_ms": time.Since(started).Milliseconds(),
		"chars":       len(parsed.Generations[0].Text),
	}
	if parsed.Meta != nil && parsed.Meta.BilledUnits != nil {
		fields["input_tokens"] = parsed.Meta.BilledUnits.InputTokens
		fields["output_tokens"] = parsed.Meta.BilledUnits.OutputTokens
	}
	telemetry.Info("llm.response", fields)
	return parsed.Generations[0].Text, nil
}

var _ llm.Client = (*Client)(nil)
