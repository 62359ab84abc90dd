// Package planner wraps the LLM provider behind a primary/fallback contract.
// The primary talks HTTP to an opaque text generator; a deterministic stub
// takes over when the primary fails and strict mode is off. Every call lands
// in a bounded metrics ring.
package planner

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
)

// Message is one chat-style prompt message. Opaque to the core.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one generation request.
type Request struct {
	Messages []Message
	Model    string
	// Context is a short label recorded in metrics ("hourly_plan:alice:t12").
	Context string
}

// Result is the planner output consumed by the orchestrator.
type Result struct {
	Content    string
	ModelUsed  string
	TokensUsed int
}

// ErrGeneration is the single error kind surfaced by providers.
var ErrGeneration = errors.New("planner: generation failed")

// Planner generates text for a named method.
type Planner interface {
	Name() string
	Generate(ctx context.Context, method string, req Request) (Result, error)
}

// HTTPPlanner calls the LLM gateway over HTTP.
type HTTPPlanner struct {
	client  *http.Client
	baseURL string
	retries int
}

// NewHTTPPlanner builds the gateway-backed planner.
func NewHTTPPlanner(client *http.Client, baseURL string) *HTTPPlanner {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPPlanner{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		retries: 2,
	}
}

func (p *HTTPPlanner) Name() string { return "llm" }

type generateRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type generateResponse struct {
	Text       string `json:"text"`
	TokensUsed int    `json:"tokens_used"`
}

// Generate posts the messages to the gateway, retrying transient failures.
func (p *HTTPPlanner) Generate(ctx context.Context, method string, req Request) (Result, error) {
	if p.baseURL == "" {
		return Result{}, fmt.Errorf("%w: no gateway configured", ErrGeneration)
	}

	payload, err := json.Marshal(generateRequest{Model: req.Model, Messages: req.Messages})
	if err != nil {
		return Result{}, fmt.Errorf("%w: marshal: %v", ErrGeneration, err)
	}

	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Result{}, fmt.Errorf("%w: %v", ErrGeneration, ctx.Err())
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		res, err := p.doOnce(ctx, payload)
		if err == nil {
			return res, nil
		}
		lastErr = err
	}
	return Result{}, lastErr
}

func (p *HTTPPlanner) doOnce(ctx context.Context, payload []byte) (Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/generate", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("%w: build request: %v", ErrGeneration, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		out, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("%w: status %d (%s)", ErrGeneration, resp.StatusCode, strings.TrimSpace(string(out)))
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return Result{}, fmt.Errorf("%w: decode: %v", ErrGeneration, err)
	}
	if strings.TrimSpace(gr.Text) == "" {
		return Result{}, fmt.Errorf("%w: empty completion", ErrGeneration)
	}
	return Result{Content: gr.Text, TokensUsed: gr.TokensUsed}, nil
}
