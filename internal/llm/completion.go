package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/hal/internal/persona"
)

const warmupTimeout = 30 * time.Second

// CompletionGenerator talks to a local completion server that accepts a raw
// prompt and answers with {"content": ...}.
type CompletionGenerator struct {
	url      string
	timeout  time.Duration
	client   *http.Client
	personas persona.Source
}

type completionRequest struct {
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature float64  `json:"temperature"`
	TopP        float64  `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type completionResponse struct {
	Content string `json:"content"`
}

func NewCompletionGenerator(url string, timeout time.Duration, client *http.Client, personas persona.Source) *CompletionGenerator {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if client == nil {
		client = &http.Client{}
	}
	return &CompletionGenerator{
		url:      strings.TrimSpace(url),
		timeout:  timeout,
		client:   client,
		personas: personas,
	}
}

func (g *CompletionGenerator) Mode() string { return ModeLocal }

func (g *CompletionGenerator) Generate(ctx context.Context, text string) (string, error) {
	p := g.personas.Current()
	raw, err := g.complete(ctx, g.timeout, completionRequest{
		Prompt:      p.Prompt(text),
		MaxTokens:   p.Completion.MaxTokens,
		Temperature: p.Completion.Temperature,
		TopP:        p.Completion.TopP,
		Stop:        p.Stop,
	})
	if err != nil {
		return "", err
	}
	return finish(raw, p.Delimiter)
}

// Warmup sends the persona's warm-up prompt so the server loads its weights
// before the first real request.
func (g *CompletionGenerator) Warmup(ctx context.Context) error {
	p := g.personas.Current()
	_, err := g.complete(ctx, warmupTimeout, completionRequest{
		Prompt:      p.Prompt(p.Warmup.Prompt),
		MaxTokens:   p.Warmup.MaxTokens,
		Temperature: p.Warmup.Temperature,
		Stop:        []string{p.Delimiter},
	})
	return err
}

func (g *CompletionGenerator) complete(ctx context.Context, timeout time.Duration, req completionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return "", &UpstreamError{Backend: "completion server", Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := g.client.Do(httpReq)
	if err != nil {
		return "", &UpstreamError{Backend: "completion server", Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", &UpstreamError{
			Backend:    "completion server",
			StatusCode: res.StatusCode,
			Detail:     strings.TrimSpace(string(body)),
		}
	}

	var out completionResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", &UpstreamError{Backend: "completion server", Err: fmt.Errorf("decode response: %w", err)}
	}
	return out.Content, nil
}
