// Package llm turns user text into a persona-styled reply using either a
// local completion server or a hosted chat API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/hal/internal/persona"
)

const (
	ModeLocal  = "local"
	ModeOpenAI = "openai"
)

// Generator produces the reply text for one user message.
type Generator interface {
	Generate(ctx context.Context, text string) (string, error)
	Mode() string
}

// Warmer is implemented by backends that benefit from a throwaway request at startup.
type Warmer interface {
	Warmup(ctx context.Context) error
}

// ErrEmptyGeneration is returned when post-processing leaves no reply text.
var ErrEmptyGeneration = errors.New("no generated content")

// UpstreamError reports an unreachable or failing generation backend.
type UpstreamError struct {
	Backend    string
	StatusCode int
	Detail     string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode > 0:
		return fmt.Sprintf("%s returned status %d: %s", e.Backend, e.StatusCode, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Backend, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Backend, e.Detail)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ConfigurationError reports a backend that cannot run with the current settings.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return e.Message }

// Config selects and parameterises the backend.
type Config struct {
	Mode          string
	ServerURL     string
	Timeout       time.Duration
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	HTTPClient    *http.Client
}

// New picks the backend once. Unusable settings yield a generator that fails
// every call with a ConfigurationError so the service still starts and reports
// the problem per request.
func New(cfg Config, personas persona.Source) Generator {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	switch mode {
	case ModeLocal:
		return NewCompletionGenerator(cfg.ServerURL, cfg.Timeout, cfg.HTTPClient, personas)
	case ModeOpenAI:
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return misconfigured{mode: mode, err: &ConfigurationError{Message: "Missing OpenAI API key"}}
		}
		return NewChatGenerator(ChatConfig{
			APIKey:     cfg.OpenAIAPIKey,
			Model:      cfg.OpenAIModel,
			BaseURL:    cfg.OpenAIBaseURL,
			Timeout:    cfg.Timeout,
			HTTPClient: cfg.HTTPClient,
		}, personas)
	default:
		return misconfigured{mode: mode, err: &ConfigurationError{Message: fmt.Sprintf("Invalid LLM_MODE: %s", cfg.Mode)}}
	}
}

// Clean truncates raw model output at the first delimiter and trims it. It is
// idempotent: clean text without the delimiter comes back trimmed and unchanged.
func Clean(raw, delimiter string) string {
	out := strings.TrimSpace(raw)
	if delimiter != "" {
		out, _, _ = strings.Cut(out, delimiter)
	}
	return strings.TrimSpace(out)
}

func finish(raw, delimiter string) (string, error) {
	content := Clean(raw, delimiter)
	if content == "" {
		return "", ErrEmptyGeneration
	}
	return content, nil
}

// Misconfigured returns the error a generator built from unusable settings
// fails with, or nil for a working backend.
func Misconfigured(g Generator) error {
	if m, ok := g.(misconfigured); ok {
		return m.err
	}
	return nil
}

type misconfigured struct {
	mode string
	err  error
}

func (m misconfigured) Generate(context.Context, string) (string, error) { return "", m.err }

func (m misconfigured) Mode() string { return m.mode }
