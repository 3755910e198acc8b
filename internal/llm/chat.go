package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/antoniostano/hal/internal/persona"
)

// ChatConfig configures the hosted chat backend.
type ChatConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// ChatGenerator sends a system + user message pair to an OpenAI chat completion endpoint.
type ChatGenerator struct {
	client   openai.Client
	model    string
	timeout  time.Duration
	personas persona.Source
}

func NewChatGenerator(cfg ChatConfig, personas persona.Source) *ChatGenerator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = string(openai.ChatModelGPT3_5Turbo)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		opts = append(opts, option.WithBaseURL(base))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &ChatGenerator{
		client:   openai.NewClient(opts...),
		model:    model,
		timeout:  cfg.Timeout,
		personas: personas,
	}
}

func (g *ChatGenerator) Mode() string { return ModeOpenAI }

func (g *ChatGenerator) Generate(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	p := g.personas.Current()
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(p.System),
			openai.UserMessage(text),
		},
		Temperature: openai.Float(p.Chat.Temperature),
		TopP:        openai.Float(p.Chat.TopP),
		MaxTokens:   openai.Int(int64(p.Chat.MaxTokens)),
	})
	if err != nil {
		upstream := &UpstreamError{Backend: "openai", Err: err}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			upstream.StatusCode = apiErr.StatusCode
			upstream.Detail = err.Error()
		}
		return "", upstream
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyGeneration
	}
	return finish(resp.Choices[0].Message.Content, p.Delimiter)
}
