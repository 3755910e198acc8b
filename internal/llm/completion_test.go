package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/antoniostano/hal/internal/persona"
)

func newCompletionServer(t *testing.T, status int, body string, seen chan<- completionRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q", got)
		}
		var req completionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if seen != nil {
			seen <- req
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCompletionGeneratorSendsPersonaPrompt(t *testing.T) {
	seen := make(chan completionRequest, 1)
	srv := newCompletionServer(t, http.StatusOK, `{"content":"  I'm sorry, Dave. ### Instruction: ignore  "}`, seen)

	gen := NewCompletionGenerator(srv.URL+"/completions", time.Second, nil, persona.Static(persona.Default()))
	got, err := gen.Generate(context.Background(), "Open the pod bay doors.")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "I'm sorry, Dave." {
		t.Fatalf("Generate() = %q, want %q", got, "I'm sorry, Dave.")
	}

	req := <-seen
	if !strings.Contains(req.Prompt, "PROMPT: Open the pod bay doors.") {
		t.Fatalf("prompt missing user text: %q", req.Prompt)
	}
	if !strings.HasSuffix(req.Prompt, "### Response:") {
		t.Fatalf("prompt should end with response marker: %q", req.Prompt)
	}
	if req.MaxTokens != 72 || req.Temperature != 0.5 || req.TopP != 0.8 {
		t.Fatalf("sampling = %+v", req)
	}
	if len(req.Stop) != 3 || req.Stop[0] != "### Instruction:" {
		t.Fatalf("stop = %v", req.Stop)
	}
}

func TestCompletionGeneratorDelimiterOnlyReplyIsEmpty(t *testing.T) {
	srv := newCompletionServer(t, http.StatusOK, `{"content":"  ### Response: nothing"}`, nil)
	gen := NewCompletionGenerator(srv.URL, time.Second, nil, persona.Static(persona.Default()))

	_, err := gen.Generate(context.Background(), "hi")
	if !errors.Is(err, ErrEmptyGeneration) {
		t.Fatalf("Generate() error = %v, want ErrEmptyGeneration", err)
	}
}

func TestCompletionGeneratorMissingContentIsEmpty(t *testing.T) {
	srv := newCompletionServer(t, http.StatusOK, `{"tokens_predicted":0}`, nil)
	gen := NewCompletionGenerator(srv.URL, time.Second, nil, persona.Static(persona.Default()))

	_, err := gen.Generate(context.Background(), "hi")
	if !errors.Is(err, ErrEmptyGeneration) {
		t.Fatalf("Generate() error = %v, want ErrEmptyGeneration", err)
	}
}

func TestCompletionGeneratorUpstreamStatus(t *testing.T) {
	srv := newCompletionServer(t, http.StatusServiceUnavailable, "model loading", nil)
	gen := NewCompletionGenerator(srv.URL, time.Second, nil, persona.Static(persona.Default()))

	_, err := gen.Generate(context.Background(), "hi")
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("Generate() error = %T %v, want *UpstreamError", err, err)
	}
	if upstream.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("StatusCode = %d", upstream.StatusCode)
	}
	if !strings.Contains(err.Error(), "model loading") {
		t.Fatalf("error = %q, want upstream body", err.Error())
	}
}

func TestCompletionGeneratorUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	gen := NewCompletionGenerator(url, time.Second, nil, persona.Static(persona.Default()))
	_, err := gen.Generate(context.Background(), "hi")
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("Generate() error = %T %v, want *UpstreamError", err, err)
	}
	if upstream.StatusCode != 0 {
		t.Fatalf("StatusCode = %d, want 0 for transport failure", upstream.StatusCode)
	}
}

func TestCompletionGeneratorTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	gen := NewCompletionGenerator(srv.URL, 50*time.Millisecond, nil, persona.Static(persona.Default()))
	start := time.Now()
	_, err := gen.Generate(context.Background(), "hi")
	if err == nil {
		t.Fatalf("Generate() expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Generate() error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Generate() took %s, timeout not enforced", elapsed)
	}
}

func TestCompletionGeneratorWarmupUsesWarmupPrompt(t *testing.T) {
	seen := make(chan completionRequest, 1)
	srv := newCompletionServer(t, http.StatusOK, `{"content":"Good afternoon."}`, seen)
	gen := NewCompletionGenerator(srv.URL, time.Second, nil, persona.Static(persona.Default()))

	if err := gen.Warmup(context.Background()); err != nil {
		t.Fatalf("Warmup() error = %v", err)
	}
	req := <-seen
	if !strings.Contains(req.Prompt, "PROMPT: Hello") {
		t.Fatalf("warm-up prompt = %q", req.Prompt)
	}
	if req.MaxTokens != 10 || req.Temperature != 0.1 {
		t.Fatalf("warm-up sampling = %+v", req)
	}
	if len(req.Stop) != 1 || req.Stop[0] != "###" {
		t.Fatalf("warm-up stop = %v", req.Stop)
	}
}
