package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lmittmann/tint"

	"github.com/antoniostano/hal/internal/audio"
	"github.com/antoniostano/hal/internal/config"
	"github.com/antoniostano/hal/internal/httpapi"
	"github.com/antoniostano/hal/internal/llm"
	"github.com/antoniostano/hal/internal/observability"
	"github.com/antoniostano/hal/internal/persona"
	"github.com/antoniostano/hal/internal/voice"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Orchestrator *voice.Orchestrator
	Generator    llm.Generator
	Metrics      *observability.Metrics
	// PersonaWatcher is nil when the built-in persona is used.
	PersonaWatcher *persona.Watcher
	SpeechDetail   string

	// Cleanup should be called on shutdown to stop the synthesis worker.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace, nil)

	var (
		personas persona.Source = persona.Static(persona.Default())
		watcher  *persona.Watcher
	)
	if path := strings.TrimSpace(cfg.PersonaFile); path != "" {
		w, err := persona.NewWatcher(path, nil)
		if err != nil {
			return nil, fmt.Errorf("persona init failed: %w", err)
		}
		personas, watcher = w, w
	}

	gen := llm.New(llm.Config{
		Mode:          cfg.LLMMode,
		ServerURL:     cfg.LLMServerURL,
		Timeout:       cfg.LLMTimeout,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIModel:   cfg.OpenAIModel,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}, personas)
	if err := llm.Misconfigured(gen); err != nil {
		slog.Error("Text generation is misconfigured, every request will fail", "mode", cfg.LLMMode, tint.Err(err))
	}

	store, err := audio.NewStore(cfg.OutputDir)
	if err != nil {
		return nil, err
	}

	sp, err := resolveSpeech(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cleanup := func() error {
		if sp.cleanup == nil {
			return nil
		}
		return sp.cleanup()
	}

	ref, err := sp.preparer.PrepareReference(ctx, cfg.RefAudioPath, cfg.RefText)
	if err != nil {
		_ = cleanup()
		return nil, fmt.Errorf("reference voice init failed: %w", err)
	}

	orchestrator := voice.NewOrchestrator(gen, sp.synth, ref, store, metrics)
	api := httpapi.New(cfg, orchestrator, store, metrics)

	return &BuildResult{
		Config:         cfg,
		API:            api,
		Orchestrator:   orchestrator,
		Generator:      gen,
		Metrics:        metrics,
		PersonaWatcher: watcher,
		SpeechDetail:   sp.detail,
		Cleanup:        cleanup,
	}, nil
}
