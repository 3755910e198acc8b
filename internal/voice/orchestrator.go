// Package voice runs the reply pipeline: generate text, speak it in the
// reference voice and persist the audio.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"

	"github.com/antoniostano/hal/internal/audio"
	"github.com/antoniostano/hal/internal/llm"
	"github.com/antoniostano/hal/internal/observability"
	"github.com/antoniostano/hal/internal/policy"
	"github.com/antoniostano/hal/internal/speech"
)

// ErrPersist marks a failure writing the audio artifact.
var ErrPersist = errors.New("audio persistence failed")

// ArtifactStore persists synthesized audio.
type ArtifactStore interface {
	Save(samples []float32, sampleRate int) (audio.Artifact, error)
}

// Timings holds per-stage wall time for one reply.
type Timings struct {
	LLM     time.Duration
	TTS     time.Duration
	Storage time.Duration
	Total   time.Duration
}

// Reply is the outcome of one successful pipeline run.
type Reply struct {
	Text     string
	Artifact audio.Artifact
	Audio    time.Duration
	Timings  Timings
}

// Orchestrator composes the generator, synthesizer and store. The reference
// voice is prepared once by the caller and shared by every request.
type Orchestrator struct {
	generator llm.Generator
	synth     speech.Synthesizer
	ref       speech.ReferenceVoice
	store     ArtifactStore
	metrics   *observability.Metrics
}

func NewOrchestrator(
	generator llm.Generator,
	synth speech.Synthesizer,
	ref speech.ReferenceVoice,
	store ArtifactStore,
	metrics *observability.Metrics,
) *Orchestrator {
	return &Orchestrator{
		generator: generator,
		synth:     synth,
		ref:       ref,
		store:     store,
		metrics:   metrics,
	}
}

// Mode reports the text generation backend in use.
func (o *Orchestrator) Mode() string { return o.generator.Mode() }

// Reply runs one request end to end. Generation honours ctx; synthesis and
// persistence run to completion even if the caller goes away, so a started
// render is never left half-written.
func (o *Orchestrator) Reply(ctx context.Context, text string) (Reply, error) {
	if o.metrics != nil {
		o.metrics.InFlight.Inc()
		defer o.metrics.InFlight.Dec()
	}
	start := time.Now()
	var t Timings
	slog.Debug("Generating reply", "mode", o.generator.Mode(), "prompt", policy.Preview(text, 120))

	content, err := o.generator.Generate(ctx, text)
	t.LLM = time.Since(start)
	o.metrics.ObserveStage(observability.StageLLM, t.LLM)
	if err != nil {
		o.metrics.CountUpstreamError("llm", llmErrorKind(err))
		detail, _ := policy.Redact(err.Error())
		slog.Warn("Text generation failed", "mode", o.generator.Mode(), "llm_ms", t.LLM.Milliseconds(), "error", detail)
		return Reply{}, err
	}

	spoken := SpokenForm(content)
	if spoken == "" {
		spoken = content
	}

	detached := context.WithoutCancel(ctx)
	ttsStart := time.Now()
	wave, err := o.synth.Synthesize(detached, o.ref, spoken)
	t.TTS = time.Since(ttsStart)
	o.metrics.ObserveStage(observability.StageTTS, t.TTS)
	if err == nil && (len(wave.Samples) == 0 || wave.SampleRate <= 0) {
		err = &speech.SynthesisError{Detail: "synthesizer returned no audio"}
	}
	if err != nil {
		var synthErr *speech.SynthesisError
		if !errors.As(err, &synthErr) {
			err = &speech.SynthesisError{Err: err}
		}
		o.metrics.CountUpstreamError("tts", "synthesis")
		slog.Warn("Speech synthesis failed", "tts_ms", t.TTS.Milliseconds(), tint.Err(err))
		return Reply{}, err
	}

	storeStart := time.Now()
	art, err := o.store.Save(wave.Samples, wave.SampleRate)
	t.Storage = time.Since(storeStart)
	o.metrics.ObserveStage(observability.StageStorage, t.Storage)
	if err != nil {
		o.metrics.CountUpstreamError("storage", "write")
		slog.Error("Failed to persist audio", tint.Err(err))
		return Reply{}, fmt.Errorf("%w: %w", ErrPersist, err)
	}

	t.Total = time.Since(start)
	o.metrics.ObserveStage(observability.StageTotal, t.Total)

	slog.Info("Reply generated",
		"mode", o.generator.Mode(),
		"file", art.Filename,
		"reply", policy.Preview(content, 120),
		"audio_ms", wave.Duration().Milliseconds(),
		"llm_ms", t.LLM.Milliseconds(),
		"tts_ms", t.TTS.Milliseconds(),
		"storage_ms", t.Storage.Milliseconds(),
		"total_ms", t.Total.Milliseconds(),
	)
	return Reply{Text: content, Artifact: art, Audio: wave.Duration(), Timings: t}, nil
}

func llmErrorKind(err error) string {
	var cfgErr *llm.ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		return "config"
	case errors.Is(err, llm.ErrEmptyGeneration):
		return "empty"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "upstream"
	}
}
