package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"

	"github.com/antoniostano/hal/internal/config"
	"github.com/antoniostano/hal/internal/speech"
)

type speechSetup struct {
	synth    speech.Synthesizer
	preparer speech.ReferencePreparer
	detail   string
	cleanup  func() error
}

func resolveSpeech(ctx context.Context, cfg config.Config) (speechSetup, error) {
	switch cfg.TTSProvider {
	case "worker":
		w, err := speech.StartWorker(ctx, speech.WorkerConfig{
			Python:     cfg.TTSWorkerPython,
			Script:     cfg.TTSWorkerScript,
			ModelName:  cfg.ModelName,
			Checkpoint: cfg.CheckpointPath,
			ModelCfg:   cfg.ModelCfgPath,
			Vocab:      cfg.VocabPath,
			Device:     cfg.TTSDevice,
			VoiceModel: cfg.VoiceModelPath,
		})
		if err != nil {
			return speechSetup{}, fmt.Errorf("tts worker init failed: %w", err)
		}
		return speechSetup{
			synth:    w,
			preparer: w,
			detail:   fmt.Sprintf("worker (%s on %s)", cfg.ModelName, cfg.TTSDevice),
			cleanup:  w.Close,
		}, nil
	case "http":
		c := speech.NewHTTPSynthesizer(cfg.TTSHTTPURL, 0)
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := c.HealthCheck(hctx); err != nil {
			slog.Warn("Synthesis server not healthy yet", "url", cfg.TTSHTTPURL, tint.Err(err))
		}
		return speechSetup{synth: c, preparer: c, detail: "http " + cfg.TTSHTTPURL}, nil
	case "mock":
		return speechSetup{synth: speech.Mock{}, preparer: speech.Mock{}, detail: "mock tone"}, nil
	default:
		return speechSetup{}, fmt.Errorf("invalid TTS_PROVIDER: %q (expected worker|http|mock)", cfg.TTSProvider)
	}
}
