package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"

	"github.com/antoniostano/hal/internal/app"
	"github.com/antoniostano/hal/internal/config"
	"github.com/antoniostano/hal/internal/llm"
	"github.com/antoniostano/hal/internal/logging"
)

func main() {
	if err := run(); err != nil {
		slog.Error("hal exited", tint.Err(err))
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	slog.SetDefault(logging.New(logging.Options{
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
		NoColor: cfg.LogNoColor,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			slog.Warn("Cleanup failed", tint.Err(err))
		}
	}()

	slog.Info("HAL ready",
		"llm_mode", res.Generator.Mode(),
		"tts_provider", cfg.TTSProvider,
		"tts", res.SpeechDetail,
		"output_dir", cfg.OutputDir,
	)

	if cfg.LLMWarmup {
		llm.StartWarmup(ctx, res.Generator, res.Metrics.CountWarmup)
	}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           res.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	if res.PersonaWatcher != nil {
		g.Go(func() error {
			return res.PersonaWatcher.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Graceful shutdown failed", tint.Err(err))
			_ = httpServer.Close()
		}
		return nil
	})

	err = g.Wait()
	slog.Info("Shutdown complete")
	return err
}
