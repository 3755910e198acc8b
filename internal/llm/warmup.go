package llm

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/lmittmann/tint"

	"github.com/antoniostano/hal/internal/reliability"
)

const (
	WarmupSkipped = "skipped"
	WarmupOK      = "ok"
	WarmupTimeout = "timeout"
	WarmupFailed  = "failed"
)

const (
	warmupBackoffBase = 250 * time.Millisecond
	warmupBackoffCap  = 4 * time.Second
)

// StartWarmup warms gen in the background when it supports it. Attempts that
// fail with a retryable upstream error are repeated with backoff until the
// warm-up window closes. It never blocks startup; report (optional) receives
// the outcome and the returned channel closes once warm-up is over.
func StartWarmup(parent context.Context, gen Generator, report func(outcome string)) <-chan struct{} {
	done := make(chan struct{})
	if report == nil {
		report = func(string) {}
	}

	warm, ok := gen.(Warmer)
	if !ok {
		slog.Debug("LLM warm-up skipped", "mode", gen.Mode())
		report(WarmupSkipped)
		close(done)
		return done
	}

	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(parent, warmupTimeout)
		defer cancel()

		err := reliability.Retry(ctx, warmupBackoffBase, warmupBackoffCap, retryableWarmup, func(attempt int) error {
			if attempt > 0 {
				slog.Debug("Retrying LLM warm-up", "attempt", attempt+1)
			}
			return warm.Warmup(ctx)
		})
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
				slog.Warn("LLM warm-up timed out", "mode", gen.Mode())
				report(WarmupTimeout)
				return
			}
			slog.Warn("LLM warm-up failed", "mode", gen.Mode(), tint.Err(err))
			report(WarmupFailed)
			return
		}
		slog.Info("LLM warm-up complete", "mode", gen.Mode())
		report(WarmupOK)
	}()
	return done
}

// retryableWarmup treats connection failures and 429/5xx answers as a server
// that is still starting. A reply that arrives but cannot be decoded is final.
func retryableWarmup(err error) bool {
	var up *UpstreamError
	if !errors.As(err, &up) {
		return false
	}
	if up.StatusCode > 0 {
		return reliability.IsRetryableHTTPStatus(up.StatusCode)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
