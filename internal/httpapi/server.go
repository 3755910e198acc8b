package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/hal/internal/config"
	"github.com/antoniostano/hal/internal/observability"
	"github.com/antoniostano/hal/internal/voice"
)

const maxRequestBody = 64 << 10

// Replier runs the generate pipeline.
type Replier interface {
	Reply(ctx context.Context, text string) (voice.Reply, error)
	Mode() string
}

// ArtifactReader opens persisted audio by file name.
type ArtifactReader interface {
	Open(name string) (*os.File, error)
}

type Server struct {
	cfg       config.Config
	replier   Replier
	artifacts ArtifactReader
	metrics   *observability.Metrics
	upgrader  websocket.Upgrader
}

func New(cfg config.Config, replier Replier, artifacts ArtifactReader, metrics *observability.Metrics) *Server {
	s := &Server{
		cfg:       cfg,
		replier:   replier,
		artifacts: artifacts,
		metrics:   metrics,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{strings.TrimRight(s.cfg.FrontEndURL, "/")},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/generate", s.handleGenerate)
	r.Get("/audio/{filename}", s.handleAudio)
	r.Get("/v1/generate/ws", s.handleGenerateWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	mode := ""
	if s.replier != nil {
		mode = s.replier.Mode()
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"llm_mode":     mode,
		"tts_provider": s.cfg.TTSProvider,
	})
}

// checkOrigin admits non-browser clients, the configured front end and same-origin pages.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	if front, err := url.Parse(strings.TrimSpace(s.cfg.FrontEndURL)); err == nil && front.Host != "" {
		if strings.EqualFold(u.Scheme, front.Scheme) && strings.EqualFold(u.Host, front.Host) {
			return true
		}
	}
	return strings.EqualFold(u.Host, r.Host)
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			slog.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

type errorResponse struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

var (
	errEmptyBody    = errors.New("empty body")
	errTrailingData = errors.New("unexpected data after top-level value")
)

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errTrailingData
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, detail string) {
	respondJSON(w, status, errorResponse{Detail: detail, Code: code})
}
