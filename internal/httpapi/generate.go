package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/lmittmann/tint"

	"github.com/antoniostano/hal/internal/audio"
	"github.com/antoniostano/hal/internal/llm"
	"github.com/antoniostano/hal/internal/speech"
	"github.com/antoniostano/hal/internal/voice"
)

type generateRequest struct {
	Text *string `json:"text"`
}

type generateResponse struct {
	Text     string `json:"text"`
	AudioURL string `json:"audio_url"`
}

// badRequest is a client mistake in the request body.
type badRequest struct {
	code   string
	detail string
}

func (e *badRequest) Error() string { return e.detail }

func parseGenerateRequest(w http.ResponseWriter, r *http.Request) (string, error) {
	var req generateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			return "", &badRequest{code: "invalid_json", detail: "Invalid JSON: request body is empty"}
		}
		return "", &badRequest{code: "invalid_json", detail: "Invalid JSON: " + err.Error()}
	}
	if req.Text == nil || strings.TrimSpace(*req.Text) == "" {
		return "", &badRequest{code: "missing_text", detail: "Missing 'text' field"}
	}
	return *req.Text, nil
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	text, err := parseGenerateRequest(w, r)
	if err != nil {
		s.fail(w, "generate", err)
		return
	}

	reply, err := s.replier.Reply(r.Context(), text)
	if err != nil {
		s.fail(w, "generate", err)
		return
	}

	s.metrics.CountRequest("generate", "ok")
	respondJSON(w, http.StatusOK, generateResponse{
		Text:     reply.Text,
		AudioURL: s.audioURL(r, reply.Artifact.Filename),
	})
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	f, err := s.artifacts.Open(name)
	if err != nil {
		if !errors.Is(err, audio.ErrNotFound) {
			slog.Error("Failed to open audio artifact", "file", name, tint.Err(err))
		}
		s.fail(w, "audio", err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.fail(w, "audio", err)
		return
	}
	s.metrics.CountRequest("audio", "ok")
	w.Header().Set("Content-Type", "audio/wav")
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s *Server) fail(w http.ResponseWriter, endpoint string, err error) {
	status, code, detail := classifyError(err)
	s.metrics.CountRequest(endpoint, code)
	respondError(w, status, code, detail)
}

// classifyError maps pipeline errors onto the HTTP error contract.
func classifyError(err error) (status int, code, detail string) {
	var (
		bad      *badRequest
		cfgErr   *llm.ConfigurationError
		upstream *llm.UpstreamError
		synthErr *speech.SynthesisError
	)
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest, bad.code, bad.detail
	case errors.Is(err, audio.ErrNotFound):
		return http.StatusNotFound, "audio_not_found", "Audio file not found"
	case errors.As(err, &cfgErr):
		return http.StatusInternalServerError, "llm_misconfigured", cfgErr.Message
	case errors.Is(err, llm.ErrEmptyGeneration):
		return http.StatusInternalServerError, "empty_generation", "No generated content"
	case errors.As(err, &upstream):
		return http.StatusInternalServerError, "llm_failed", "LLM request failed: " + upstream.Error()
	case errors.As(err, &synthErr):
		return http.StatusInternalServerError, "tts_failed", "TTS generation failed: " + synthErr.Error()
	case errors.Is(err, voice.ErrPersist):
		return http.StatusInternalServerError, "storage_failed", err.Error()
	default:
		return http.StatusInternalServerError, "internal_error", err.Error()
	}
}

// audioURL builds the public link for a stored file. PUBLIC_BASE_URL wins;
// otherwise the scheme and host come from the request as seen by the client.
func (s *Server) audioURL(r *http.Request, filename string) string {
	return baseURL(r, s.cfg.PublicBaseURL) + "/audio/" + filename
}

func baseURL(r *http.Request, override string) string {
	if override = strings.TrimRight(strings.TrimSpace(override), "/"); override != "" {
		return override
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		proto, _, _ = strings.Cut(proto, ",")
		if p := strings.ToLower(strings.TrimSpace(proto)); p == "http" || p == "https" {
			scheme = p
		}
	}
	return scheme + "://" + r.Host
}
