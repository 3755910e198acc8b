package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	apiReference  = "/v1/reference"
	apiSynthesize = "/v1/synthesize"
	apiHealth     = "/health"
)

// HTTPSynthesizer calls a remote synthesis server that hosts the model.
type HTTPSynthesizer struct {
	baseURL    string
	httpClient *http.Client
}

type referencePayload struct {
	RefAudio string `json:"ref_audio"`
	RefText  string `json:"ref_text"`
}

type synthesizePayload struct {
	RefAudio string `json:"ref_audio"`
	RefText  string `json:"ref_text"`
	Text     string `json:"text"`
}

type synthesizeReply struct {
	SampleRate int    `json:"sample_rate"`
	Samples    string `json:"samples_b64"`
}

type errorReply struct {
	Detail string `json:"detail"`
}

// NewHTTPSynthesizer builds a client for baseURL. A zero timeout means no
// client-side limit, matching the in-process worker.
func NewHTTPSynthesizer(baseURL string, timeout time.Duration) *HTTPSynthesizer {
	return &HTTPSynthesizer{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPSynthesizer) PrepareReference(ctx context.Context, audioPath, text string) (ReferenceVoice, error) {
	if _, err := os.Stat(audioPath); err != nil {
		return ReferenceVoice{}, fmt.Errorf("reference audio: %w", err)
	}
	var out referencePayload
	err := c.postJSON(ctx, apiReference, referencePayload{
		RefAudio: audioPath,
		RefText:  NormalizeReferenceText(text),
	}, &out)
	if err != nil {
		return ReferenceVoice{}, err
	}
	if out.RefAudio == "" {
		out.RefAudio = audioPath
	}
	if out.RefText == "" {
		out.RefText = NormalizeReferenceText(text)
	}
	return ReferenceVoice{AudioPath: out.RefAudio, Text: out.RefText}, nil
}

func (c *HTTPSynthesizer) Synthesize(ctx context.Context, ref ReferenceVoice, text string) (Audio, error) {
	var out synthesizeReply
	err := c.postJSON(ctx, apiSynthesize, synthesizePayload{
		RefAudio: ref.AudioPath,
		RefText:  ref.Text,
		Text:     text,
	}, &out)
	if err != nil {
		return Audio{}, err
	}
	samples, err := decodeSamples(out.Samples)
	if err != nil {
		return Audio{}, &SynthesisError{Detail: "invalid synthesis response", Err: err}
	}
	if out.SampleRate <= 0 {
		return Audio{}, &SynthesisError{Detail: fmt.Sprintf("invalid sample rate %d", out.SampleRate)}
	}
	return Audio{Samples: samples, SampleRate: out.SampleRate}, nil
}

// HealthCheck reports whether the synthesis server is up.
func (c *HTTPSynthesizer) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for synthesis server at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}
	return nil
}

func (c *HTTPSynthesizer) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return &SynthesisError{Detail: "failed to create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &SynthesisError{Detail: fmt.Sprintf("synthesis server at %s unreachable", c.baseURL), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseErrorReply(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &SynthesisError{Detail: "failed to decode synthesis response", Err: err}
	}
	return nil
}

// parseErrorReply prefers a structured {"detail"} body and falls back to the raw text.
func parseErrorReply(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	var e errorReply
	if err := json.Unmarshal(raw, &e); err == nil && strings.TrimSpace(e.Detail) != "" {
		return &SynthesisError{Detail: fmt.Sprintf("synthesis server error (%s): %s", resp.Status, e.Detail)}
	}
	return &SynthesisError{Detail: fmt.Sprintf("synthesis server returned %s: %s", resp.Status, strings.TrimSpace(string(raw)))}
}
