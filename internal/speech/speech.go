// Package speech is the boundary to the voice-cloning synthesis model. The
// model itself runs out of process; this package speaks its call/response
// contract and normalises inputs on the way in.
package speech

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// Audio is a mono waveform with samples nominally in [-1, 1].
type Audio struct {
	Samples    []float32
	SampleRate int
}

// Duration reports the playback length.
func (a Audio) Duration() time.Duration {
	if a.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(a.Samples)) * time.Second / time.Duration(a.SampleRate)
}

// ReferenceVoice is the prepared clip and transcript the model clones from.
// It is built once at startup and shared read-only.
type ReferenceVoice struct {
	AudioPath string
	Text      string
}

// Synthesizer renders text in the reference voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, ref ReferenceVoice, text string) (Audio, error)
}

// ReferencePreparer turns a raw clip and transcript into a ReferenceVoice.
type ReferencePreparer interface {
	PrepareReference(ctx context.Context, audioPath, text string) (ReferenceVoice, error)
}

// SynthesisError wraps any failure inside the synthesis backend.
type SynthesisError struct {
	Detail string
	Err    error
}

func (e *SynthesisError) Error() string {
	if e.Err != nil && e.Detail == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Detail, e.Err)
	}
	return e.Detail
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// NormalizeReferenceText trims a transcript and terminates it with ". " when it
// lacks sentence punctuation, so the model does not run the reference into the
// generated text.
func NormalizeReferenceText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	switch text[len(text)-1] {
	case '.', '!', '?':
		return text + " "
	}
	if strings.HasSuffix(text, "。") {
		return text
	}
	return text + ". "
}

func encodeSamples(samples []float32) string {
	buf := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func decodeSamples(b64 string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, fmt.Errorf("decode samples: %w", err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("decode samples: %d bytes is not a whole number of float32 samples", len(raw))
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}
