package speech

import (
	"context"
	"math"
	"strings"
)

const (
	mockSampleRate     = 24000
	mockSamplesPerRune = 600
)

// Mock renders a quiet tone whose length grows with the text. It lets the
// service run end to end without a model.
type Mock struct{}

func (Mock) PrepareReference(_ context.Context, audioPath, text string) (ReferenceVoice, error) {
	return ReferenceVoice{AudioPath: audioPath, Text: NormalizeReferenceText(text)}, nil
}

func (Mock) Synthesize(_ context.Context, _ ReferenceVoice, text string) (Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Audio{}, &SynthesisError{Detail: "empty text"}
	}
	n := mockSamplesPerRune * len([]rune(text))
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.2 * math.Sin(2*math.Pi*220*float64(i)/mockSampleRate))
	}
	return Audio{Samples: samples, SampleRate: mockSampleRate}, nil
}
