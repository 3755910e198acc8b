package voice

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/hal/internal/audio"
	"github.com/antoniostano/hal/internal/llm"
	"github.com/antoniostano/hal/internal/observability"
	"github.com/antoniostano/hal/internal/speech"
)

type fakeGenerator struct {
	reply string
	err   error
	seen  context.Context
}

func (f *fakeGenerator) Generate(ctx context.Context, _ string) (string, error) {
	f.seen = ctx
	return f.reply, f.err
}

func (f *fakeGenerator) Mode() string { return "fake" }

type mockSynth struct{ mock.Mock }

func (m *mockSynth) Synthesize(ctx context.Context, ref speech.ReferenceVoice, text string) (speech.Audio, error) {
	args := m.Called(ctx, ref, text)
	return args.Get(0).(speech.Audio), args.Error(1)
}

type failingStore struct{}

func (failingStore) Save([]float32, int) (audio.Artifact, error) {
	return audio.Artifact{}, errors.New("disk full")
}

var testRef = speech.ReferenceVoice{AudioPath: "ref.wav", Text: "Good afternoon. "}

func newTestOrchestrator(t *testing.T, gen llm.Generator, synth speech.Synthesizer, store ArtifactStore) (*Orchestrator, *observability.Metrics) {
	t.Helper()
	if store == nil {
		s, err := audio.NewStore(filepath.Join(t.TempDir(), "outputs"))
		require.NoError(t, err)
		store = s
	}
	m := observability.NewMetrics("hal", prometheus.NewRegistry())
	return NewOrchestrator(gen, synth, testRef, store, m), m
}

func tone() speech.Audio {
	return speech.Audio{Samples: make([]float32, 2400), SampleRate: 24000}
}

func TestReplyRunsPipeline(t *testing.T) {
	synth := new(mockSynth)
	synth.On("Synthesize", mock.Anything, testRef, "I'm sorry, Dave.").Return(tone(), nil).Once()

	o, m := newTestOrchestrator(t, &fakeGenerator{reply: "I'm sorry, Dave."}, synth, nil)
	reply, err := o.Reply(context.Background(), "Open the doors")
	require.NoError(t, err)

	assert.Equal(t, "I'm sorry, Dave.", reply.Text)
	assert.Regexp(t, `^output_[0-9a-f]{32}\.wav$`, reply.Artifact.Filename)
	assert.FileExists(t, reply.Artifact.Path)
	assert.Equal(t, 100*time.Millisecond, reply.Audio)
	assert.GreaterOrEqual(t, reply.Timings.Total, reply.Timings.LLM)
	synth.AssertExpectations(t)

	stages := map[string]int{}
	for _, s := range m.Window.Snapshot().Stages {
		stages[s.Stage] = s.Samples
	}
	assert.Equal(t, map[string]int{"llm": 1, "tts": 1, "storage": 1, "total": 1}, stages)
	assert.Zero(t, testutil.ToFloat64(m.InFlight))
}

func TestReplySpeaksSanitizedText(t *testing.T) {
	synth := new(mockSynth)
	synth.On("Synthesize", mock.Anything, testRef, "Look at the manual.").Return(tone(), nil).Once()

	o, _ := newTestOrchestrator(t, &fakeGenerator{reply: "Look at **the manual**. https://example.com"}, synth, nil)
	reply, err := o.Reply(context.Background(), "help")
	require.NoError(t, err)
	assert.Equal(t, "Look at **the manual**. https://example.com", reply.Text)
	synth.AssertExpectations(t)
}

func TestReplyGenerationErrorSkipsSynthesis(t *testing.T) {
	synth := new(mockSynth)
	cfgErr := &llm.ConfigurationError{Message: "Invalid LLM_MODE: x"}

	o, m := newTestOrchestrator(t, &fakeGenerator{err: cfgErr}, synth, nil)
	_, err := o.Reply(context.Background(), "hi")
	require.ErrorIs(t, err, cfgErr)
	synth.AssertNotCalled(t, "Synthesize", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamErrors.WithLabelValues("llm", "config")))
}

func TestReplyWrapsForeignSynthesisErrors(t *testing.T) {
	synth := new(mockSynth)
	synth.On("Synthesize", mock.Anything, mock.Anything, mock.Anything).Return(speech.Audio{}, errors.New("cuda gone"))

	o, _ := newTestOrchestrator(t, &fakeGenerator{reply: "ok"}, synth, nil)
	_, err := o.Reply(context.Background(), "hi")

	var synthErr *speech.SynthesisError
	require.ErrorAs(t, err, &synthErr)
	assert.Equal(t, "cuda gone", err.Error())
}

func TestReplyEmptyAudioIsSynthesisError(t *testing.T) {
	synth := new(mockSynth)
	synth.On("Synthesize", mock.Anything, mock.Anything, mock.Anything).Return(speech.Audio{SampleRate: 24000}, nil)

	o, _ := newTestOrchestrator(t, &fakeGenerator{reply: "ok"}, synth, nil)
	_, err := o.Reply(context.Background(), "hi")
	var synthErr *speech.SynthesisError
	require.ErrorAs(t, err, &synthErr)
}

func TestReplyPersistFailure(t *testing.T) {
	synth := new(mockSynth)
	synth.On("Synthesize", mock.Anything, mock.Anything, mock.Anything).Return(tone(), nil)

	o, _ := newTestOrchestrator(t, &fakeGenerator{reply: "ok"}, synth, failingStore{})
	_, err := o.Reply(context.Background(), "hi")
	require.ErrorIs(t, err, ErrPersist)
	assert.Contains(t, err.Error(), "disk full")
}

func TestReplySynthesisIgnoresCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	synth := new(mockSynth)
	synth.On("Synthesize", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			cancel()
			assert.NoError(t, args.Get(0).(context.Context).Err())
		}).
		Return(tone(), nil)

	o, _ := newTestOrchestrator(t, &fakeGenerator{reply: "ok"}, synth, nil)
	_, err := o.Reply(ctx, "hi")
	require.NoError(t, err)
}

func TestSpokenForm(t *testing.T) {
	cases := map[string]struct{ in, want string }{
		"emoji and markers": {in: "Sure 😊 **let's** do this / now.", want: "Sure let's do this / now."},
		"link label kept":   {in: "Read [the docs](https://example.com/docs) first.", want: "Read the docs first."},
		"code removed":      {in: "```bash\nrm -rf /\n```\nThen run `make test` ✅", want: "Then run"},
		"symbols kept":      {in: "Only 9% of crew, 3/4 of pods & 2+2=4 remain.", want: "Only 9% of crew, 3/4 of pods & 2+2=4 remain."},
		"arithmetic stars":  {in: "Compute 2*3*4 < 30 > 5 @ $12 #1.", want: "Compute 2*3*4 < 30 > 5 @ $12 #1."},
		"headings bullets":  {in: "## Status\n- pods: 3\n> all nominal", want: "Status pods: 3 all nominal"},
		"underscore emph":   {in: "It is _quite_ ~~not~~ certain, file_name stays.", want: "It is quite not certain, file_name stays."},
		"emoji sequence":    {in: "Crew 👩🏽‍🚀 ready 🇺🇸!", want: "Crew ready!"},
		"plain":             {in: "I'm afraid I can't do that, Dave.", want: "I'm afraid I can't do that, Dave."},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, SpokenForm(tc.in))
		})
	}
}
