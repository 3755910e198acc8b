package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const workerStartTimeout = 3 * time.Minute

// WorkerConfig describes the model worker process.
type WorkerConfig struct {
	Python     string
	Script     string
	ModelName  string
	Checkpoint string
	ModelCfg   string
	Vocab      string
	Device     string
	VoiceModel string
}

// Worker drives a long-lived synthesis process over newline-delimited JSON on
// stdin/stdout. One request is in flight at a time.
type Worker struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	dec    *json.Decoder
	stderr *tailBuffer
	seq    uint64
	closed bool
}

type workerRequest struct {
	ID       string `json:"id"`
	Op       string `json:"op"`
	RefAudio string `json:"ref_audio,omitempty"`
	RefText  string `json:"ref_text,omitempty"`
	Text     string `json:"text,omitempty"`
}

type workerResponse struct {
	ID         string `json:"id"`
	OK         bool   `json:"ok"`
	Error      string `json:"error"`
	SampleRate int    `json:"sample_rate"`
	Samples    string `json:"samples_b64"`
	RefAudio   string `json:"ref_audio"`
	RefText    string `json:"ref_text"`
}

// StartWorker launches the worker and waits for it to load the model. Load
// failures surface here rather than on the first request.
func StartWorker(ctx context.Context, cfg WorkerConfig) (*Worker, error) {
	py := strings.TrimSpace(cfg.Python)
	if py == "" {
		for _, candidate := range []string{".venv/bin/python3", ".venv/bin/python", "python3"} {
			if p, err := exec.LookPath(candidate); err == nil && strings.TrimSpace(p) != "" {
				py = p
				break
			}
		}
	}
	if py == "" {
		return nil, fmt.Errorf("TTS_WORKER_PYTHON not set and python3 not found on PATH")
	}

	script := strings.TrimSpace(cfg.Script)
	if script == "" {
		script = "scripts/f5_worker.py"
	}
	if !filepath.IsAbs(script) {
		if wd, err := os.Getwd(); err == nil {
			script = filepath.Join(wd, script)
		}
	}
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("tts worker script not found: %s", script)
	}

	args := []string{"-u", script}
	for _, kv := range [][2]string{
		{"--model", cfg.ModelName},
		{"--ckpt-file", cfg.Checkpoint},
		{"--model-cfg", cfg.ModelCfg},
		{"--vocab-file", cfg.Vocab},
		{"--device", cfg.Device},
		{"--voice-model", cfg.VoiceModel},
	} {
		if v := strings.TrimSpace(kv[1]); v != "" {
			args = append(args, kv[0], v)
		}
	}
	return startWorker(ctx, py, args, []string{"PYTORCH_ENABLE_MPS_FALLBACK=1"})
}

func startWorker(ctx context.Context, name string, args, extraEnv []string) (*Worker, error) {
	cmd := exec.Command(name, args...)
	cmd.Env = append(os.Environ(), extraEnv...)
	stderr := newTailBuffer(16 << 10)
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start tts worker: %w", err)
	}

	w := &Worker{cmd: cmd, stdin: stdin, dec: json.NewDecoder(stdout), stderr: stderr}

	startCtx, cancel := context.WithTimeout(ctx, workerStartTimeout)
	defer cancel()
	if _, err := w.call(startCtx, workerRequest{Op: "ping"}); err != nil {
		_ = w.Close()
		msg := stderr.String()
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("tts worker failed to start: %s", msg)
	}
	return w, nil
}

// PrepareReference asks the worker to clip and resample the reference clip.
func (w *Worker) PrepareReference(ctx context.Context, audioPath, text string) (ReferenceVoice, error) {
	if _, err := os.Stat(audioPath); err != nil {
		return ReferenceVoice{}, fmt.Errorf("reference audio: %w", err)
	}
	resp, err := w.call(ctx, workerRequest{
		Op:       "prepare",
		RefAudio: audioPath,
		RefText:  NormalizeReferenceText(text),
	})
	if err != nil {
		return ReferenceVoice{}, err
	}
	ref := ReferenceVoice{AudioPath: resp.RefAudio, Text: resp.RefText}
	if ref.AudioPath == "" {
		ref.AudioPath = audioPath
	}
	if ref.Text == "" {
		ref.Text = NormalizeReferenceText(text)
	}
	return ref, nil
}

func (w *Worker) Synthesize(ctx context.Context, ref ReferenceVoice, text string) (Audio, error) {
	resp, err := w.call(ctx, workerRequest{
		Op:       "synthesize",
		RefAudio: ref.AudioPath,
		RefText:  ref.Text,
		Text:     text,
	})
	if err != nil {
		return Audio{}, err
	}
	samples, err := decodeSamples(resp.Samples)
	if err != nil {
		return Audio{}, &SynthesisError{Detail: "invalid worker audio", Err: err}
	}
	if resp.SampleRate <= 0 {
		return Audio{}, &SynthesisError{Detail: fmt.Sprintf("invalid sample rate %d", resp.SampleRate)}
	}
	return Audio{Samples: samples, SampleRate: resp.SampleRate}, nil
}

// call sends one request and waits for its response. If ctx ends first or the
// response cannot be read, the stream can no longer be trusted and the worker
// is shut down.
func (w *Worker) call(ctx context.Context, req workerRequest) (workerResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return workerResponse{}, &SynthesisError{Detail: "tts worker closed"}
	}

	w.seq++
	req.ID = fmt.Sprintf("req-%d", w.seq)
	b, _ := json.Marshal(req)
	b = append(b, '\n')
	if _, err := w.stdin.Write(b); err != nil {
		return workerResponse{}, &SynthesisError{Detail: "write to tts worker", Err: err}
	}

	type result struct {
		resp workerResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		var resp workerResponse
		err := w.dec.Decode(&resp)
		done <- result{resp: resp, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		w.shutdownLocked()
		<-done
		return workerResponse{}, &SynthesisError{Detail: "tts worker aborted", Err: ctx.Err()}
	}

	if res.err != nil {
		w.shutdownLocked()
		detail := "read from tts worker"
		if tail := w.stderr.String(); tail != "" {
			detail += ": " + lastLine(tail)
		}
		return workerResponse{}, &SynthesisError{Detail: detail, Err: res.err}
	}
	if res.resp.ID != req.ID {
		return workerResponse{}, &SynthesisError{Detail: fmt.Sprintf("tts worker out-of-sync (got %q, expected %q)", res.resp.ID, req.ID)}
	}
	if !res.resp.OK {
		msg := strings.TrimSpace(res.resp.Error)
		if msg == "" {
			msg = "unknown tts worker error"
		}
		return workerResponse{}, &SynthesisError{Detail: msg}
	}
	return res.resp, nil
}

func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.shutdownLocked()
	return nil
}

func (w *Worker) shutdownLocked() {
	if w.closed {
		return
	}
	w.closed = true
	stdin, cmd := w.stdin, w.cmd
	w.stdin, w.cmd = nil, nil

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd == nil || cmd.Process == nil {
		return
	}

	_ = cmd.Process.Signal(os.Interrupt)
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-time.After(1200 * time.Millisecond):
		_ = cmd.Process.Kill()
		<-done
	case <-done:
	}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	if max <= 0 {
		max = 16 << 10
	}
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(bytes.ToValidUTF8(t.buf, nil)))
}
