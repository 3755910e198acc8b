package speech

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

// TestWorkerHelperProcess is not a real test: it is the fake model worker the
// other tests launch by re-executing the test binary.
func TestWorkerHelperProcess(t *testing.T) {
	if os.Getenv("HAL_TTS_HELPER") != "1" {
		return
	}
	in := bufio.NewScanner(os.Stdin)
	enc := json.NewEncoder(os.Stdout)
	for in.Scan() {
		var req workerRequest
		if err := json.Unmarshal(in.Bytes(), &req); err != nil {
			os.Exit(2)
		}
		resp := workerResponse{ID: req.ID, OK: true}
		switch req.Op {
		case "ping":
		case "prepare":
			resp.RefAudio = req.RefAudio + ".clip.wav"
			resp.RefText = req.RefText
		case "synthesize":
			switch req.Text {
			case "die":
				os.Exit(3)
			case "garble":
				_, _ = os.Stdout.WriteString("not json\n")
				continue
			case "oom":
				resp.OK = false
				resp.Error = "CUDA out of memory"
			case "hang":
				time.Sleep(time.Minute)
			default:
				samples := make([]float32, len(req.Text))
				for i := range samples {
					samples[i] = 0.5
				}
				resp.SampleRate = 24000
				resp.Samples = encodeSamples(samples)
			}
		default:
			resp.OK = false
			resp.Error = "unknown op " + req.Op
		}
		_ = enc.Encode(resp)
	}
	os.Exit(0)
}

func startHelperWorker(t *testing.T) *Worker {
	t.Helper()
	w, err := startWorker(context.Background(), os.Args[0],
		[]string{"-test.run=^TestWorkerHelperProcess$"},
		[]string{"HAL_TTS_HELPER=1"})
	if err != nil {
		t.Fatalf("startWorker() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestWorkerPrepareAndSynthesize(t *testing.T) {
	w := startHelperWorker(t)
	ctx := context.Background()

	clip := writeRefClip(t)
	ref, err := w.PrepareReference(ctx, clip, "Good afternoon")
	if err != nil {
		t.Fatalf("PrepareReference() error = %v", err)
	}
	if ref.AudioPath != clip+".clip.wav" {
		t.Fatalf("ref.AudioPath = %q", ref.AudioPath)
	}
	if ref.Text != "Good afternoon. " {
		t.Fatalf("ref.Text = %q", ref.Text)
	}

	audio, err := w.Synthesize(ctx, ref, "Hello")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if audio.SampleRate != 24000 || len(audio.Samples) != 5 || audio.Samples[0] != 0.5 {
		t.Fatalf("audio = %+v", audio)
	}
}

func TestWorkerSerializesConcurrentCalls(t *testing.T) {
	w := startHelperWorker(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			text := strings.Repeat("a", n+1)
			audio, err := w.Synthesize(context.Background(), ReferenceVoice{}, text)
			if err != nil {
				errs <- err
				return
			}
			if len(audio.Samples) != n+1 {
				errs <- errors.New("response paired with the wrong request")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Synthesize() error = %v", err)
	}
}

func TestWorkerReportsModelError(t *testing.T) {
	w := startHelperWorker(t)

	_, err := w.Synthesize(context.Background(), ReferenceVoice{}, "oom")
	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) || synthErr.Detail != "CUDA out of memory" {
		t.Fatalf("Synthesize() error = %v, want model error", err)
	}

	// The worker stays usable after a reported failure.
	if _, err := w.Synthesize(context.Background(), ReferenceVoice{}, "ok"); err != nil {
		t.Fatalf("Synthesize() after failure error = %v", err)
	}
}

func TestWorkerProcessExit(t *testing.T) {
	w := startHelperWorker(t)

	_, err := w.Synthesize(context.Background(), ReferenceVoice{}, "die")
	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("Synthesize() error = %T %v, want *SynthesisError", err, err)
	}

	_, err = w.Synthesize(context.Background(), ReferenceVoice{}, "ok")
	if !errors.As(err, &synthErr) || synthErr.Detail != "tts worker closed" {
		t.Fatalf("Synthesize() after exit error = %v, want tts worker closed", err)
	}
}

func TestWorkerUnreadableReplyClosesWorker(t *testing.T) {
	w := startHelperWorker(t)

	_, err := w.Synthesize(context.Background(), ReferenceVoice{}, "garble")
	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) || !strings.HasPrefix(synthErr.Detail, "read from tts worker") {
		t.Fatalf("Synthesize() error = %v, want read failure", err)
	}

	start := time.Now()
	_, err = w.Synthesize(context.Background(), ReferenceVoice{}, "ok")
	if !errors.As(err, &synthErr) || synthErr.Detail != "tts worker closed" {
		t.Fatalf("Synthesize() after bad reply error = %v, want tts worker closed", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("closed worker took %s to fail", time.Since(start))
	}
}

func TestWorkerContextAbortClosesWorker(t *testing.T) {
	w := startHelperWorker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := w.Synthesize(ctx, ReferenceVoice{}, "hang")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Synthesize() error = %v, want deadline exceeded", err)
	}

	_, err = w.Synthesize(context.Background(), ReferenceVoice{}, "ok")
	if err == nil || !strings.Contains(err.Error(), "closed") {
		t.Fatalf("Synthesize() after abort error = %v, want closed", err)
	}
}

func TestStartWorkerMissingScript(t *testing.T) {
	_, err := StartWorker(context.Background(), WorkerConfig{Python: "python3", Script: "/nonexistent/f5_worker.py"})
	if err == nil || !strings.Contains(err.Error(), "script not found") {
		t.Fatalf("StartWorker() error = %v", err)
	}
}
