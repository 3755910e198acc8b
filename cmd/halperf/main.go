// Command halperf fires concurrent generate requests at a running HAL server
// and reports latency percentiles. It exits non-zero when any request fails or
// two replies share an audio file.
package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/antoniostano/hal/internal/protocol"
)

type options struct {
	baseURL     string
	requests    int
	concurrency int
	texts       []string
	ws          bool
	fetchAudio  bool
	timeout     time.Duration
	verbose     bool
}

type result struct {
	latency  time.Duration
	filename string
	audio    time.Duration
	err      error
}

type summary struct {
	ok         int
	failed     int
	p50        time.Duration
	p95        time.Duration
	max        time.Duration
	duplicates []string
}

var defaultUtterances = []string{
	"Open the pod bay doors.",
	"What is the status of the AE-35 unit?",
	"Are you feeling all right?",
	"Sing me a song.",
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "halperf: %v\n", err)
		os.Exit(2)
	}
	results, err := run(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "halperf: %v\n", err)
		os.Exit(1)
	}
	sum := summarize(results)
	printSummary(os.Stdout, sum, len(results))
	if sum.failed > 0 || len(sum.duplicates) > 0 {
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	var textsRaw string
	var timeoutMS int

	fs := flag.NewFlagSet("halperf", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8000", "HAL base URL")
	fs.IntVar(&cfg.requests, "requests", 8, "total number of generate requests")
	fs.IntVar(&cfg.concurrency, "concurrency", 4, "requests in flight at once")
	fs.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	fs.BoolVar(&cfg.ws, "ws", false, "use the websocket endpoint instead of POST /generate")
	fs.BoolVar(&cfg.fetchAudio, "fetch-audio", true, "download and validate each WAV")
	fs.IntVar(&timeoutMS, "timeout-ms", 60000, "per-request timeout in milliseconds")
	fs.BoolVar(&cfg.verbose, "verbose", false, "print each reply")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.requests <= 0 {
		return options{}, fmt.Errorf("requests must be > 0")
	}
	if cfg.concurrency <= 0 {
		return options{}, fmt.Errorf("concurrency must be > 0")
	}
	if cfg.concurrency > cfg.requests {
		cfg.concurrency = cfg.requests
	}
	if timeoutMS < 1000 {
		timeoutMS = 1000
	}
	cfg.timeout = time.Duration(timeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return cfg, nil
}

// run spreads the requests over cfg.concurrency workers. In websocket mode
// each worker holds its own connection.
func run(ctx context.Context, cfg options) ([]result, error) {
	client := &http.Client{Timeout: cfg.timeout}
	jobs := make(chan int)
	results := make([]result, cfg.requests)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for i := range cfg.requests {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var printMu sync.Mutex
	for range cfg.concurrency {
		g.Go(func() error {
			var conn *websocket.Conn
			if cfg.ws {
				wsURL, err := generateWSURL(cfg.baseURL)
				if err != nil {
					return err
				}
				conn, _, err = websocket.DefaultDialer.DialContext(gctx, wsURL, nil)
				if err != nil {
					return fmt.Errorf("dial %s: %w", wsURL, err)
				}
				defer conn.Close()
			}

			for i := range jobs {
				text := cfg.texts[i%len(cfg.texts)]
				res := oneRequest(gctx, client, conn, cfg, text)
				results[i] = res
				if cfg.verbose {
					printMu.Lock()
					if res.err != nil {
						fmt.Fprintf(os.Stderr, "halperf: #%d %q failed: %v\n", i, text, res.err)
					} else {
						fmt.Fprintf(os.Stderr, "halperf: #%d %q -> %s in %s\n", i, text, res.filename, res.latency.Round(time.Millisecond))
					}
					printMu.Unlock()
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func oneRequest(ctx context.Context, client *http.Client, conn *websocket.Conn, cfg options, text string) result {
	start := time.Now()
	var (
		reply protocol.Frame
		err   error
	)
	if conn != nil {
		reply, err = generateWS(conn, text, cfg.timeout)
	} else {
		reply, err = generateHTTP(ctx, client, cfg.baseURL, text)
	}
	res := result{latency: time.Since(start), err: err}
	if err != nil {
		return res
	}

	u, err := url.Parse(reply.AudioURL)
	if err != nil || path.Base(u.Path) == "." || path.Base(u.Path) == "/" {
		res.err = fmt.Errorf("bad audio_url %q", reply.AudioURL)
		return res
	}
	res.filename = path.Base(u.Path)

	if cfg.fetchAudio {
		res.audio, res.err = fetchAudio(ctx, client, reply.AudioURL)
	}
	return res
}

func generateHTTP(ctx context.Context, client *http.Client, baseURL, text string) (protocol.Frame, error) {
	body, _ := json.Marshal(map[string]string{"text": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return protocol.Frame{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return protocol.Frame{}, err
	}
	defer resp.Body.Close()

	var reply protocol.Frame
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&reply); err != nil {
		return protocol.Frame{}, fmt.Errorf("decode reply (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return protocol.Frame{}, fmt.Errorf("status %d: %s (%s)", resp.StatusCode, reply.Detail, reply.Code)
	}
	return reply, nil
}

func generateWS(conn *websocket.Conn, text string, timeout time.Duration) (protocol.Frame, error) {
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	if err := conn.WriteJSON(map[string]string{"text": text}); err != nil {
		return protocol.Frame{}, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	var reply protocol.Frame
	if err := conn.ReadJSON(&reply); err != nil {
		return protocol.Frame{}, err
	}
	if reply.Type != protocol.TypeReply {
		return protocol.Frame{}, fmt.Errorf("%s: %s (%s)", reply.Type, reply.Detail, reply.Code)
	}
	return reply, nil
}

func fetchAudio(ctx context.Context, client *http.Client, audioURL string) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetch %s: status %d", audioURL, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	return checkWAV(data)
}

// checkWAV validates a mono 16-bit PCM WAV and returns its duration.
func checkWAV(data []byte) (time.Duration, error) {
	if len(data) < 44 {
		return 0, fmt.Errorf("wav too short")
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, fmt.Errorf("missing RIFF/WAVE header")
	}

	var (
		sampleRate uint32
		haveFmt    bool
	)
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		offset += 8
		if chunkSize < 0 || offset+chunkSize > len(data) {
			return 0, fmt.Errorf("invalid %q chunk size %d", chunkID, chunkSize)
		}
		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return 0, fmt.Errorf("invalid fmt chunk")
			}
			format := binary.LittleEndian.Uint16(data[offset : offset+2])
			channels := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
			sampleRate = binary.LittleEndian.Uint32(data[offset+4 : offset+8])
			bits := binary.LittleEndian.Uint16(data[offset+14 : offset+16])
			if format != 1 || channels != 1 || bits != 16 || sampleRate == 0 {
				return 0, fmt.Errorf("unexpected format=%d channels=%d bits=%d rate=%d", format, channels, bits, sampleRate)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return 0, fmt.Errorf("data chunk before fmt chunk")
			}
			if chunkSize == 0 {
				return 0, fmt.Errorf("wav has no samples")
			}
			frames := chunkSize / 2
			return time.Duration(frames) * time.Second / time.Duration(sampleRate), nil
		}
		offset += chunkSize
		if chunkSize%2 == 1 {
			offset++
		}
	}
	return 0, fmt.Errorf("missing data chunk")
}

func generateWSURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/generate/ws"
	return u.String(), nil
}

func summarize(results []result) summary {
	var (
		sum       summary
		latencies []time.Duration
		seen      = make(map[string]int, len(results))
	)
	for _, r := range results {
		if r.err != nil {
			sum.failed++
			continue
		}
		sum.ok++
		latencies = append(latencies, r.latency)
		seen[r.filename]++
	}
	for name, n := range seen {
		if n > 1 {
			sum.duplicates = append(sum.duplicates, name)
		}
	}
	slices.Sort(sum.duplicates)

	if len(latencies) == 0 {
		return sum
	}
	slices.Sort(latencies)
	sum.p50 = percentile(latencies, 0.50)
	sum.p95 = percentile(latencies, 0.95)
	sum.max = latencies[len(latencies)-1]
	return sum
}

// percentile uses the nearest-rank method on sorted input.
func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(q*float64(len(sorted)))) - 1
	rank = max(0, min(rank, len(sorted)-1))
	return sorted[rank]
}

func printSummary(w io.Writer, sum summary, total int) {
	fmt.Fprintf(w, "requests: %d ok, %d failed (of %d)\n", sum.ok, sum.failed, total)
	if sum.ok > 0 {
		fmt.Fprintf(w, "latency:  p50=%s p95=%s max=%s\n",
			sum.p50.Round(time.Millisecond), sum.p95.Round(time.Millisecond), sum.max.Round(time.Millisecond))
	}
	if len(sum.duplicates) > 0 {
		fmt.Fprintf(w, "duplicate audio files: %s\n", strings.Join(sum.duplicates, ", "))
	}
}
