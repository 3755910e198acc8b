package observability

import (
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// Pipeline stages recorded per generate request.
const (
	StageLLM     = "llm"
	StageTTS     = "tts"
	StageStorage = "storage"
	StageTotal   = "total"
)

type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type OutcomeCount struct {
	Outcome string `json:"outcome"`
	Count   int    `json:"count"`
}

type StageSnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	WindowSize  int            `json:"window_size"`
	Stages      []StageStats   `json:"stages"`
	Outcomes    []OutcomeCount `json:"outcomes,omitempty"`
}

// StageWindow keeps the most recent latencies per stage in fixed ring buffers
// and counts request outcomes since the last reset.
type StageWindow struct {
	mu         sync.RWMutex
	maxSamples int
	stages     map[string]*ring
	outcomes   map[string]int
}

type ring struct {
	values []float64
	next   int
	filled bool
	last   float64
}

func NewStageWindow(maxSamples int) *StageWindow {
	if maxSamples <= 0 {
		maxSamples = 256
	}
	return &StageWindow{
		maxSamples: maxSamples,
		stages:     make(map[string]*ring),
		outcomes:   make(map[string]int),
	}
}

func (w *StageWindow) Observe(stage string, d time.Duration) {
	if w == nil || stage == "" || d < 0 {
		return
	}
	ms := float64(d) / float64(time.Millisecond)

	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.stages[stage]
	if !ok {
		r = &ring{values: make([]float64, w.maxSamples)}
		w.stages[stage] = r
	}
	r.values[r.next] = ms
	r.last = ms
	r.next++
	if r.next == len(r.values) {
		r.next = 0
		r.filled = true
	}
}

func (w *StageWindow) CountOutcome(outcome string) {
	if w == nil {
		return
	}
	outcome = strings.TrimSpace(outcome)
	if outcome == "" {
		return
	}
	w.mu.Lock()
	w.outcomes[outcome]++
	w.mu.Unlock()
}

func (w *StageWindow) Snapshot() StageSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	snap := StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.maxSamples,
		Stages:      make([]StageStats, 0, len(w.stages)),
	}
	for _, stage := range slices.Sorted(maps.Keys(w.stages)) {
		r := w.stages[stage]
		n := r.next
		if r.filled {
			n = len(r.values)
		}
		if n == 0 {
			continue
		}
		samples := slices.Clone(r.values[:n])
		slices.Sort(samples)

		sum := 0.0
		for _, v := range samples {
			sum += v
		}
		snap.Stages = append(snap.Stages, StageStats{
			Stage:       stage,
			Samples:     n,
			LastMS:      round2(r.last),
			AvgMS:       round2(sum / float64(n)),
			P50MS:       round2(quantile(samples, 0.50)),
			P95MS:       round2(quantile(samples, 0.95)),
			P99MS:       round2(quantile(samples, 0.99)),
			TargetP95MS: targetP95MS[stage],
		})
	}
	for _, outcome := range slices.Sorted(maps.Keys(w.outcomes)) {
		snap.Outcomes = append(snap.Outcomes, OutcomeCount{Outcome: outcome, Count: w.outcomes[outcome]})
	}
	return snap
}

func (w *StageWindow) Reset() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stages = make(map[string]*ring)
	w.outcomes = make(map[string]int)
}

// Budgets for a two-sentence reply on a single GPU host.
var targetP95MS = map[string]float64{
	StageLLM:     2500,
	StageTTS:     4000,
	StageStorage: 50,
	StageTotal:   7000,
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
