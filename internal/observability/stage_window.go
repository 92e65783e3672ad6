package observability

import (
	"math"
	"slices"
	"sync"
	"time"
)

// Stage names one measured span of the message and playback path.
type Stage string

const (
	// StageReplyDelay is the scheduled wait between a self message and the partner reply.
	StageReplyDelay Stage = "reply_delay"
	// StageSpeakToStart runs from handing a chunk to the engine until it reports start.
	StageSpeakToStart Stage = "speak_to_start"
	// StageChunkTotal runs from handing a chunk to the engine until it ends.
	StageChunkTotal Stage = "chunk_total"
)

// Chunk outcomes counted next to the latency stages.
const (
	OutcomeEnded       = "ended"
	OutcomeErrored     = "errored"
	OutcomeInterrupted = "interrupted"
	OutcomeUnavailable = "unavailable"
)

var stageOrder = []Stage{StageReplyDelay, StageSpeakToStart, StageChunkTotal}

// Budgets for the p95 of each stage, in milliseconds.
var stageBudgetMS = map[Stage]float64{
	StageReplyDelay:   3500,
	StageSpeakToStart: 300,
	StageChunkTotal:   15000,
}

type StageStats struct {
	Stage       Stage   `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	MaxMS       float64 `json:"max_ms"`
	BudgetP95MS float64 `json:"budget_p95_ms"`
	OverBudget  bool    `json:"over_budget"`
}

type StageSnapshot struct {
	GeneratedAt   time.Time      `json:"generated_at"`
	WindowSize    int            `json:"window_size"`
	Stages        []StageStats   `json:"stages"`
	ChunkOutcomes map[string]int `json:"chunk_outcomes"`
}

// stageWindow keeps the most recent samples of each known stage, oldest first.
type stageWindow struct {
	mu       sync.Mutex
	size     int
	samples  map[Stage][]float64
	outcomes map[string]int
}

func newStageWindow(size int) *stageWindow {
	if size <= 0 {
		size = 256
	}
	return &stageWindow{
		size:     size,
		samples:  make(map[Stage][]float64),
		outcomes: make(map[string]int),
	}
}

// Observe records ms for stage. Unknown stages and invalid values are dropped.
func (w *stageWindow) Observe(stage Stage, ms float64) {
	if _, known := stageBudgetMS[stage]; !known || ms < 0 || math.IsNaN(ms) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	s := append(w.samples[stage], ms)
	if len(s) > w.size {
		s = s[len(s)-w.size:]
	}
	w.samples[stage] = s
}

func (w *stageWindow) countOutcome(outcome string) {
	if outcome == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.outcomes[outcome]++
}

func (w *stageWindow) Snapshot() StageSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := StageSnapshot{
		GeneratedAt:   time.Now().UTC(),
		WindowSize:    w.size,
		Stages:        make([]StageStats, 0, len(stageOrder)),
		ChunkOutcomes: make(map[string]int, len(w.outcomes)),
	}
	for _, stage := range stageOrder {
		if s := w.samples[stage]; len(s) > 0 {
			snap.Stages = append(snap.Stages, summarize(stage, s))
		}
	}
	for k, v := range w.outcomes {
		snap.ChunkOutcomes[k] = v
	}
	return snap
}

func (w *stageWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = make(map[Stage][]float64)
	w.outcomes = make(map[string]int)
}

func summarize(stage Stage, window []float64) StageStats {
	sorted := slices.Clone(window)
	slices.Sort(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	budget := stageBudgetMS[stage]
	p95 := percentile(sorted, 0.95)
	return StageStats{
		Stage:       stage,
		Samples:     len(sorted),
		LastMS:      round2(window[len(window)-1]),
		AvgMS:       round2(sum / float64(len(sorted))),
		P50MS:       round2(percentile(sorted, 0.50)),
		P95MS:       round2(p95),
		MaxMS:       round2(sorted[len(sorted)-1]),
		BudgetP95MS: budget,
		OverBudget:  p95 > budget,
	}
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []float64, q float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*(pos-float64(lo))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
