package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := newStageWindow(8)
	w.Observe(StageReplyDelay, 1500)
	w.Observe(StageReplyDelay, 2500)
	w.Observe(StageReplyDelay, 3500)
	w.countOutcome(OutcomeUnavailable)
	w.countOutcome(OutcomeUnavailable)

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageReplyDelay {
		t.Fatalf("Stage = %q, want %q", s.Stage, StageReplyDelay)
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 3500 {
		t.Fatalf("LastMS = %.2f, want 3500", s.LastMS)
	}
	if s.P50MS != 2500 {
		t.Fatalf("P50MS = %.2f, want 2500", s.P50MS)
	}
	if s.MaxMS != 3500 {
		t.Fatalf("MaxMS = %.2f, want 3500", s.MaxMS)
	}
	if s.BudgetP95MS != 3500 || s.OverBudget {
		t.Fatalf("budget = %.2f over = %v, want 3500 within budget", s.BudgetP95MS, s.OverBudget)
	}
	if got := snap.ChunkOutcomes[OutcomeUnavailable]; got != 2 {
		t.Fatalf("ChunkOutcomes[%s] = %d, want 2", OutcomeUnavailable, got)
	}
}

func TestStageWindowOrdersStagesAlongThePath(t *testing.T) {
	w := newStageWindow(4)
	w.Observe(StageChunkTotal, 900)
	w.Observe(StageSpeakToStart, 450)
	w.Observe(StageReplyDelay, 2000)

	snap := w.Snapshot()
	want := []Stage{StageReplyDelay, StageSpeakToStart, StageChunkTotal}
	if len(snap.Stages) != len(want) {
		t.Fatalf("len(Stages) = %d, want %d", len(snap.Stages), len(want))
	}
	for i, stage := range want {
		if snap.Stages[i].Stage != stage {
			t.Fatalf("Stages[%d] = %q, want %q", i, snap.Stages[i].Stage, stage)
		}
	}
	if !snap.Stages[1].OverBudget {
		t.Fatalf("speak_to_start at 450ms should exceed its 300ms budget")
	}
}

func TestStageWindowKeepsNewestSamples(t *testing.T) {
	w := newStageWindow(2)
	w.Observe(StageSpeakToStart, 10)
	w.Observe(StageSpeakToStart, 20)
	w.Observe(StageSpeakToStart, 30)

	s := w.Snapshot().Stages[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.AvgMS != 25 {
		t.Fatalf("AvgMS = %.2f, want 25", s.AvgMS)
	}
	if s.LastMS != 30 {
		t.Fatalf("LastMS = %.2f, want 30", s.LastMS)
	}
}

func TestStageWindowIgnoresInvalidSamples(t *testing.T) {
	w := newStageWindow(4)
	w.Observe("", 10)
	w.Observe("turn_total", 10)
	w.Observe(StageChunkTotal, -1)
	w.countOutcome("")
	snap := w.Snapshot()
	if got := len(snap.Stages); got != 0 {
		t.Fatalf("len(Stages) = %d, want 0", got)
	}
	if got := len(snap.ChunkOutcomes); got != 0 {
		t.Fatalf("len(ChunkOutcomes) = %d, want 0", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObservePlaybackEvent("play")
	m.ObservePlaybackChunks(3)
	m.ObserveEngineUnavailable("mock")
	m.ObserveReplyDelay(time.Second)
	m.ObserveMessageAppended("self")
	m.ObserveStage(StageChunkTotal, time.Second)
	m.ObserveChunkOutcome(OutcomeEnded)
	if got := m.SnapshotStages().Stages; len(got) != 0 {
		t.Fatalf("nil metrics stages = %v, want empty", got)
	}
}

func TestMetricsHandlerServesOwnRegistry(t *testing.T) {
	a := NewMetrics("silentchat_test")
	b := NewMetrics("silentchat_test")
	a.ObserveMessageAppended("partner")
	b.ObserveReplyDelay(2 * time.Second)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `silentchat_test_messages_appended_total{sender="partner"} 1`) {
		t.Fatalf("metrics output missing appended counter:\n%s", body)
	}

	if got := b.SnapshotStages().Stages; len(got) != 1 || got[0].Stage != StageReplyDelay {
		t.Fatalf("stages = %+v, want reply_delay", got)
	}
	if got := a.SnapshotStages().Stages; len(got) != 0 {
		t.Fatalf("stages leaked between instances: %+v", got)
	}
}
