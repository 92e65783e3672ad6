package voice

import (
	"context"
	"strings"
	"sync"
)

// MockEngine is an in-process engine for development and tests. In auto mode
// every utterance starts and ends immediately; otherwise utterances stay
// pending until Start/Finish/Fail is called.
type MockEngine struct {
	mu        sync.Mutex
	auto      bool
	available bool
	voices    []Voice
	failing   map[string]struct{}
	pending   map[string]chan UtteranceEvent
	spoken    []Utterance
	cancels   int
	changed   chan struct{}
}

func NewMockEngine(voices []Voice, auto bool) *MockEngine {
	return &MockEngine{
		auto:      auto,
		available: true,
		voices:    append([]Voice(nil), voices...),
		failing:   make(map[string]struct{}),
		pending:   make(map[string]chan UtteranceEvent),
		changed:   make(chan struct{}, 1),
	}
}

func (e *MockEngine) Name() string { return "mock" }

func (e *MockEngine) Available() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.available
}

// SetAvailable toggles whether Speak succeeds.
func (e *MockEngine) SetAvailable(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.available = v
}

func (e *MockEngine) Voices(_ context.Context) ([]Voice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Voice(nil), e.voices...), nil
}

// SetVoices replaces the voice list and signals a change.
func (e *MockEngine) SetVoices(voices []Voice) {
	e.mu.Lock()
	e.voices = append([]Voice(nil), voices...)
	e.mu.Unlock()
	select {
	case e.changed <- struct{}{}:
	default:
	}
}

func (e *MockEngine) VoicesChanged() <-chan struct{} { return e.changed }

// FailText makes any utterance whose trimmed text equals text report an error.
func (e *MockEngine) FailText(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failing[strings.TrimSpace(text)] = struct{}{}
}

func (e *MockEngine) Speak(_ context.Context, u Utterance) (<-chan UtteranceEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.available {
		return nil, ErrEngineUnavailable
	}
	e.spoken = append(e.spoken, u)
	events := make(chan UtteranceEvent, 4)

	if _, fail := e.failing[strings.TrimSpace(u.Text)]; fail {
		events <- UtteranceEvent{Type: UtteranceError, UtteranceID: u.ID, Code: "synthesis-failed"}
		close(events)
		return events, nil
	}
	if e.auto {
		events <- UtteranceEvent{Type: UtteranceStart, UtteranceID: u.ID}
		events <- UtteranceEvent{Type: UtteranceEnd, UtteranceID: u.ID}
		close(events)
		return events, nil
	}
	e.pending[u.ID] = events
	return events, nil
}

// CancelAll interrupts every pending utterance.
func (e *MockEngine) CancelAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancels++
	for id, ch := range e.pending {
		ch <- UtteranceEvent{Type: UtteranceError, UtteranceID: id, Code: "interrupted"}
		close(ch)
		delete(e.pending, id)
	}
	return nil
}

// Start reports the utterance as started.
func (e *MockEngine) Start(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.pending[id]
	if !ok {
		return false
	}
	ch <- UtteranceEvent{Type: UtteranceStart, UtteranceID: id}
	return true
}

// Finish reports the utterance as ended.
func (e *MockEngine) Finish(id string) bool {
	return e.complete(id, UtteranceEvent{Type: UtteranceEnd, UtteranceID: id})
}

// Fail reports the utterance as errored.
func (e *MockEngine) Fail(id string) bool {
	return e.complete(id, UtteranceEvent{Type: UtteranceError, UtteranceID: id, Code: "synthesis-failed"})
}

func (e *MockEngine) complete(id string, ev UtteranceEvent) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.pending[id]
	if !ok {
		return false
	}
	ch <- ev
	close(ch)
	delete(e.pending, id)
	return true
}

// Spoken returns every utterance passed to Speak, in order.
func (e *MockEngine) Spoken() []Utterance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Utterance(nil), e.spoken...)
}

// Pending returns the ids of utterances awaiting Start/Finish/Fail.
func (e *MockEngine) Pending() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.pending))
	for id := range e.pending {
		out = append(out, id)
	}
	return out
}

func (e *MockEngine) Cancels() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancels
}
