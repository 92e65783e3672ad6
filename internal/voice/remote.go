package voice

import (
	"context"
	"sync"
)

// RemoteSink carries engine commands to a connected client that owns the
// real synthesizer (the browser's speechSynthesis).
type RemoteSink interface {
	SendSpeak(u Utterance) error
	SendCancel() error
}

// RemoteEngine proxies speech to a client over the session websocket. The
// client reports its voice list and per-utterance events back through
// SetVoices and Deliver. With no client attached it is unavailable.
type RemoteEngine struct {
	mu      sync.Mutex
	sink    RemoteSink
	attach  uint64
	voices  []Voice
	pending map[string]chan UtteranceEvent
	changed chan struct{}
}

func NewRemoteEngine() *RemoteEngine {
	return &RemoteEngine{
		pending: make(map[string]chan UtteranceEvent),
		changed: make(chan struct{}, 1),
	}
}

func (e *RemoteEngine) Name() string { return "remote" }

func (e *RemoteEngine) Available() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sink != nil
}

// Attach routes commands to sink, replacing any previous client. The returned
// func detaches it again (a no-op if another client attached since).
func (e *RemoteEngine) Attach(sink RemoteSink) func() {
	e.mu.Lock()
	e.attach++
	token := e.attach
	e.sink = sink
	e.interruptLocked("replaced")
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.attach != token {
			return
		}
		e.sink = nil
		e.interruptLocked("detached")
	}
}

func (e *RemoteEngine) Voices(_ context.Context) ([]Voice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Voice(nil), e.voices...), nil
}

// SetVoices stores the client's voice list and signals a change.
func (e *RemoteEngine) SetVoices(voices []Voice) {
	e.mu.Lock()
	e.voices = append([]Voice(nil), voices...)
	e.mu.Unlock()
	select {
	case e.changed <- struct{}{}:
	default:
	}
}

func (e *RemoteEngine) VoicesChanged() <-chan struct{} { return e.changed }

func (e *RemoteEngine) Speak(_ context.Context, u Utterance) (<-chan UtteranceEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sink == nil {
		return nil, ErrEngineUnavailable
	}
	events := make(chan UtteranceEvent, 4)
	e.pending[u.ID] = events
	if err := e.sink.SendSpeak(u); err != nil {
		delete(e.pending, u.ID)
		return nil, err
	}
	return events, nil
}

func (e *RemoteEngine) CancelAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.interruptLocked("interrupted")
	if e.sink == nil {
		return nil
	}
	return e.sink.SendCancel()
}

// Deliver routes a client-reported event to its utterance. Events for
// unknown or finished utterances are dropped.
func (e *RemoteEngine) Deliver(ev UtteranceEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.pending[ev.UtteranceID]
	if !ok {
		return
	}
	switch ev.Type {
	case UtteranceStart:
		select {
		case ch <- ev:
		default:
		}
	case UtteranceEnd, UtteranceError:
		ch <- ev
		close(ch)
		delete(e.pending, ev.UtteranceID)
	}
}

func (e *RemoteEngine) interruptLocked(code string) {
	for id, ch := range e.pending {
		ch <- UtteranceEvent{Type: UtteranceError, UtteranceID: id, Code: code}
		close(ch)
		delete(e.pending, id)
	}
}
