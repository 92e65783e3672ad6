package voice

import (
	"context"
	"errors"
)

// ErrEngineUnavailable is returned by engines that cannot speak on this host
// (no binary, no attached browser, synthesis disabled).
var ErrEngineUnavailable = errors.New("speech engine unavailable")

// Voice is one platform voice as reported by an engine.
type Voice struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Lang    string `json:"lang"`
	Default bool   `json:"default,omitempty"`
}

type UtteranceEventType string

const (
	UtteranceStart UtteranceEventType = "start"
	UtteranceEnd   UtteranceEventType = "end"
	UtteranceError UtteranceEventType = "error"
)

type UtteranceEvent struct {
	Type        UtteranceEventType
	UtteranceID string
	Code        string
	Detail      string
}

// Utterance is a single request to vocalize one chunk.
type Utterance struct {
	ID      string  `json:"utterance_id"`
	Text    string  `json:"text"`
	VoiceID string  `json:"voice_id,omitempty"`
	Pitch   float64 `json:"pitch"`
	Rate    float64 `json:"rate"`
}

// Engine is the host speech-synthesis service. It is a single exclusive
// resource: callers cancel before starting a new utterance.
type Engine interface {
	Name() string
	Available() bool
	// Voices may return an empty list until the platform finishes loading.
	Voices(ctx context.Context) ([]Voice, error)
	// VoicesChanged fires whenever the voice list may have changed.
	VoicesChanged() <-chan struct{}
	// Speak emits start followed by end or error on the returned channel,
	// then closes it.
	Speak(ctx context.Context, u Utterance) (<-chan UtteranceEvent, error)
	CancelAll() error
}
