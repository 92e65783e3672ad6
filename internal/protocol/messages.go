package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// client -> server
	TypeSendMessage    MessageType = "send_message"
	TypePlayMessage    MessageType = "play_message"
	TypeCancelPlayback MessageType = "cancel_playback"
	TypeSetVoice       MessageType = "set_voice"
	TypeSetRate        MessageType = "set_rate"
	TypeEngineVoices   MessageType = "engine_voices"
	TypeEngineEvent    MessageType = "engine_event"

	// server -> client
	TypeMessageAppended MessageType = "message_appended"
	TypePlaybackState   MessageType = "playback_state"
	TypeVoiceProfiles   MessageType = "voice_profiles"
	TypeSpeak           MessageType = "speak"
	TypeCancelSpeech    MessageType = "cancel_speech"
	TypeErrorEvent      MessageType = "error_event"
)

// Engine event names carried by EngineEvent.Event.
const (
	EngineEventStart = "start"
	EngineEventEnd   = "end"
	EngineEventError = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type SendMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Text      string      `json:"text"`
}

type PlayMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	MessageID string      `json:"message_id"`
}

type CancelPlayback struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
}

type SetVoice struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Profile   string      `json:"profile"`
}

type SetRate struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Rate      float64     `json:"rate"`
}

// EngineVoice is one voice reported by the client's speech synthesizer.
type EngineVoice struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Lang    string `json:"lang"`
	Default bool   `json:"default,omitempty"`
}

type EngineVoices struct {
	Type      MessageType   `json:"type"`
	SessionID string        `json:"session_id,omitempty"`
	Voices    []EngineVoice `json:"voices"`
}

type EngineEvent struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id,omitempty"`
	UtteranceID string      `json:"utterance_id"`
	Event       string      `json:"event"`
	Code        string      `json:"code,omitempty"`
	Detail      string      `json:"detail,omitempty"`
}

type MessageAppended struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	MessageID string      `json:"message_id"`
	Seq       uint64      `json:"seq"`
	Text      string      `json:"text"`
	Sender    string      `json:"sender"`
	TSMs      int64       `json:"ts_ms"`
}

type PlaybackState struct {
	Type            MessageType `json:"type"`
	SessionID       string      `json:"session_id"`
	IsPlaying       bool        `json:"is_playing"`
	ActiveMessageID string      `json:"active_message_id,omitempty"`
}

type VoiceProfile struct {
	Label             string  `json:"label"`
	VoiceID           string  `json:"voice_id,omitempty"`
	VoiceName         string  `json:"voice_name,omitempty"`
	PitchHint         float64 `json:"pitch_hint"`
	RateMultiplier    float64 `json:"rate_multiplier"`
	PlatformSupported bool    `json:"platform_supported"`
}

type VoiceProfiles struct {
	Type        MessageType    `json:"type"`
	SessionID   string         `json:"session_id"`
	Selected    string         `json:"selected,omitempty"`
	Profiles    []VoiceProfile `json:"profiles"`
	VoiceCount  int            `json:"voice_count"`
	Rate        float64        `json:"rate"`
	RateOptions []float64      `json:"rate_options"`
}

// Speak asks the client to synthesize one utterance.
type Speak struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	UtteranceID string      `json:"utterance_id"`
	Text        string      `json:"text"`
	VoiceID     string      `json:"voice_id,omitempty"`
	Pitch       float64     `json:"pitch"`
	Rate        float64     `json:"rate"`
}

type CancelSpeech struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeSendMessage:
		return decode[SendMessage](raw, nil)
	case TypePlayMessage:
		return decode(raw, func(m PlayMessage) bool { return m.MessageID != "" })
	case TypeCancelPlayback:
		return decode[CancelPlayback](raw, nil)
	case TypeSetVoice:
		return decode(raw, func(m SetVoice) bool { return m.Profile != "" })
	case TypeSetRate:
		return decode(raw, func(m SetRate) bool { return m.Rate > 0 })
	case TypeEngineVoices:
		return decode[EngineVoices](raw, nil)
	case TypeEngineEvent:
		return decode(raw, func(m EngineEvent) bool {
			if m.UtteranceID == "" {
				return false
			}
			switch m.Event {
			case EngineEventStart, EngineEventEnd, EngineEventError:
				return true
			}
			return false
		})
	default:
		return nil, ErrUnsupportedType
	}
}

func decode[T any](raw []byte, valid func(T) bool) (any, error) {
	var msg T
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	if valid != nil && !valid(msg) {
		var env Envelope
		_ = json.Unmarshal(raw, &env)
		return nil, fmt.Errorf("invalid %s", env.Type)
	}
	return msg, nil
}
