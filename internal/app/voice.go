package app

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/antoniostano/silentchat/internal/config"
	"github.com/antoniostano/silentchat/internal/logging"
	"github.com/antoniostano/silentchat/internal/room"
	"github.com/antoniostano/silentchat/internal/voice"
)

type speechSetup struct {
	engines  room.EngineFactory
	resolved string
	detail   string
	cleanup  func() error
}

var mockVoices = []voice.Voice{
	{ID: "mock-female", Name: "Mock English (female)", Lang: "en-US", Default: true},
	{ID: "mock-male", Name: "Mock English (male)", Lang: "en-GB"},
}

func resolveSpeechEngine(cfg config.Config, log zerolog.Logger) (speechSetup, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.SpeechEngine))
	if mode == "" {
		mode = config.SpeechEngineAuto
	}

	switch mode {
	case config.SpeechEngineAuto, config.SpeechEngineRemote:
		// Every session drives its own browser synthesizer over the websocket.
		return speechSetup{
			engines: func() (voice.Engine, *voice.RemoteEngine) {
				remote := voice.NewRemoteEngine()
				return remote, remote
			},
			resolved: config.SpeechEngineRemote,
			detail:   "browser speech synthesis (per session websocket)",
		}, nil
	case config.SpeechEngineCommand:
		engine, err := voice.NewCommandEngine(cfg.SpeechCommand, logging.Component(log, "speech"))
		if err != nil {
			return speechSetup{}, fmt.Errorf("speech command init failed: %w", err)
		}
		// The host synthesizer is one exclusive device shared by all sessions.
		return speechSetup{
			engines:  func() (voice.Engine, *voice.RemoteEngine) { return engine, nil },
			resolved: config.SpeechEngineCommand,
			detail:   engine.Name(),
			cleanup:  engine.CancelAll,
		}, nil
	case config.SpeechEngineMock:
		return speechSetup{
			engines: func() (voice.Engine, *voice.RemoteEngine) {
				return voice.NewMockEngine(mockVoices, true), nil
			},
			resolved: config.SpeechEngineMock,
			detail:   "mock (silent)",
		}, nil
	default:
		return speechSetup{}, fmt.Errorf("invalid SPEECH_ENGINE: %q (expected auto|remote|command|mock)", cfg.SpeechEngine)
	}
}
