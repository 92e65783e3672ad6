package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/antoniostano/silentchat/internal/config"
	"github.com/antoniostano/silentchat/internal/flags"
	"github.com/antoniostano/silentchat/internal/httpapi"
	"github.com/antoniostano/silentchat/internal/logging"
	"github.com/antoniostano/silentchat/internal/observability"
	"github.com/antoniostano/silentchat/internal/room"
	"github.com/antoniostano/silentchat/internal/session"
)

type SpeechInfo struct {
	Engine string
	Detail string
}

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Rooms    *room.Registry
	Flags    flags.Store
	Metrics  *observability.Metrics
	Speech   SpeechInfo

	// Cleanup should be called on shutdown to close rooms and release the flag store.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	flagStore, err := flags.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("flag store init failed: %w", err)
	}

	speech, err := resolveSpeechEngine(cfg, log)
	if err != nil {
		_ = flagStore.Close()
		return nil, err
	}
	// Handlers report the resolved engine, not the requested mode.
	cfg.SpeechEngine = speech.resolved

	rooms := room.NewRegistry(room.Config{
		Language:      cfg.SpeechLanguage,
		ChunkMax:      cfg.SpeechChunkMax,
		SettleDelay:   cfg.SpeechSettleDelay,
		Rate:          cfg.SpeechDefaultRate,
		ReplyDelayMin: cfg.ReplyDelayMin,
		ReplyDelayMax: cfg.ReplyDelayMax,
		Engines:       speech.engines,
		Clock:         clockwork.NewRealClock(),
		Metrics:       metrics,
		Log:           logging.Component(log, "room"),
	})

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetEndHook(func(s *session.Session) {
		rooms.Close(s.ID)
		metrics.ObserveSessionEvent("ended")
		metrics.SetActiveSessions(sessions.ActiveCount())
		log.Info().Str("session_id", s.ID).Int("messages", s.MessageCount).Msg("session ended")
	})

	api := httpapi.New(cfg, sessions, rooms, flagStore, metrics, logging.Component(log, "httpapi"))

	cleanup := func() error {
		rooms.CloseAll()
		var errs []string
		if speech.cleanup != nil {
			if err := speech.cleanup(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if err := flagStore.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Rooms:    rooms,
		Flags:    flagStore,
		Metrics:  metrics,
		Speech: SpeechInfo{
			Engine: speech.resolved,
			Detail: speech.detail,
		},
		Cleanup: cleanup,
	}, nil
}
