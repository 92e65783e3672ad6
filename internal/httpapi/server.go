package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/antoniostano/silentchat/internal/config"
	"github.com/antoniostano/silentchat/internal/flags"
	"github.com/antoniostano/silentchat/internal/observability"
	"github.com/antoniostano/silentchat/internal/protocol"
	"github.com/antoniostano/silentchat/internal/room"
	"github.com/antoniostano/silentchat/internal/session"
)

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	rooms    *room.Registry
	flags    flags.Store
	metrics  *observability.Metrics
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, rooms *room.Registry, flagStore flags.Store, metrics *observability.Metrics, log zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		rooms:    rooms,
		flags:    flagStore,
		metrics:  metrics,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive a session unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Route("/v1/chat/session", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Get("/ws", s.handleSessionWS)
		r.Route("/{id}", func(r chi.Router) {
			r.Post("/end", s.handleEndSession)
			r.Get("/messages", s.handleListMessages)
			r.Post("/messages", s.handleSendMessage)
			r.Post("/messages/{messageID}/play", s.handlePlayMessage)
			r.Get("/playback", s.handlePlaybackState)
			r.Post("/playback/cancel", s.handleCancelPlayback)
			r.Get("/voices", s.handleListVoices)
			r.Put("/voice", s.handleSetVoice)
			r.Post("/voice/test", s.handleTestVoice)
			r.Put("/rate", s.handleSetRate)
		})
	})

	r.Get("/v1/onboarding/status", s.handleOnboardingStatus)
	r.Get("/v1/onboarding/welcome", s.handleWelcomeStatus)
	r.Post("/v1/onboarding/welcome/dismiss", s.handleDismissWelcome)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"speech_engine": s.cfg.SpeechEngine,
		"flag_store":    s.flagBackend(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.flags != nil {
		if err := s.flags.Ping(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, "flag_store_unavailable", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"speech_engine": s.cfg.SpeechEngine,
		"flag_store":    s.flagBackend(),
		"rooms":         s.rooms.Len(),
	})
}

func (s *Server) flagBackend() string {
	if s.flags == nil {
		return "disabled"
	}
	return s.flags.Backend()
}

// requestLogger logs one line per request through the service logger.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.SendMessage:
		return m.Type, true
	case protocol.PlayMessage:
		return m.Type, true
	case protocol.CancelPlayback:
		return m.Type, true
	case protocol.SetVoice:
		return m.Type, true
	case protocol.SetRate:
		return m.Type, true
	case protocol.EngineVoices:
		return m.Type, true
	case protocol.EngineEvent:
		return m.Type, true
	case protocol.MessageAppended:
		return m.Type, true
	case protocol.PlaybackState:
		return m.Type, true
	case protocol.VoiceProfiles:
		return m.Type, true
	case protocol.Speak:
		return m.Type, true
	case protocol.CancelSpeech:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
