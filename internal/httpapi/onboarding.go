package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/silentchat/internal/config"
	"github.com/antoniostano/silentchat/internal/flags"
	"github.com/antoniostano/silentchat/internal/voice"
)

type onboardingCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type onboardingStatusResponse struct {
	SpeechEngine string            `json:"speech_engine"`
	FlagStore    string            `json:"flag_store"`
	RateOptions  []float64         `json:"rate_options"`
	Checks       []onboardingCheck `json:"checks"`
}

type welcomeRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleOnboardingStatus(w http.ResponseWriter, r *http.Request) {
	engine := strings.ToLower(strings.TrimSpace(s.cfg.SpeechEngine))
	if engine == "" {
		engine = config.SpeechEngineAuto
	}

	checks := make([]onboardingCheck, 0, 4)
	checks = append(checks, s.speechEngineCheck(engine))
	checks = append(checks, s.flagStoreCheck(r.Context()))
	checks = append(checks, onboardingCheck{
		ID:     "reply_window",
		Status: "ok",
		Label:  "Partner reply delay",
		Detail: fmt.Sprintf("%s to %s", s.cfg.ReplyDelayMin, s.cfg.ReplyDelayMax),
	})

	respondJSON(w, http.StatusOK, onboardingStatusResponse{
		SpeechEngine: engine,
		FlagStore:    s.flagBackend(),
		RateOptions:  voice.RateOptions,
		Checks:       checks,
	})
}

func (s *Server) speechEngineCheck(engine string) onboardingCheck {
	check := onboardingCheck{ID: "speech_engine", Label: "Speech engine"}
	switch engine {
	case config.SpeechEngineMock:
		check.Status = "warn"
		check.Detail = "mock engine, playback is silent"
		check.Fix = "Set SPEECH_ENGINE=auto to speak through the browser, or SPEECH_ENGINE=command for a local binary."
	case config.SpeechEngineCommand:
		e, err := voice.NewCommandEngine(s.cfg.SpeechCommand, s.log)
		if err != nil {
			check.Status = "error"
			check.Detail = err.Error()
			check.Fix = "Install espeak-ng (or espeak / macOS say) or point SPEECH_COMMAND at a synthesis binary."
			return check
		}
		check.Status = "ok"
		check.Detail = e.Name()
	default:
		check.Status = "ok"
		check.Detail = "browser speech synthesis over the session websocket"
	}
	return check
}

func (s *Server) flagStoreCheck(ctx context.Context) onboardingCheck {
	check := onboardingCheck{ID: "flag_store", Label: "Settings store"}
	if s.flags == nil {
		check.Status = "warn"
		check.Detail = "disabled"
		return check
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.flags.Ping(ctx); err != nil {
		check.Status = "error"
		check.Detail = fmt.Sprintf("%s: %v", s.flags.Backend(), err)
		check.Fix = "Check DATABASE_URL and that Postgres is reachable."
		return check
	}
	check.Status = "ok"
	check.Detail = s.flags.Backend()
	if s.flags.Backend() == "memory" {
		check.Status = "warn"
		check.Detail = "in-memory, the welcome flag resets on restart"
		check.Fix = "Set DATABASE_URL to persist it in Postgres."
	}
	return check
}

func (s *Server) handleWelcomeStatus(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		userID = "anonymous"
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":      userID,
		"show_welcome": s.showWelcome(r.Context(), userID),
	})
}

func (s *Server) handleDismissWelcome(w http.ResponseWriter, r *http.Request) {
	var req welcomeRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}
	if s.flags == nil {
		respondError(w, http.StatusServiceUnavailable, "flag_store_unavailable", "flag store disabled")
		return
	}
	if err := s.flags.Set(r.Context(), req.UserID, flags.WelcomeSeen, "true"); err != nil {
		respondError(w, http.StatusInternalServerError, "flag_store_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":      req.UserID,
		"show_welcome": false,
	})
}
