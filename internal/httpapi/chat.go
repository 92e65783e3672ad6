package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/silentchat/internal/chat"
	"github.com/antoniostano/silentchat/internal/flags"
	"github.com/antoniostano/silentchat/internal/protocol"
	"github.com/antoniostano/silentchat/internal/room"
	"github.com/antoniostano/silentchat/internal/session"
	"github.com/antoniostano/silentchat/internal/voice"
)

type sendMessageRequest struct {
	Text string `json:"text"`
}

type sendMessageResponse struct {
	Accepted bool          `json:"accepted"`
	Message  *chat.Message `json:"message,omitempty"`
}

type voiceRequest struct {
	Profile string `json:"profile"`
}

type rateRequest struct {
	Rate float64 `json:"rate"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}
	rate := s.cfg.SpeechDefaultRate
	if req.Rate > 0 {
		rate = req.Rate
	}
	rate = voice.ClampRate(rate)

	sess := s.sessions.Create(req.UserID, strings.TrimSpace(req.Voice), rate)
	rm := s.rooms.Open(sess.ID)
	rm.Player.SetRate(rate)
	if sess.Voice != "" {
		rm.Catalog.Select(sess.Voice)
	}

	s.metrics.SetActiveSessions(s.sessions.ActiveCount())
	s.metrics.ObserveSessionEvent("created")

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		Voice:           sess.Voice,
		Rate:            sess.Rate,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
		ShowWelcome:     s.showWelcome(r.Context(), sess.UserID),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	// The end hook normally closes the room; closing again is a no-op.
	s.rooms.Close(id)
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sess, rm, ok := s.activeRoom(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"messages":   rm.Conversation.Messages(),
	})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sess, rm, ok := s.activeRoom(w, r)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	// Partner messages only come from the reply timer.
	msg, accepted := rm.Conversation.Append(req.Text, chat.SenderSelf)
	if !accepted {
		respondJSON(w, http.StatusOK, sendMessageResponse{Accepted: false})
		return
	}
	_ = s.sessions.RecordMessage(sess.ID)
	respondJSON(w, http.StatusCreated, sendMessageResponse{Accepted: true, Message: &msg})
}

func (s *Server) handlePlayMessage(w http.ResponseWriter, r *http.Request) {
	sess, rm, ok := s.activeRoom(w, r)
	if !ok {
		return
	}
	messageID := chi.URLParam(r, "messageID")
	started, err := rm.Conversation.PlayMessage(messageID)
	switch {
	case errors.Is(err, chat.ErrMessageNotFound):
		respondError(w, http.StatusNotFound, "message_not_found", err.Error())
		return
	case errors.Is(err, chat.ErrClosed):
		respondError(w, http.StatusConflict, "session_closed", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "play_failed", err.Error())
		return
	}
	_ = s.sessions.Touch(sess.ID)
	respondJSON(w, http.StatusOK, map[string]any{
		"message_id": messageID,
		"playing":    started,
	})
}

func (s *Server) handlePlaybackState(w http.ResponseWriter, r *http.Request) {
	sess, rm, ok := s.activeRoom(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, playbackStateEvent(sess.ID, rm.Player.State()))
}

func (s *Server) handleCancelPlayback(w http.ResponseWriter, r *http.Request) {
	sess, rm, ok := s.activeRoom(w, r)
	if !ok {
		return
	}
	rm.Player.Cancel()
	_ = s.sessions.Touch(sess.ID)
	respondJSON(w, http.StatusOK, playbackStateEvent(sess.ID, rm.Player.State()))
}

func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	sess, rm, ok := s.activeRoom(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, voiceProfilesEvent(sess.ID, rm))
}

func (s *Server) handleSetVoice(w http.ResponseWriter, r *http.Request) {
	sess, rm, ok := s.activeRoom(w, r)
	if !ok {
		return
	}
	var req voiceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Profile) == "" {
		respondError(w, http.StatusBadRequest, "invalid_profile", "profile is required")
		return
	}
	s.selectVoice(sess.ID, rm, req.Profile)
	respondJSON(w, http.StatusOK, voiceProfilesEvent(sess.ID, rm))
}

func (s *Server) handleTestVoice(w http.ResponseWriter, r *http.Request) {
	sess, rm, ok := s.activeRoom(w, r)
	if !ok {
		return
	}
	var req voiceRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	profile, _ := rm.Catalog.Selected()
	if label, ok := voice.ParseLabel(req.Profile); ok {
		profile = rm.Catalog.Profile(label)
	}
	// The preview outlives the request; the engine reports completion on its own.
	err := rm.Player.Preview(context.WithoutCancel(r.Context()), profile)
	switch {
	case errors.Is(err, voice.ErrEngineUnavailable):
		respondError(w, http.StatusServiceUnavailable, "engine_unavailable", err.Error())
		return
	case errors.Is(err, voice.ErrPlayerClosed):
		respondError(w, http.StatusConflict, "session_closed", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusBadGateway, "speech_failed", err.Error())
		return
	}
	_ = s.sessions.Touch(sess.ID)
	respondJSON(w, http.StatusAccepted, map[string]any{
		"status":  "speaking",
		"profile": profile.Label,
	})
}

func (s *Server) handleSetRate(w http.ResponseWriter, r *http.Request) {
	sess, rm, ok := s.activeRoom(w, r)
	if !ok {
		return
	}
	var req rateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Rate <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_rate", "rate must be positive")
		return
	}
	applied := s.applyRate(sess.ID, rm, req.Rate)
	respondJSON(w, http.StatusOK, map[string]any{
		"rate":         applied,
		"rate_options": voice.RateOptions,
	})
}

// activeRoom resolves the {id} session and its room, writing a 404 when
// either is gone.
func (s *Server) activeRoom(w http.ResponseWriter, r *http.Request) (*session.Session, *room.Room, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	sess, err := s.sessions.GetActive(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return nil, nil, false
	}
	rm, err := s.rooms.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return nil, nil, false
	}
	return sess, rm, true
}

func (s *Server) selectVoice(sessionID string, rm *room.Room, raw string) {
	profile := rm.Catalog.Select(raw)
	stored := string(profile.Label)
	if stored == "" {
		stored = strings.TrimSpace(raw)
	}
	_ = s.sessions.SetVoice(sessionID, stored)
}

func (s *Server) applyRate(sessionID string, rm *room.Room, rate float64) float64 {
	applied := rm.Player.SetRate(rate)
	_ = s.sessions.SetRate(sessionID, applied)
	return applied
}

func (s *Server) showWelcome(ctx context.Context, userID string) bool {
	if s.flags == nil {
		return true
	}
	seen, err := flags.IsSet(ctx, s.flags, userID, flags.WelcomeSeen)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("welcome flag lookup failed")
		return true
	}
	return !seen
}

func messageAppendedEvent(sessionID string, m chat.Message) protocol.MessageAppended {
	return protocol.MessageAppended{
		Type:      protocol.TypeMessageAppended,
		SessionID: sessionID,
		MessageID: m.ID,
		Seq:       m.Seq,
		Text:      m.Text,
		Sender:    string(m.Sender),
		TSMs:      m.Timestamp.UnixMilli(),
	}
}

func playbackStateEvent(sessionID string, st voice.PlaybackState) protocol.PlaybackState {
	return protocol.PlaybackState{
		Type:            protocol.TypePlaybackState,
		SessionID:       sessionID,
		IsPlaying:       st.Playing,
		ActiveMessageID: st.MessageID,
	}
}

func voiceProfilesEvent(sessionID string, rm *room.Room) protocol.VoiceProfiles {
	return voiceProfilesFromSnapshot(sessionID, rm.Catalog.Snapshot(), rm.Player.Rate())
}

func voiceProfilesFromSnapshot(sessionID string, snap voice.CatalogSnapshot, rate float64) protocol.VoiceProfiles {
	return protocol.VoiceProfiles{
		Type:        protocol.TypeVoiceProfiles,
		SessionID:   sessionID,
		Selected:    string(snap.Selected),
		Profiles:    []protocol.VoiceProfile{profileView(snap.Male), profileView(snap.Female)},
		VoiceCount:  snap.VoiceCount,
		Rate:        rate,
		RateOptions: voice.RateOptions,
	}
}

func profileView(p voice.VoiceProfile) protocol.VoiceProfile {
	view := protocol.VoiceProfile{
		Label:             string(p.Label),
		VoiceID:           p.VoiceID(),
		PitchHint:         p.PitchHint,
		RateMultiplier:    p.RateMultiplier,
		PlatformSupported: p.PlatformSupported,
	}
	if p.Voice != nil {
		view.VoiceName = p.Voice.Name
	}
	return view
}
