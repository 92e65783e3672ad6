package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/silentchat/internal/chat"
	"github.com/antoniostano/silentchat/internal/protocol"
	"github.com/antoniostano/silentchat/internal/room"
	"github.com/antoniostano/silentchat/internal/voice"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsPingInterval = 30 * time.Second
	wsOutboundSize = 256
)

var errOutboundFull = errors.New("websocket outbound queue full")

// wsSink carries RemoteEngine commands to the browser. It never blocks: the
// engine calls it with its own locks held.
type wsSink struct {
	sessionID string
	enqueue   func(any) bool
}

func (k wsSink) SendSpeak(u voice.Utterance) error {
	ok := k.enqueue(protocol.Speak{
		Type:        protocol.TypeSpeak,
		SessionID:   k.sessionID,
		UtteranceID: u.ID,
		Text:        u.Text,
		VoiceID:     u.VoiceID,
		Pitch:       u.Pitch,
		Rate:        u.Rate,
	})
	if !ok {
		return errOutboundFull
	}
	return nil
}

func (k wsSink) SendCancel() error {
	if !k.enqueue(protocol.CancelSpeech{Type: protocol.TypeCancelSpeech, SessionID: k.sessionID}) {
		return errOutboundFull
	}
	return nil
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if _, err := s.sessions.GetActive(sessionID); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	rm, err := s.rooms.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	log := s.log.With().Str("session_id", sessionID).Logger()
	s.metrics.ObserveSessionEvent("ws_connected")
	_ = s.sessions.Touch(sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, wsOutboundSize)
	enqueue := func(msg any) bool {
		if ctx.Err() != nil {
			return false
		}
		select {
		case outbound <- msg:
			return true
		default:
			if t, ok := messageTypeOf(msg); ok {
				s.metrics.ObserveWSMessage("dropped", string(t))
			}
			log.Warn().Msg("websocket outbound queue full, dropping message")
			return false
		}
	}
	send := func(msg any) {
		select {
		case <-ctx.Done():
		case outbound <- msg:
		}
	}

	if rm.Remote != nil {
		detach := rm.Remote.Attach(wsSink{sessionID: sessionID, enqueue: enqueue})
		defer detach()
	}

	messages, unsubscribeMessages := rm.Conversation.Subscribe()
	defer unsubscribeMessages()
	states, unsubscribeStates := rm.Player.Store().Subscribe()
	defer unsubscribeStates()

	// The latest connection owns the catalog push.
	rm.Catalog.SetChangeHook(func(snap voice.CatalogSnapshot) {
		enqueue(voiceProfilesFromSnapshot(sessionID, snap, rm.Player.Rate()))
	})

	enqueue(voiceProfilesEvent(sessionID, rm))
	enqueue(playbackStateEvent(sessionID, rm.Player.State()))

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-messages:
				if !ok {
					// Room closed: the session ended underneath this connection.
					cancel()
					return
				}
				send(messageAppendedEvent(sessionID, m))
			}
		}
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case st, ok := <-states:
				if !ok {
					return
				}
				send(playbackStateEvent(sessionID, st))
			}
		}
	}()
	go func() {
		defer wg.Done()
		s.writeLoop(ctx, conn, outbound, cancel)
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			enqueue(errorEvent(sessionID, "invalid_client_message", err.Error()))
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.ObserveWSMessage("inbound", string(t))
		}
		s.dispatchClientMessage(sessionID, rm, parsed, enqueue)
	}

	cancel()
	wg.Wait()
	s.metrics.ObserveSessionEvent("ws_disconnected")
	log.Debug().Msg("websocket closed")
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, outbound <-chan any, cancel context.CancelFunc) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			// Unblock the read loop when the session ended server-side.
			_ = conn.SetReadDeadline(time.Now())
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				cancel()
				return
			}
		case msg := <-outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				s.metrics.ObserveWSMessage("write_error", "json")
				cancel()
				return
			}
			if t, ok := messageTypeOf(msg); ok {
				s.metrics.ObserveWSMessage("outbound", string(t))
			}
		}
	}
}

func (s *Server) dispatchClientMessage(sessionID string, rm *room.Room, msg any, enqueue func(any) bool) {
	_ = s.sessions.Touch(sessionID)

	switch m := msg.(type) {
	case protocol.SendMessage:
		if _, ok := rm.Conversation.Append(m.Text, chat.SenderSelf); !ok {
			enqueue(errorEvent(sessionID, "message_rejected", "message text is empty or the session is closed"))
			return
		}
		_ = s.sessions.RecordMessage(sessionID)
	case protocol.PlayMessage:
		if _, err := rm.Conversation.PlayMessage(m.MessageID); err != nil {
			code := "play_failed"
			if errors.Is(err, chat.ErrMessageNotFound) {
				code = "message_not_found"
			}
			enqueue(errorEvent(sessionID, code, err.Error()))
		}
	case protocol.CancelPlayback:
		rm.Player.Cancel()
	case protocol.SetVoice:
		// The catalog change hook pushes the new voice_profiles.
		s.selectVoice(sessionID, rm, m.Profile)
	case protocol.SetRate:
		s.applyRate(sessionID, rm, m.Rate)
		enqueue(voiceProfilesEvent(sessionID, rm))
	case protocol.EngineVoices:
		if rm.Remote == nil {
			return
		}
		voices := make([]voice.Voice, 0, len(m.Voices))
		for _, v := range m.Voices {
			voices = append(voices, voice.Voice{ID: v.ID, Name: v.Name, Lang: v.Lang, Default: v.Default})
		}
		rm.Remote.SetVoices(voices)
	case protocol.EngineEvent:
		if rm.Remote == nil {
			return
		}
		rm.Remote.Deliver(voice.UtteranceEvent{
			Type:        voice.UtteranceEventType(m.Event),
			UtteranceID: m.UtteranceID,
			Code:        m.Code,
			Detail:      m.Detail,
		})
	}
}

func errorEvent(sessionID, code, detail string) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    "gateway",
		Retryable: false,
		Detail:    detail,
	}
}
