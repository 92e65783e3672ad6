// Package room bundles the per-session conversation core.
package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/antoniostano/silentchat/internal/chat"
	"github.com/antoniostano/silentchat/internal/observability"
	"github.com/antoniostano/silentchat/internal/partner"
	"github.com/antoniostano/silentchat/internal/voice"
)

var ErrNotFound = errors.New("room not found")

// EngineFactory returns the speech engine for a new room. remote is non-nil
// when the engine is reached through the session websocket.
type EngineFactory func() (engine voice.Engine, remote *voice.RemoteEngine)

type Config struct {
	Language      string
	ChunkMax      int
	SettleDelay   time.Duration
	Rate          float64
	ReplyDelayMin time.Duration
	ReplyDelayMax time.Duration

	Engines EngineFactory
	Clock   clockwork.Clock
	Metrics *observability.Metrics
	Log     zerolog.Logger
}

// Room is one session's conversation, player, catalog and engine.
type Room struct {
	ID           string
	Conversation *chat.Conversation
	Player       *voice.Player
	Catalog      *voice.Catalog
	Engine       voice.Engine
	// Remote is set when Engine is the browser engine behind the websocket.
	Remote *voice.RemoteEngine

	stop      context.CancelFunc
	closeOnce sync.Once
}

func newRoom(id string, cfg Config) *Room {
	engine, remote := cfg.Engines()
	log := cfg.Log.With().Str("session_id", id).Logger()

	catalog := voice.NewCatalog(cfg.Language, log)
	player := voice.NewPlayer(engine, catalog, voice.NewPlaybackStore(), cfg.Clock, cfg.Metrics, log, voice.PlayerConfig{
		ChunkMax:    cfg.ChunkMax,
		SettleDelay: cfg.SettleDelay,
		Rate:        cfg.Rate,
	})
	conv := chat.New(player, partner.New(), chat.Config{
		ReplyDelayMin: cfg.ReplyDelayMin,
		ReplyDelayMax: cfg.ReplyDelayMax,
		Clock:         cfg.Clock,
		Metrics:       cfg.Metrics,
		Log:           log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go catalog.Watch(ctx, engine)

	return &Room{
		ID:           id,
		Conversation: conv,
		Player:       player,
		Catalog:      catalog,
		Engine:       engine,
		Remote:       remote,
		stop:         cancel,
	}
}

// Close stops pending replies, playback and voice discovery.
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		r.Conversation.Close()
		r.Player.Close()
		r.stop()
	})
}

// Registry maps session ids to live rooms.
type Registry struct {
	mu    sync.RWMutex
	cfg   Config
	rooms map[string]*Room
}

func NewRegistry(cfg Config) *Registry {
	if cfg.Engines == nil {
		cfg.Engines = func() (voice.Engine, *voice.RemoteEngine) {
			remote := voice.NewRemoteEngine()
			return remote, remote
		}
	}
	return &Registry{cfg: cfg, rooms: make(map[string]*Room)}
}

// Open returns the room for id, creating it on first use.
func (r *Registry) Open(id string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[id]; ok {
		return room
	}
	room := newRoom(id, r.cfg)
	r.rooms[id] = room
	return room
}

func (r *Registry) Get(id string) (*Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return room, nil
}

// Close tears down and forgets the room for id. Closing an unknown id is a no-op.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	room, ok := r.rooms[id]
	delete(r.rooms, id)
	r.mu.Unlock()
	if ok {
		room.Close()
	}
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	rooms := r.rooms
	r.rooms = make(map[string]*Room)
	r.mu.Unlock()
	for _, room := range rooms {
		room.Close()
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
