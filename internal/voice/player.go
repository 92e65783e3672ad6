package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/antoniostano/silentchat/internal/observability"
)

const (
	DefaultSettleDelay = 150 * time.Millisecond

	MinRate     = 0.5
	MaxRate     = 2.0
	DefaultRate = 1.0

	previewPhrase = "This is a test of the voice selection feature"
)

var ErrPlayerClosed = errors.New("player closed")

// RateOptions are the speeds offered by the speed picker.
var RateOptions = []float64{1, 1.25, 1.5, 2}

// ProfileSource supplies the currently selected voice profile.
type ProfileSource interface {
	Selected() (VoiceProfile, bool)
}

type PlayerConfig struct {
	ChunkMax    int
	SettleDelay time.Duration
	Rate        float64
}

// Player owns the single active playback session. Every input (commands,
// timer expiries, engine callbacks) is an event folded through step under one
// lock, so only one transition runs at a time.
type Player struct {
	mu       sync.Mutex
	m        machine
	timer    clockwork.Timer
	closed   bool
	rate     float64
	chunkMax int
	settle   time.Duration

	engine   Engine
	profiles ProfileSource
	store    *PlaybackStore
	clock    clockwork.Clock
	metrics  *observability.Metrics
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	unavailableOnce sync.Once
}

func NewPlayer(
	engine Engine,
	profiles ProfileSource,
	store *PlaybackStore,
	clk clockwork.Clock,
	metrics *observability.Metrics,
	log zerolog.Logger,
	cfg PlayerConfig,
) *Player {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if store == nil {
		store = NewPlaybackStore()
	}
	if cfg.ChunkMax <= 0 {
		cfg.ChunkMax = DefaultChunkMax
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultRate
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Player{
		engine:   engine,
		profiles: profiles,
		store:    store,
		clock:    clk,
		metrics:  metrics,
		log:      log,
		chunkMax: cfg.ChunkMax,
		settle:   cfg.SettleDelay,
		rate:     ClampRate(cfg.Rate),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Play cancels whatever is in flight and starts speaking text for messageID.
func (p *Player) Play(text, messageID string) {
	if strings.TrimSpace(messageID) == "" {
		p.log.Debug().Msg("play ignored: missing message id")
		return
	}
	if strings.TrimSpace(text) == "" {
		p.log.Debug().Str("message_id", messageID).Msg("play ignored: empty text")
		return
	}
	chunks := Chunk(text, p.chunkMax)
	p.metrics.ObservePlaybackChunks(len(chunks))
	p.log.Debug().Str("message_id", messageID).Int("chunks", len(chunks)).Msg("playback requested")
	p.dispatch(event{kind: evPlay, messageID: messageID, chunks: chunks})
}

// Cancel stops playback and forces the idle state. Safe to call when idle.
func (p *Player) Cancel() {
	p.dispatch(event{kind: evCancel})
}

// State returns the published playback state.
func (p *Player) State() PlaybackState {
	return p.store.Current()
}

func (p *Player) Store() *PlaybackStore {
	return p.store
}

// SetRate sets the global speech rate, clamped to [MinRate, MaxRate].
// It applies from the next chunk issued.
func (p *Player) SetRate(rate float64) float64 {
	rate = ClampRate(rate)
	p.mu.Lock()
	p.rate = rate
	p.mu.Unlock()
	return rate
}

func (p *Player) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

// Preview speaks a fixed test phrase with profile, outside the tracked
// playback state. Any tracked playback is cancelled first.
func (p *Player) Preview(ctx context.Context, profile VoiceProfile) error {
	p.Cancel()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPlayerClosed
	}
	rate := p.rate * profile.RateMultiplier
	p.mu.Unlock()
	if profile.PitchHint <= 0 {
		profile.PitchHint = DefaultPitch
	}

	events, err := p.engine.Speak(ctx, Utterance{
		ID:      uuid.NewString(),
		Text:    " " + previewPhrase,
		VoiceID: profile.VoiceID(),
		Pitch:   profile.PitchHint,
		Rate:    rate,
	})
	if err != nil {
		if errors.Is(err, ErrEngineUnavailable) {
			p.reportUnavailable(err)
		}
		return err
	}
	go func() {
		for range events {
		}
	}()
	return nil
}

// Close stops timers and the engine. Further commands are ignored.
func (p *Player) Close() {
	p.dispatch(event{kind: evCancel})
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
}

func ClampRate(rate float64) float64 {
	if rate <= 0 {
		return DefaultRate
	}
	if rate < MinRate {
		return MinRate
	}
	if rate > MaxRate {
		return MaxRate
	}
	return rate
}

func (p *Player) dispatch(e event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	queue := []event{e}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		var cmds []command
		p.m, cmds = step(p.m, next)
		for _, c := range cmds {
			queue = append(queue, p.exec(c)...)
		}
	}
}

// exec runs one side effect. It is called with p.mu held and returns any
// follow-up events produced synchronously.
func (p *Player) exec(c command) []event {
	switch c.kind {
	case cmdStopTimer:
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
	case cmdCancelEngine:
		if err := p.engine.CancelAll(); err != nil {
			p.log.Debug().Err(err).Msg("engine cancel failed")
		}
	case cmdArm:
		session, index := c.session, c.index
		p.timer = p.clock.AfterFunc(p.settle, func() {
			p.dispatch(event{kind: evIssue, session: session, index: index})
		})
	case cmdSpeak:
		return p.speak(c)
	case cmdPublish:
		if p.store.set(c.state) {
			if c.state.Playing {
				p.metrics.ObservePlaybackEvent("playing")
			} else {
				p.metrics.ObservePlaybackEvent("idle")
			}
		}
	case cmdCount:
		p.metrics.ObservePlaybackEvent(c.label)
	}
	return nil
}

func (p *Player) speak(c command) []event {
	// The engine is exclusive: clear anything still queued before the next chunk.
	if err := p.engine.CancelAll(); err != nil {
		p.log.Debug().Err(err).Msg("engine cancel before chunk failed")
	}

	profile, _ := p.profiles.Selected()
	pitch := profile.PitchHint
	if pitch <= 0 {
		pitch = DefaultPitch
	}
	mult := profile.RateMultiplier
	if mult <= 0 {
		mult = 1.0
	}

	u := Utterance{
		ID:      uuid.NewString(),
		Text:    c.text,
		VoiceID: profile.VoiceID(),
		Pitch:   pitch,
		Rate:    p.rate * mult,
	}
	events, err := p.engine.Speak(p.ctx, u)
	if err != nil {
		if errors.Is(err, ErrEngineUnavailable) {
			p.reportUnavailable(err)
			return []event{{kind: evUnavailable, session: c.session, index: c.index}}
		}
		p.log.Debug().Err(err).Int("chunk", c.index).Msg("speak failed, skipping chunk")
		return []event{{kind: evError, session: c.session, index: c.index}}
	}
	go p.pump(c.session, c.index, events, time.Now())
	return nil
}

func (p *Player) pump(session uint64, index int, events <-chan UtteranceEvent, issued time.Time) {
	for ev := range events {
		switch ev.Type {
		case UtteranceStart:
			p.metrics.ObserveStage(observability.StageSpeakToStart, time.Since(issued))
			p.dispatch(event{kind: evStart, session: session, index: index})
		case UtteranceEnd:
			p.metrics.ObserveStage(observability.StageChunkTotal, time.Since(issued))
			p.metrics.ObserveChunkOutcome(observability.OutcomeEnded)
			p.dispatch(event{kind: evEnd, session: session, index: index})
			return
		case UtteranceError:
			p.log.Debug().Str("code", ev.Code).Str("detail", ev.Detail).Int("chunk", index).Msg("utterance error")
			p.metrics.ObserveChunkOutcome(observability.OutcomeErrored)
			p.dispatch(event{kind: evError, session: session, index: index})
			return
		}
	}
	// Closed without a terminal event: treat as an interrupted chunk.
	p.metrics.ObserveChunkOutcome(observability.OutcomeInterrupted)
	p.dispatch(event{kind: evError, session: session, index: index})
}

func (p *Player) reportUnavailable(err error) {
	p.metrics.ObserveEngineUnavailable(p.engine.Name())
	p.metrics.ObserveChunkOutcome(observability.OutcomeUnavailable)
	p.unavailableOnce.Do(func() {
		p.log.Warn().Err(err).Str("engine", p.engine.Name()).Msg("speech engine unavailable, playback disabled")
	})
}
