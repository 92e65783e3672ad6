// Package chat holds the conversation log and the send/reply flow.
package chat

import (
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/antoniostano/silentchat/internal/observability"
	"github.com/antoniostano/silentchat/internal/redact"
	"github.com/antoniostano/silentchat/internal/voice"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrClosed          = errors.New("conversation closed")
)

const (
	DefaultReplyDelayMin = 1500 * time.Millisecond
	DefaultReplyDelayMax = 3500 * time.Millisecond
)

type Sender string

const (
	SenderSelf    Sender = "self"
	SenderPartner Sender = "partner"
)

// Message is immutable once appended.
type Message struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// Speaker is the playback side a conversation drives.
type Speaker interface {
	Play(text, messageID string)
	Cancel()
	State() voice.PlaybackState
}

// Replier produces the partner's reply to a self message.
type Replier interface {
	Generate(text string) string
}

type Config struct {
	ReplyDelayMin time.Duration
	ReplyDelayMax time.Duration

	Clock   clockwork.Clock
	Rand    *rand.Rand
	Metrics *observability.Metrics
	Log     zerolog.Logger
}

// Conversation is the append-only message log. Self messages schedule a
// delayed partner reply; partner messages are played as soon as they land.
type Conversation struct {
	mu      sync.Mutex
	log     []Message
	seq     uint64
	closed  bool
	pending map[uint64]clockwork.Timer
	nextTok uint64
	subs    map[int]chan Message
	nextSub int

	speaker Speaker
	replier Replier
	min     time.Duration
	max     time.Duration
	clock   clockwork.Clock
	rng     *rand.Rand
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func New(speaker Speaker, replier Replier, cfg Config) *Conversation {
	if cfg.ReplyDelayMin <= 0 {
		cfg.ReplyDelayMin = DefaultReplyDelayMin
	}
	if cfg.ReplyDelayMax < cfg.ReplyDelayMin {
		cfg.ReplyDelayMax = cfg.ReplyDelayMin
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Conversation{
		pending: make(map[uint64]clockwork.Timer),
		subs:    make(map[int]chan Message),
		speaker: speaker,
		replier: replier,
		min:     cfg.ReplyDelayMin,
		max:     cfg.ReplyDelayMax,
		clock:   cfg.Clock,
		rng:     cfg.Rand,
		metrics: cfg.Metrics,
		logger:  cfg.Log,
	}
}

// Send appends text from sender. Blank text and a closed conversation are
// rejected with false and no state change.
func (c *Conversation) Send(text string, sender Sender) bool {
	_, ok := c.Append(text, sender)
	return ok
}

// Append is Send that also returns the stored message.
func (c *Conversation) Append(text string, sender Sender) (Message, bool) {
	if strings.TrimSpace(text) == "" {
		return Message{}, false
	}
	if sender != SenderPartner {
		sender = SenderSelf
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Message{}, false
	}
	msg := c.appendLocked(text, sender)
	if sender == SenderSelf {
		c.scheduleReplyLocked(msg.Text)
	}
	c.mu.Unlock()

	c.metrics.ObserveMessageAppended(string(sender))
	c.logger.Debug().
		Str("message_id", msg.ID).
		Str("sender", string(sender)).
		Uint64("seq", msg.Seq).
		Str("preview", redact.Preview(msg.Text, 40)).
		Msg("message appended")

	if sender == SenderPartner {
		c.speaker.Play(msg.Text, msg.ID)
	}
	return msg, true
}

// PlayMessage toggles playback of a stored message: it cancels when that
// message is the one playing, otherwise starts it. started reports which.
func (c *Conversation) PlayMessage(id string) (bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrClosed
	}
	msg, ok := c.findLocked(id)
	c.mu.Unlock()
	if !ok {
		return false, ErrMessageNotFound
	}

	if st := c.speaker.State(); st.Playing && st.MessageID == msg.ID {
		c.speaker.Cancel()
		return false, nil
	}
	c.speaker.Play(msg.Text, msg.ID)
	return true, nil
}

// Messages returns the log in append order.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.log...)
}

func (c *Conversation) Message(id string) (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.findLocked(id)
}

// PendingReplies is the number of partner replies still waiting on their timer.
func (c *Conversation) PendingReplies() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Subscribe streams every message appended after the call. The channel is
// closed by the returned func or by Close.
func (c *Conversation) Subscribe() (<-chan Message, func()) {
	ch := make(chan Message, 64)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

// Close stops pending replies and playback. Later sends are rejected.
func (c *Conversation) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for tok, t := range c.pending {
		t.Stop()
		delete(c.pending, tok)
	}
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.mu.Unlock()

	c.speaker.Cancel()
}

func (c *Conversation) appendLocked(text string, sender Sender) Message {
	c.seq++
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	msg := Message{
		ID:        id.String(),
		Seq:       c.seq,
		Text:      text,
		Sender:    sender,
		Timestamp: c.clock.Now(),
	}
	if n := len(c.log); n > 0 && msg.Timestamp.Before(c.log[n-1].Timestamp) {
		msg.Timestamp = c.log[n-1].Timestamp
	}
	c.log = append(c.log, msg)

	for _, ch := range c.subs {
		select {
		case ch <- msg:
		default:
			c.logger.Warn().Str("message_id", msg.ID).Msg("subscriber lagging, message dropped")
		}
	}
	return msg
}

func (c *Conversation) scheduleReplyLocked(text string) {
	delay := c.min
	if span := c.max - c.min; span > 0 {
		delay += time.Duration(c.rng.Int63n(int64(span) + 1))
	}
	c.nextTok++
	tok := c.nextTok
	c.pending[tok] = c.clock.AfterFunc(delay, func() { c.deliverReply(tok, text) })
	c.metrics.ObserveReplyDelay(delay)
}

func (c *Conversation) deliverReply(tok uint64, text string) {
	c.mu.Lock()
	if _, ok := c.pending[tok]; !ok || c.closed {
		c.mu.Unlock()
		return
	}
	delete(c.pending, tok)
	c.mu.Unlock()

	reply := c.replier.Generate(text)
	if !c.Send(reply, SenderPartner) {
		c.logger.Debug().Msg("partner reply dropped")
	}
}

func (c *Conversation) findLocked(id string) (Message, bool) {
	for i := len(c.log) - 1; i >= 0; i-- {
		if c.log[i].ID == id {
			return c.log[i], true
		}
	}
	return Message{}, false
}
