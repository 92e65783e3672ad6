package chat

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/silentchat/internal/partner"
	"github.com/antoniostano/silentchat/internal/voice"
)

const waitFor = time.Second

type playCall struct {
	text, messageID string
}

type fakeSpeaker struct {
	mu      sync.Mutex
	plays   []playCall
	cancels int
	state   voice.PlaybackState
}

func (s *fakeSpeaker) Play(text, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plays = append(s.plays, playCall{text, messageID})
	s.state = voice.PlaybackState{Playing: true, MessageID: messageID}
}

func (s *fakeSpeaker) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels++
	s.state = voice.PlaybackState{}
}

func (s *fakeSpeaker) State() voice.PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSpeaker) Plays() []playCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]playCall(nil), s.plays...)
}

type fixture struct {
	conv    *Conversation
	speaker *fakeSpeaker
	clk     *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	speaker := &fakeSpeaker{}
	conv := New(speaker, partner.NewWithRand(rand.New(rand.NewSource(7))), Config{
		ReplyDelayMin: 1500 * time.Millisecond,
		ReplyDelayMax: 3500 * time.Millisecond,
		Clock:         clk,
		Rand:          rand.New(rand.NewSource(7)),
		Log:           zerolog.Nop(),
	})
	t.Cleanup(conv.Close)
	return &fixture{conv: conv, speaker: speaker, clk: clk}
}

func TestSendSelfSchedulesPartnerReply(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.conv.Send("hello", SenderSelf))
	msgs := f.conv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, SenderSelf, msgs[0].Sender)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Empty(t, f.speaker.Plays(), "self messages are never auto-played")

	f.clk.Advance(1499 * time.Millisecond)
	if got := len(f.conv.Messages()); got != 1 {
		t.Fatalf("len(Messages) before minimum delay = %d, want 1", got)
	}

	f.clk.Advance(2 * time.Second)
	require.Eventually(t, func() bool { return len(f.speaker.Plays()) == 1 }, waitFor, time.Millisecond)
	msgs = f.conv.Messages()
	require.Len(t, msgs, 2)
	reply := msgs[1]
	assert.Equal(t, SenderPartner, reply.Sender)
	assert.Equal(t, partner.New().Generate("hello"), reply.Text, "greeting reply expected")
	assert.True(t, reply.Timestamp.After(msgs[0].Timestamp))

	plays := f.speaker.Plays()
	require.Len(t, plays, 1)
	assert.Equal(t, playCall{reply.Text, reply.ID}, plays[0])
	assert.Equal(t, 0, f.conv.PendingReplies())
}

func TestSendRejectsBlankText(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.conv.Send("", SenderSelf))
	assert.False(t, f.conv.Send(" \t\n", SenderSelf))
	assert.Empty(t, f.conv.Messages())
	assert.Equal(t, 0, f.conv.PendingReplies())
}

func TestSendKeepsExactText(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.conv.Send("  spaced out  ", SenderSelf))
	assert.Equal(t, "  spaced out  ", f.conv.Messages()[0].Text)
}

func TestPartnerMessageIsPlayedImmediately(t *testing.T) {
	f := newFixture(t)
	msg, ok := f.conv.Append("incoming", SenderPartner)
	require.True(t, ok)
	assert.Equal(t, []playCall{{"incoming", msg.ID}}, f.speaker.Plays())
	assert.Equal(t, 0, f.conv.PendingReplies(), "partner messages schedule no reply")
}

func TestPlayMessageToggles(t *testing.T) {
	f := newFixture(t)
	a, _ := f.conv.Append("first message", SenderSelf)
	b, _ := f.conv.Append("second message", SenderSelf)

	started, err := f.conv.PlayMessage(a.ID)
	require.NoError(t, err)
	assert.True(t, started)

	started, err = f.conv.PlayMessage(a.ID)
	require.NoError(t, err)
	assert.False(t, started, "playing the active message again cancels it")
	assert.Equal(t, 1, f.speaker.cancels)
	assert.Equal(t, voice.PlaybackState{}, f.speaker.State())

	f.conv.PlayMessage(a.ID)
	started, err = f.conv.PlayMessage(b.ID)
	require.NoError(t, err)
	assert.True(t, started, "another message replaces the active one")
	assert.Equal(t, b.ID, f.speaker.State().MessageID)

	_, err = f.conv.PlayMessage("missing")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestMessagesKeepAppendOrder(t *testing.T) {
	f := newFixture(t)
	f.conv.Send("hi", SenderSelf)
	f.clk.Advance(500 * time.Millisecond)
	f.conv.Send("are you there?", SenderSelf)
	f.clk.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return len(f.conv.Messages()) == 4 }, waitFor, time.Millisecond)

	msgs := f.conv.Messages()
	require.Len(t, msgs, 4)
	for i := 1; i < len(msgs); i++ {
		assert.Equal(t, msgs[i-1].Seq+1, msgs[i].Seq)
		assert.False(t, msgs[i].Timestamp.Before(msgs[i-1].Timestamp))
		assert.Less(t, msgs[i-1].ID, msgs[i].ID, "v7 ids sort by creation")
	}
	assert.Equal(t, SenderSelf, msgs[0].Sender)
	assert.Equal(t, SenderSelf, msgs[1].Sender)
	assert.Equal(t, SenderPartner, msgs[2].Sender)
	assert.Equal(t, SenderPartner, msgs[3].Sender)
}

func TestReplyDelayStaysInWindow(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		clk := clockwork.NewFakeClockAt(time.Unix(0, 0))
		conv := New(&fakeSpeaker{}, partner.New(), Config{
			ReplyDelayMin: 1500 * time.Millisecond,
			ReplyDelayMax: 3500 * time.Millisecond,
			Clock:         clk,
			Rand:          rand.New(rand.NewSource(seed)),
			Log:           zerolog.Nop(),
		})
		conv.Send("something long enough", SenderSelf)

		clk.Advance(1500*time.Millisecond - time.Nanosecond)
		if got := len(conv.Messages()); got != 1 {
			t.Fatalf("seed %d: reply before window, messages = %d", seed, got)
		}
		clk.Advance(2 * time.Second)
		require.Eventuallyf(t, func() bool { return len(conv.Messages()) == 2 }, waitFor, time.Millisecond,
			"seed %d: no reply inside window", seed)
		conv.Close()
	}
}

func TestCloseCancelsPendingReplies(t *testing.T) {
	f := newFixture(t)
	f.conv.Send("hello", SenderSelf)
	require.Equal(t, 1, f.conv.PendingReplies())

	f.conv.Close()
	f.clk.Advance(time.Minute)

	assert.Len(t, f.conv.Messages(), 1)
	assert.Empty(t, f.speaker.Plays())
	assert.False(t, f.conv.Send("after close", SenderSelf))
	_, err := f.conv.PlayMessage(f.conv.Messages()[0].ID)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSubscribeReceivesAppends(t *testing.T) {
	f := newFixture(t)
	updates, release := f.conv.Subscribe()
	defer release()

	f.conv.Send("hello", SenderSelf)
	f.clk.Advance(5 * time.Second)

	first := <-updates
	second := <-updates
	assert.Equal(t, SenderSelf, first.Sender)
	assert.Equal(t, SenderPartner, second.Sender)

	f.conv.Close()
	_, open := <-updates
	assert.False(t, open, "Close ends subscriptions")
}
