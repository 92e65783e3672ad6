package room

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/silentchat/internal/chat"
	"github.com/antoniostano/silentchat/internal/voice"
)

func newTestRegistry(clk clockwork.Clock, engine *voice.MockEngine) *Registry {
	return NewRegistry(Config{
		Language:      "en",
		SettleDelay:   voice.DefaultSettleDelay,
		ReplyDelayMin: time.Second,
		ReplyDelayMax: 2 * time.Second,
		Engines:       func() (voice.Engine, *voice.RemoteEngine) { return engine, nil },
		Clock:         clk,
		Log:           zerolog.Nop(),
	})
}

func TestRegistryOpenIsIdempotent(t *testing.T) {
	reg := newTestRegistry(clockwork.NewFakeClock(), voice.NewMockEngine(nil, true))
	defer reg.CloseAll()

	a := reg.Open("s1")
	b := reg.Open("s1")
	assert.Same(t, a, b)
	assert.Equal(t, 1, reg.Len())

	got, err := reg.Get("s1")
	require.NoError(t, err)
	assert.Same(t, a, got)

	_, err = reg.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRoomPartnerReplyIsSpoken(t *testing.T) {
	clk := clockwork.NewFakeClock()
	engine := voice.NewMockEngine([]voice.Voice{{ID: "f", Name: "English (female)", Lang: "en-US"}}, true)
	reg := newTestRegistry(clk, engine)
	defer reg.CloseAll()

	r := reg.Open("s1")
	require.Eventually(t, func() bool { return r.Catalog.Snapshot().Discovered }, time.Second, time.Millisecond)

	require.True(t, r.Conversation.Send("hello", chat.SenderSelf))
	clk.Advance(2 * time.Second)
	require.Eventually(t, func() bool { return len(r.Conversation.Messages()) == 2 }, time.Second, time.Millisecond)

	// The reply is queued behind the settle delay, then spoken.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clk.BlockUntilContext(ctx, 1))
	clk.Advance(voice.DefaultSettleDelay)
	require.Eventually(t, func() bool { return len(engine.Spoken()) == 1 }, time.Second, time.Millisecond)
	u := engine.Spoken()[0]
	assert.Equal(t, "f", u.VoiceID)
	assert.Contains(t, u.Text, r.Conversation.Messages()[1].Text)
}

func TestRegistryCloseTearsDownRoom(t *testing.T) {
	clk := clockwork.NewFakeClock()
	reg := newTestRegistry(clk, voice.NewMockEngine(nil, true))

	r := reg.Open("s1")
	r.Conversation.Send("hello", chat.SenderSelf)
	reg.Close("s1")
	reg.Close("s1")

	assert.Equal(t, 0, reg.Len())
	assert.False(t, r.Conversation.Send("again", chat.SenderSelf))
	clk.Advance(time.Minute)
	assert.Never(t, func() bool { return len(r.Conversation.Messages()) != 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestDefaultEngineIsRemote(t *testing.T) {
	reg := NewRegistry(Config{Log: zerolog.Nop()})
	defer reg.CloseAll()

	r := reg.Open("s1")
	require.NotNil(t, r.Remote)
	assert.False(t, r.Engine.Available(), "remote engine is unavailable until a socket attaches")
}
