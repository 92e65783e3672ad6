package voice

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/silentchat/internal/observability"
)

const waitFor = time.Second

type playerFixture struct {
	player  *Player
	engine  *MockEngine
	catalog *Catalog
	clk     *clockwork.FakeClock
	metrics *observability.Metrics
}

func newPlayerFixture(t *testing.T, chunkMax int) *playerFixture {
	t.Helper()
	engine := NewMockEngine([]Voice{
		{ID: "m", Name: "English (male)", Lang: "en-US"},
		{ID: "f", Name: "English (female)", Lang: "en-US"},
	}, false)
	catalog := NewCatalog("en", zerolog.Nop())
	voices, _ := engine.Voices(context.Background())
	catalog.Discover(voices)

	clk := clockwork.NewFakeClockAt(time.Unix(0, 0))
	metrics := observability.NewMetrics("silentchat_player_test")
	p := NewPlayer(engine, catalog, nil, clk, metrics, zerolog.Nop(), PlayerConfig{
		ChunkMax:    chunkMax,
		SettleDelay: DefaultSettleDelay,
	})
	t.Cleanup(p.Close)
	return &playerFixture{player: p, engine: engine, catalog: catalog, clk: clk, metrics: metrics}
}

// waitArmed blocks until the settle timer is waiting on the clock.
func (f *playerFixture) waitArmed(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, f.clk.BlockUntilContext(ctx, 1))
}

// assertSilent moves the clock well past the settle delay and checks that
// nothing beyond the first spoken utterances reaches the engine.
func (f *playerFixture) assertSilent(t *testing.T, spoken int) {
	t.Helper()
	f.clk.Advance(time.Second)
	assert.Never(t, func() bool { return len(f.engine.Spoken()) != spoken }, 50*time.Millisecond, 5*time.Millisecond)
}

// issue fires the settle timer and returns the utterance handed to the engine.
func (f *playerFixture) issue(t *testing.T, spokenBefore int) Utterance {
	t.Helper()
	f.waitArmed(t)
	f.clk.Advance(DefaultSettleDelay)
	require.Eventually(t, func() bool { return len(f.engine.Spoken()) == spokenBefore+1 }, waitFor, time.Millisecond)
	return f.engine.Spoken()[spokenBefore]
}

func (f *playerFixture) waitState(t *testing.T, want PlaybackState) {
	t.Helper()
	require.Eventually(t, func() bool { return f.player.State() == want }, waitFor, time.Millisecond)
}

func TestPlayerSpeaksEveryChunkInOrder(t *testing.T) {
	f := newPlayerFixture(t, 1)
	updates, release := f.player.Store().Subscribe()
	defer release()

	f.player.Play("A. B. C.", "1")
	assert.Equal(t, PlaybackState{}, f.player.State(), "nothing plays before the settle delay")

	var texts []string
	for i := 0; i < 3; i++ {
		u := f.issue(t, i)
		texts = append(texts, u.Text)
		require.True(t, f.engine.Start(u.ID))
		f.waitState(t, PlaybackState{Playing: true, MessageID: "1"})
		require.True(t, f.engine.Finish(u.ID))
		if i < 2 {
			f.waitArmed(t)
			assert.Equal(t, PlaybackState{Playing: true, MessageID: "1"}, f.player.State(), "still speaking between chunks")
		}
	}
	f.waitState(t, PlaybackState{})

	assert.Equal(t, []string{"A.", "B.", "C."}, texts)
	assert.Equal(t, PlaybackState{Playing: true, MessageID: "1"}, <-updates)
	assert.Equal(t, PlaybackState{}, <-updates)
	select {
	case extra := <-updates:
		t.Fatalf("unexpected extra state %+v", extra)
	default:
	}
}

func TestPlayerUsesSelectedProfile(t *testing.T) {
	f := newPlayerFixture(t, DefaultChunkMax)
	f.catalog.Select("male")
	f.player.SetRate(1.5)

	f.player.Play("hello", "m1")
	u := f.issue(t, 0)

	assert.Equal(t, " hello", u.Text)
	assert.Equal(t, "m", u.VoiceID)
	assert.InDelta(t, 0.8, u.Pitch, 1e-9)
	assert.InDelta(t, 1.5, u.Rate, 1e-9)
}

func TestPlayerCancelIsIdempotent(t *testing.T) {
	f := newPlayerFixture(t, DefaultChunkMax)
	f.player.Cancel()
	f.player.Cancel()
	assert.Equal(t, PlaybackState{}, f.player.State())

	f.player.Play("hello", "m1")
	u := f.issue(t, 0)
	f.engine.Start(u.ID)
	f.waitState(t, PlaybackState{Playing: true, MessageID: "m1"})

	f.player.Cancel()
	assert.Equal(t, PlaybackState{}, f.player.State())
	f.player.Cancel()
	assert.Equal(t, PlaybackState{}, f.player.State())
	f.assertSilent(t, 1)
}

func TestPlayerCancelBeforeSettleStopsTimer(t *testing.T) {
	f := newPlayerFixture(t, DefaultChunkMax)
	f.player.Play("hello", "m1")
	f.waitArmed(t)

	f.player.Cancel()
	f.assertSilent(t, 0)
	assert.Equal(t, PlaybackState{}, f.player.State())
}

func TestPlayerErroredChunkAdvances(t *testing.T) {
	f := newPlayerFixture(t, 1)
	f.player.Play("A. B.", "1")

	first := f.issue(t, 0)
	require.True(t, f.engine.Fail(first.ID))

	second := f.issue(t, 1)
	assert.Equal(t, "B.", second.Text)
	f.engine.Start(second.ID)
	f.engine.Finish(second.ID)
	f.waitState(t, PlaybackState{})

	outcomes := f.metrics.SnapshotStages().ChunkOutcomes
	assert.Equal(t, 1, outcomes[observability.OutcomeErrored])
	assert.Equal(t, 1, outcomes[observability.OutcomeEnded])
}

func TestPlayerReplacesActivePlayback(t *testing.T) {
	f := newPlayerFixture(t, 1)
	f.player.Play("A. B.", "old")
	first := f.issue(t, 0)
	f.engine.Start(first.ID)
	f.waitState(t, PlaybackState{Playing: true, MessageID: "old"})

	f.player.Play("C.", "new")
	assert.Equal(t, PlaybackState{}, f.player.State(), "replacing resets to idle until the new chunk starts")

	second := f.issue(t, 1)
	assert.Equal(t, "C.", second.Text)
	f.engine.Start(second.ID)
	f.waitState(t, PlaybackState{Playing: true, MessageID: "new"})
	f.engine.Finish(second.ID)
	f.waitState(t, PlaybackState{})
	// The replaced session must not arm another chunk.
	f.assertSilent(t, 2)
}

func TestPlayerUnavailableEngineStaysIdle(t *testing.T) {
	f := newPlayerFixture(t, 1)
	f.engine.SetAvailable(false)

	f.player.Play("A. B.", "1")
	f.waitArmed(t)
	f.clk.Advance(DefaultSettleDelay)

	f.assertSilent(t, 0)
	assert.Equal(t, PlaybackState{}, f.player.State())
}

func TestPlayerIgnoresEmptyInput(t *testing.T) {
	f := newPlayerFixture(t, DefaultChunkMax)
	f.player.Play("", "1")
	f.player.Play("hi", "")
	f.assertSilent(t, 0)
}

func TestPlayerPreviewSpeaksTestPhrase(t *testing.T) {
	f := newPlayerFixture(t, DefaultChunkMax)
	require.NoError(t, f.player.Preview(context.Background(), f.catalog.Profile(LabelFemale)))

	spoken := f.engine.Spoken()
	require.Len(t, spoken, 1)
	assert.Equal(t, " "+previewPhrase, spoken[0].Text)
	assert.Equal(t, "f", spoken[0].VoiceID)
	assert.Equal(t, PlaybackState{}, f.player.State())
}

func TestPlayerCloseIgnoresLaterCommands(t *testing.T) {
	f := newPlayerFixture(t, DefaultChunkMax)
	f.player.Close()
	f.player.Play("hello", "1")
	f.assertSilent(t, 0)
}

func TestPlayerPreviewAfterCloseIsRejected(t *testing.T) {
	f := newPlayerFixture(t, DefaultChunkMax)
	f.player.Close()

	err := f.player.Preview(context.Background(), f.catalog.Profile(LabelFemale))
	require.ErrorIs(t, err, ErrPlayerClosed)
	assert.Empty(t, f.engine.Spoken())
}

func TestClampRate(t *testing.T) {
	cases := map[float64]float64{0: DefaultRate, 0.1: MinRate, 1.25: 1.25, 9: MaxRate}
	for in, want := range cases {
		if got := ClampRate(in); got != want {
			t.Fatalf("ClampRate(%v) = %v, want %v", in, got, want)
		}
	}
}
