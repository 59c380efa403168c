package session

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/pad/config"
	"github.com/cwrk-planet/pad/internal/domain"
	"github.com/cwrk-planet/pad/internal/realtime"
	rtmemory "github.com/cwrk-planet/pad/internal/realtime/memory"
	memstore "github.com/cwrk-planet/pad/internal/store/memory"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type echoCompleter struct{}

func (echoCompleter) StreamCompletion(_ context.Context, _ []domain.Message, doc, prompt string, onChunk func(string)) string {
	onChunk("re")
	return "re: " + prompt + " / " + doc
}

func testConfig() *config.Config {
	on := true
	return &config.Config{
		Sync: config.Sync{SaveDebounce: "20ms", TypingExpiry: "50ms", HistoryWindow: 12, BroadcastEdits: &on},
	}
}

func newPair(t *testing.T) (alice, bob *Controller, aliceOut, bobOut *syncBuffer, st *memstore.Store) {
	t.Helper()
	st = memstore.New()
	hub := rtmemory.NewHub()
	deps := Deps{Store: st, Transport: hub, Completer: echoCompleter{}}

	aliceOut, bobOut = &syncBuffer{}, &syncBuffer{}
	alice = NewController(Context{
		Identity: domain.Identity{ID: "a", Label: "alice"},
		Config:   testConfig(),
		Theme:    PlainTheme(),
	}, deps, aliceOut)
	bob = NewController(Context{
		Identity: domain.Identity{ID: "b", Label: "bob"},
		Config:   testConfig(),
		Theme:    PlainTheme(),
	}, deps, bobOut)

	ctx := context.Background()
	require.NoError(t, alice.Open(ctx, "r1"))
	require.NoError(t, bob.Open(ctx, "r1"))
	t.Cleanup(func() {
		alice.Close(context.Background())
		bob.Close(context.Background())
	})
	return alice, bob, aliceOut, bobOut, st
}

func TestNotOpen(t *testing.T) {
	c := NewController(Context{Theme: PlainTheme()}, Deps{}, &syncBuffer{})
	assert.ErrorIs(t, c.Type("x"), ErrNotOpen)
	assert.ErrorIs(t, c.Chat(context.Background(), "x"), ErrNotOpen)
	_, err := c.Who()
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.ErrorIs(t, c.Open(context.Background(), "  "), domain.ErrEmptyRoomID)
	c.Close(context.Background())
}

func TestEditsReachPeerAndStore(t *testing.T) {
	alice, _, aliceOut, bobOut, st := newPair(t)

	assert.Contains(t, aliceOut.String(), "joined r1 as alice")
	assert.Contains(t, aliceOut.String(), domain.WelcomeText)

	require.NoError(t, alice.Append("buy milk"))
	require.NoError(t, alice.Append("buy eggs"))
	assert.Contains(t, bobOut.String(), "buy milk\nbuy eggs")

	require.Eventually(t, func() bool {
		r, err := st.Get(context.Background(), "r1")
		return err == nil && r.Content == "buy milk\nbuy eggs"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChatRendersReplyOnBothSides(t *testing.T) {
	alice, _, aliceOut, bobOut, _ := newPair(t)
	require.NoError(t, alice.Type("doc"))

	require.NoError(t, alice.Chat(context.Background(), "ping"))

	for _, out := range []string{aliceOut.String(), bobOut.String()} {
		assert.Contains(t, out, "alice: ping")
		assert.Contains(t, out, "AI: re: ping / doc")
	}
	assert.Contains(t, aliceOut.String(), "AI is replying...")
	assert.Equal(t, 1, strings.Count(bobOut.String(), "alice: ping"))
}

func TestWhoListsPeers(t *testing.T) {
	_, bob, _, bobOut, _ := newPair(t)

	users, err := bob.Who()
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].ClientLabel)
	assert.Contains(t, bobOut.String(), "alice")
}

func TestShowPrintsEverything(t *testing.T) {
	alice, _, aliceOut, _, _ := newPair(t)
	require.NoError(t, alice.Type("hello note"))
	require.NoError(t, alice.Show())

	out := aliceOut.String()
	assert.Contains(t, out, "hello note")
	assert.Contains(t, out, "status: "+string(realtime.StatusConnected))
}
