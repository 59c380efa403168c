package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/pad/internal/realtime"
	"github.com/cwrk-planet/pad/internal/realtime/memory"
)

func TestBroadcastSkipsSender(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()

	a, err := hub.OpenTopic(ctx, "room")
	require.NoError(t, err)
	b, err := hub.OpenTopic(ctx, "room")
	require.NoError(t, err)
	other, err := hub.OpenTopic(ctx, "elsewhere")
	require.NoError(t, err)

	var gotA, gotB, gotOther int
	a.OnBroadcast(func(realtime.Event) { gotA++ })
	b.OnBroadcast(func(realtime.Event) { gotB++ })
	other.OnBroadcast(func(realtime.Event) { gotOther++ })

	require.NoError(t, a.Broadcast(ctx, realtime.Event{Type: realtime.EventContentChanged}))
	assert.Equal(t, 0, gotA)
	assert.Equal(t, 1, gotB)
	assert.Equal(t, 0, gotOther)
}

func TestPresenceSyncReplacesMembers(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()

	a, _ := hub.OpenTopic(ctx, "room")
	b, _ := hub.OpenTopic(ctx, "room")

	var last []realtime.PresenceMeta
	a.OnPresenceSync(func(m []realtime.PresenceMeta) { last = m })

	require.NoError(t, a.TrackPresence(ctx, realtime.PresenceMeta{ClientID: "a"}))
	require.NoError(t, b.TrackPresence(ctx, realtime.PresenceMeta{ClientID: "b", IsTyping: true}))
	require.Len(t, last, 2)
	assert.True(t, last[1].IsTyping)

	require.NoError(t, b.Close())
	require.Len(t, last, 1)
	assert.Equal(t, "a", last[0].ClientID)
}

func TestDisconnectedDropsBroadcasts(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()

	a, _ := hub.OpenTopic(ctx, "room")
	b, _ := hub.OpenTopic(ctx, "room")

	var statuses []realtime.Status
	a.OnConnectionStatusChange(func(s realtime.Status) { statuses = append(statuses, s) })
	delivered := 0
	b.OnBroadcast(func(realtime.Event) { delivered++ })

	hub.SetConnected(false)
	assert.ErrorIs(t, a.Broadcast(ctx, realtime.Event{}), realtime.ErrDisconnected)
	hub.SetConnected(true)
	require.NoError(t, a.Broadcast(ctx, realtime.Event{}))

	assert.Equal(t, 1, delivered)
	assert.Equal(t, []realtime.Status{realtime.StatusConnected, realtime.StatusDisconnected, realtime.StatusConnected}, statuses)
}
