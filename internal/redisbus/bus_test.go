package redisbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/pad/internal/realtime"
)

func newClient(t *testing.T, mr *miniredis.Miniredis) *redis.Client {
	t.Helper()
	c, err := Connect(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestBusRelaysBetweenInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	a := New(newClient(t, mr), "a", nil)
	b := New(newClient(t, mr), "b", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Envelope, 4)
	go b.Run(ctx, func(env Envelope) { got <- env })
	ownEcho := make(chan Envelope, 4)
	go a.Run(ctx, func(env Envelope) { ownEcho <- env })

	ev := realtime.Event{Type: realtime.EventContentChanged, SenderID: "u1", Payload: json.RawMessage(`{"content":"x"}`)}

	// Subscriptions are confirmed asynchronously; publish until one lands.
	var env Envelope
	require.Eventually(t, func() bool {
		assert.NoError(t, a.Publish(ctx, Envelope{Room: "r1", Kind: KindBroadcast, Event: &ev}))
		select {
		case env = <-got:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "a", env.Instance)
	assert.Equal(t, "r1", env.Room)
	assert.Equal(t, KindBroadcast, env.Kind)
	require.NotNil(t, env.Event)
	assert.Equal(t, "u1", env.Event.SenderID)
	assert.JSONEq(t, `{"content":"x"}`, string(env.Event.Payload))

	select {
	case env := <-ownEcho:
		t.Fatalf("instance received its own envelope: %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishRequiresRoom(t *testing.T) {
	mr := miniredis.RunT(t)
	b := New(newClient(t, mr), "a", nil)
	assert.Error(t, b.Publish(context.Background(), Envelope{Kind: KindPresence}))
}

func TestConnectBadURL(t *testing.T) {
	_, err := Connect(context.Background(), "not a url")
	assert.Error(t, err)
}
