package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/pad/internal/realtime"
)

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func startServer(t *testing.T, cfg ServerConfig) *httptest.Server {
	t.Helper()
	srv := NewServer(NewHub(nil, nil, nil), cfg, nil)
	r := chi.NewRouter()
	r.Get("/ws/rooms/{id}", srv.HandleWS)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server, room, client string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/rooms/" + room + "?client_id=" + client + "&label=" + client
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// next reads frames until one of type want arrives.
func next(t *testing.T, c *websocket.Conn, want string) frame {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var f frame
		require.NoError(t, c.ReadJSON(&f))
		if f.Type == want {
			return f
		}
	}
}

func TestHandleWSRequiresClientID(t *testing.T) {
	ts := startServer(t, ServerConfig{})
	resp, err := http.Get(ts.URL + "/ws/rooms/r1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleWSRelaysBroadcastAndPresence(t *testing.T) {
	ts := startServer(t, ServerConfig{})
	a := dial(t, ts, "r1", "alice")
	next(t, a, TypePresenceSync)
	b := dial(t, ts, "r1", "bob")
	next(t, b, TypePresenceSync)

	require.NoError(t, a.WriteJSON(Message{Type: TypePresence, Payload: realtime.PresenceMeta{ClientID: "spoofed", IsTyping: true}}))

	var p PresenceSyncPayload
	for len(p.Members) != 1 {
		f := next(t, b, TypePresenceSync)
		require.NoError(t, json.Unmarshal(f.Payload, &p))
	}
	assert.Equal(t, "alice", p.Members[0].ClientID)
	assert.Equal(t, "alice", p.Members[0].ClientLabel)
	assert.True(t, p.Members[0].IsTyping)

	ev := realtime.Event{Type: realtime.EventContentChanged, SenderID: "mallory", Payload: json.RawMessage(`{"content":"hi"}`)}
	require.NoError(t, a.WriteJSON(Message{Type: TypeBroadcast, Payload: ev}))

	f := next(t, b, TypeBroadcast)
	var got realtime.Event
	require.NoError(t, json.Unmarshal(f.Payload, &got))
	assert.Equal(t, "alice", got.SenderID)
	assert.Equal(t, realtime.EventContentChanged, got.Type)
	assert.NotZero(t, got.Timestamp)
	assert.JSONEq(t, `{"content":"hi"}`, string(got.Payload))
}

func TestHandleWSRateLimit(t *testing.T) {
	ts := startServer(t, ServerConfig{RatePerSecond: 0.001, Burst: 1})
	a := dial(t, ts, "r1", "alice")
	next(t, a, TypePresenceSync)
	b := dial(t, ts, "r1", "bob")
	next(t, b, TypePresenceSync)

	for i := 0; i < 3; i++ {
		ev := realtime.Event{Type: realtime.EventContentChanged, Payload: json.RawMessage(`{}`)}
		require.NoError(t, a.WriteJSON(Message{Type: TypeBroadcast, Payload: ev}))
	}

	next(t, b, TypeBroadcast)
	b.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	for {
		var f frame
		if err := b.ReadJSON(&f); err != nil {
			break
		}
		assert.NotEqual(t, TypeBroadcast, f.Type, "rate limited frame was relayed")
	}
}
