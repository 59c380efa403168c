// Package wsclient is the client side of the realtime transport. One
// websocket per room carries broadcasts, presence and store change
// notifications; it reconnects on its own and reports status transitions.
package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cwrk-planet/pad/internal/domain"
	"github.com/cwrk-planet/pad/internal/realtime"
	"github.com/cwrk-planet/pad/internal/transport/ws"
)

type Config struct {
	// BaseURL is the server root, http(s):// or ws(s)://.
	BaseURL    string
	Identity   domain.Identity
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// ReadTimeout closes a connection that has not seen a frame or ping.
	ReadTimeout time.Duration
	Logger      *slog.Logger
}

type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *slog.Logger

	mu    sync.Mutex
	rooms map[string]*roomConn
}

func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("wsclient: base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("wsclient: unsupported scheme %q", u.Scheme)
	}
	cfg.BaseURL = strings.TrimRight(u.String(), "/")

	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 250 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 45 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    log.With("component", "wsclient"),
		rooms:  make(map[string]*roomConn),
	}, nil
}

// OpenTopic returns a handle on the room's connection, dialing it if needed.
// It never fails on network errors; the status callback reports them.
func (c *Client) OpenTopic(_ context.Context, name string) (realtime.Topic, error) {
	if name == "" {
		return nil, domain.ErrEmptyRoomID
	}
	return &Topic{rc: c.acquire(name)}, nil
}

// SubscribeToChanges delivers room_changed frames for roomID.
func (c *Client) SubscribeToChanges(roomID string, fn func(domain.Room)) func() {
	rc := c.acquire(roomID)
	id := rc.addSub(fn)

	var once sync.Once
	return func() {
		once.Do(func() {
			rc.removeSub(id)
			c.release(rc)
		})
	}
}

func (c *Client) roomURL(room string) string {
	q := url.Values{}
	q.Set("client_id", c.cfg.Identity.ID)
	q.Set("label", c.cfg.Identity.Label)
	return c.cfg.BaseURL + "/ws/rooms/" + url.PathEscape(room) + "?" + q.Encode()
}

func (c *Client) acquire(room string) *roomConn {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rc, ok := c.rooms[room]; ok {
		rc.refs++
		return rc
	}
	rc := newRoomConn(c, room)
	rc.refs = 1
	c.rooms[room] = rc
	go rc.run()
	return rc
}

func (c *Client) release(rc *roomConn) {
	c.mu.Lock()
	rc.refs--
	last := rc.refs == 0
	if last {
		delete(c.rooms, rc.room)
	}
	c.mu.Unlock()

	if last {
		rc.stop()
	}
}

// Topic is one holder's view of a room connection.
type Topic struct {
	rc   *roomConn
	once sync.Once
}

func (t *Topic) Broadcast(_ context.Context, ev realtime.Event) error {
	return t.rc.write(ws.Message{Type: ws.TypeBroadcast, Payload: ev})
}

// TrackPresence remembers meta so it is announced again after a reconnect.
func (t *Topic) TrackPresence(_ context.Context, meta realtime.PresenceMeta) error {
	t.rc.mu.Lock()
	t.rc.presence = &meta
	t.rc.mu.Unlock()
	return t.rc.write(ws.Message{Type: ws.TypePresence, Payload: meta})
}

func (t *Topic) OnBroadcast(fn func(realtime.Event)) {
	t.rc.mu.Lock()
	t.rc.onEvent = fn
	t.rc.mu.Unlock()
}

func (t *Topic) OnPresenceSync(fn func([]realtime.PresenceMeta)) {
	t.rc.mu.Lock()
	t.rc.onPresence = fn
	t.rc.mu.Unlock()
}

// OnConnectionStatusChange registers fn and immediately reports the current
// status.
func (t *Topic) OnConnectionStatusChange(fn func(realtime.Status)) {
	t.rc.mu.Lock()
	t.rc.onStatus = fn
	status := t.rc.status
	t.rc.mu.Unlock()
	if fn != nil {
		fn(status)
	}
}

func (t *Topic) Close() error {
	t.once.Do(func() { t.rc.client.release(t.rc) })
	return nil
}

type roomConn struct {
	client *Client
	room   string
	refs   int // guarded by client.mu

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex

	mu         sync.Mutex
	conn       *websocket.Conn
	status     realtime.Status
	presence   *realtime.PresenceMeta
	onEvent    func(realtime.Event)
	onPresence func([]realtime.PresenceMeta)
	onStatus   func(realtime.Status)
	subs       map[int]func(domain.Room)
	nextSub    int
}

func newRoomConn(c *Client, room string) *roomConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &roomConn{
		client: c,
		room:   room,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		status: realtime.StatusConnecting,
		subs:   make(map[int]func(domain.Room)),
	}
}

func (rc *roomConn) run() {
	defer close(rc.done)
	log := rc.client.log.With("room", rc.room)
	backoff := rc.client.cfg.MinBackoff

	for {
		conn, _, err := rc.client.dialer.DialContext(rc.ctx, rc.client.roomURL(rc.room), nil)
		if err != nil {
			if rc.ctx.Err() != nil {
				return
			}
			rc.setStatus(realtime.StatusDisconnected)
			log.Debug("dial failed", "err", err, "retry_in", backoff)
		} else {
			backoff = rc.client.cfg.MinBackoff
			rc.serve(conn)
			if rc.ctx.Err() != nil {
				return
			}
			rc.setStatus(realtime.StatusDisconnected)
			log.Info("connection lost", "retry_in", backoff)
		}

		select {
		case <-rc.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, rc.client.cfg.MaxBackoff)
	}
}

// serve owns conn until it fails.
func (rc *roomConn) serve(conn *websocket.Conn) {
	timeout := rc.client.cfg.ReadTimeout
	conn.SetReadDeadline(time.Now().Add(timeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(timeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	rc.mu.Lock()
	if rc.ctx.Err() != nil {
		rc.mu.Unlock()
		conn.Close()
		return
	}
	rc.conn = conn
	meta := rc.presence
	rc.mu.Unlock()

	rc.setStatus(realtime.StatusConnected)
	if meta != nil {
		if err := rc.write(ws.Message{Type: ws.TypePresence, Payload: *meta}); err != nil {
			rc.client.log.Debug("re-track presence failed", "room", rc.room, "err", err)
		}
	}

	for {
		var f struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := conn.ReadJSON(&f); err != nil {
			break
		}
		conn.SetReadDeadline(time.Now().Add(timeout))
		rc.dispatch(f.Type, f.Payload)
	}

	rc.mu.Lock()
	rc.conn = nil
	rc.mu.Unlock()
	conn.Close()
}

func (rc *roomConn) dispatch(typ string, payload json.RawMessage) {
	switch typ {
	case ws.TypeBroadcast:
		var ev realtime.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return
		}
		rc.mu.Lock()
		fn := rc.onEvent
		rc.mu.Unlock()
		if fn != nil {
			fn(ev)
		}
	case ws.TypePresenceSync:
		var p ws.PresenceSyncPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return
		}
		rc.mu.Lock()
		fn := rc.onPresence
		rc.mu.Unlock()
		if fn != nil {
			fn(p.Members)
		}
	case ws.TypeRoomChanged:
		var p ws.RoomChangedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return
		}
		for _, fn := range rc.subscribers() {
			fn(p.Room.Clone())
		}
	}
}

// write sends one frame, or reports realtime.ErrDisconnected while there is
// no live connection. Nothing is queued.
func (rc *roomConn) write(msg ws.Message) error {
	rc.mu.Lock()
	conn := rc.conn
	rc.mu.Unlock()
	if conn == nil {
		return realtime.ErrDisconnected
	}

	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("%w: %v", realtime.ErrDisconnected, err)
	}
	return nil
}

func (rc *roomConn) setStatus(s realtime.Status) {
	rc.mu.Lock()
	if rc.status == s {
		rc.mu.Unlock()
		return
	}
	rc.status = s
	fn := rc.onStatus
	rc.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}

func (rc *roomConn) addSub(fn func(domain.Room)) int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.nextSub++
	rc.subs[rc.nextSub] = fn
	return rc.nextSub
}

func (rc *roomConn) removeSub(id int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.subs, id)
}

func (rc *roomConn) subscribers() []func(domain.Room) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]func(domain.Room), 0, len(rc.subs))
	for _, fn := range rc.subs {
		out = append(out, fn)
	}
	return out
}

func (rc *roomConn) stop() {
	rc.cancel()
	rc.mu.Lock()
	if rc.conn != nil {
		rc.conn.Close()
	}
	rc.mu.Unlock()
	<-rc.done
}
