package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/cwrk-planet/pad/internal/metrics"
	"github.com/cwrk-planet/pad/internal/realtime"
)

type ServerConfig struct {
	PingEvery time.Duration
	// RatePerSecond and Burst bound inbound frames per connection.
	RatePerSecond float64
	Burst         int
	ReadLimit     int64
}

func (c *ServerConfig) withDefaults() {
	if c.PingEvery <= 0 {
		c.PingEvery = 15 * time.Second
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 30
	}
	if c.Burst <= 0 {
		c.Burst = 60
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
}

type Server struct {
	upgrader websocket.Upgrader
	hub      *Hub
	cfg      ServerConfig
	log      *slog.Logger
}

func NewServer(hub *Hub, cfg ServerConfig, log *slog.Logger) *Server {
	cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		hub: hub,
		cfg: cfg,
		log: log.With("component", "ws_server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// WS endpoint: GET /ws/rooms/{id}?client_id=...&label=...
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientID := strings.TrimSpace(q.Get("client_id"))
	label := strings.TrimSpace(q.Get("label"))
	if clientID == "" {
		http.Error(w, "missing client_id", http.StatusBadRequest)
		return
	}
	roomID := chi.URLParam(r, "id")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		s.log.Warn("ws upgrade failed", "err", err)
		return
	}

	c := newWsConn(conn, roomID, clientID, label, rate.NewLimiter(rate.Limit(s.cfg.RatePerSecond), s.cfg.Burst))
	metrics.WSConnections.Inc()
	s.hub.Add(c)
	s.log.Debug("ws joined", "room", roomID, "client", clientID)

	ctx, cancel := context.WithCancel(r.Context())
	go s.writeLoop(ctx, c)
	s.readLoop(ctx, c)
	cancel()

	s.hub.Remove(c)
	metrics.WSConnections.Dec()
	s.log.Debug("ws left", "room", roomID, "client", clientID)

	if err := c.Close(); err != nil {
		s.log.Debug("ws close failed", "room", roomID, "client", clientID, "err", err)
	}
}

func (s *Server) readLoop(ctx context.Context, c *wsConn) {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(s.cfg.ReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(2 * s.cfg.PingEvery))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(2 * s.cfg.PingEvery))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			metrics.BroadcastsRejected.WithLabelValues("malformed").Inc()
			continue
		}
		if !c.limiter.Allow() {
			metrics.BroadcastsRejected.WithLabelValues("rate_limited").Inc()
			continue
		}

		switch msg.Type {
		case TypeBroadcast:
			var ev realtime.Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil || ev.Type == "" {
				metrics.BroadcastsRejected.WithLabelValues("malformed").Inc()
				continue
			}
			ev.SenderID = c.clientID
			if ev.SenderLabel == "" {
				ev.SenderLabel = c.label
			}
			if ev.Timestamp == 0 {
				ev.Timestamp = time.Now().UnixMilli()
			}
			s.hub.PublishEvent(ctx, c.roomID, ev, c)

		case TypePresence:
			var meta realtime.PresenceMeta
			if err := json.Unmarshal(msg.Payload, &meta); err != nil {
				metrics.BroadcastsRejected.WithLabelValues("malformed").Inc()
				continue
			}
			c.track(meta)
			s.hub.SyncPresence(c.roomID, true)

		default:
			// ignore
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(s.cfg.PingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		}
	}
}

type wsConn struct {
	conn     *websocket.Conn
	roomID   string
	clientID string
	label    string
	joinedAt int64
	limiter  *rate.Limiter
	sendMu   chan struct{}
	closed   chan struct{}

	mu       sync.Mutex
	presence *realtime.PresenceMeta
}

func newWsConn(c *websocket.Conn, roomID, clientID, label string, limiter *rate.Limiter) *wsConn {
	return &wsConn{
		conn:     c,
		roomID:   roomID,
		clientID: clientID,
		label:    label,
		joinedAt: time.Now().UnixMilli(),
		limiter:  limiter,
		sendMu:   make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
}

func (c *wsConn) Send(msg Message) error {
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	return c.conn.WriteJSON(msg)
}

func (c *wsConn) Close() error {
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()

	select {
	case <-c.closed:
		return nil
	default:
		close(c.closed)
	}

	return c.conn.Close()
}

// track records the connection's presence. The client id always comes from
// the handshake so one connection cannot speak for another client.
func (c *wsConn) track(meta realtime.PresenceMeta) {
	meta.ClientID = c.clientID
	if meta.ClientLabel == "" {
		meta.ClientLabel = c.label
	}
	if meta.OnlineAt == 0 {
		meta.OnlineAt = c.joinedAt
	}

	c.mu.Lock()
	c.presence = &meta
	c.mu.Unlock()
}

func (c *wsConn) Presence() (realtime.PresenceMeta, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.presence == nil {
		return realtime.PresenceMeta{}, false
	}
	return *c.presence, true
}

func (c *wsConn) ClientID() string { return c.clientID }
func (c *wsConn) RoomID() string   { return c.roomID }
