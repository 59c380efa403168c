package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cwrk-planet/pad/internal/domain"
	"github.com/cwrk-planet/pad/internal/metrics"
	"github.com/cwrk-planet/pad/internal/realtime"
	"github.com/cwrk-planet/pad/internal/redisbus"
	"github.com/cwrk-planet/pad/internal/store"
)

type Conn interface {
	Send(msg Message) error
	Close() error
	ClientID() string
	RoomID() string
	// Presence reports the last metadata the connection tracked.
	Presence() (realtime.PresenceMeta, bool)
}

// Publisher forwards topic traffic to other server instances.
type Publisher interface {
	Publish(ctx context.Context, env redisbus.Envelope) error
}

type remoteMembers struct {
	members []realtime.PresenceMeta
	seen    time.Time
}

// Hub tracks connections per room topic. While a topic has connections it
// also holds a subscription on the store change feed for that room.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[Conn]struct{}        // roomID -> set of connections
	feeds  map[string]func()                   // roomID -> change feed unsubscribe
	remote map[string]map[string]remoteMembers // roomID -> instance -> members

	changes store.ChangeFeed
	bus     Publisher
	log     *slog.Logger
	now     func() time.Time
}

// NewHub builds a hub. changes and bus may be nil.
func NewHub(changes store.ChangeFeed, bus Publisher, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		rooms:   make(map[string]map[Conn]struct{}),
		feeds:   make(map[string]func()),
		remote:  make(map[string]map[string]remoteMembers),
		changes: changes,
		bus:     bus,
		log:     log.With("component", "ws_hub"),
		now:     time.Now,
	}
}

func (h *Hub) Add(c Conn) {
	room := c.RoomID()

	h.mu.Lock()
	rs, ok := h.rooms[room]
	if !ok {
		rs = make(map[Conn]struct{})
		h.rooms[room] = rs
	}
	rs[c] = struct{}{}
	needFeed := h.changes != nil && h.feeds[room] == nil
	h.mu.Unlock()

	if needFeed {
		h.watch(room)
	}
	h.SyncPresence(room, false)
}

func (h *Hub) Remove(c Conn) {
	room := c.RoomID()

	h.mu.Lock()
	var unsubscribe func()
	if rs, ok := h.rooms[room]; ok {
		delete(rs, c)
		if len(rs) == 0 {
			delete(h.rooms, room)
			unsubscribe = h.feeds[room]
			delete(h.feeds, room)
		}
	}
	h.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	h.SyncPresence(room, true)
}

func (h *Hub) watch(room string) {
	unsubscribe := h.changes.SubscribeToChanges(room, func(r domain.Room) {
		metrics.ChangeNotifications.Inc()
		h.Broadcast(room, Message{Type: TypeRoomChanged, Payload: RoomChangedPayload{Room: r}}, nil)
	})

	h.mu.Lock()
	_, active := h.rooms[room]
	if active && h.feeds[room] == nil {
		h.feeds[room] = unsubscribe
		unsubscribe = nil
	}
	h.mu.Unlock()

	// Lost a race with Remove or another watch.
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Broadcast sends msg to every connection in the room except skip.
// Delivery is best-effort.
func (h *Hub) Broadcast(roomID string, msg Message, skip Conn) {
	for _, c := range h.conns(roomID) {
		if c == skip {
			continue
		}
		_ = c.Send(msg)
	}
}

// PublishEvent relays a client broadcast to the rest of the topic, locally
// and on other instances.
func (h *Hub) PublishEvent(ctx context.Context, roomID string, ev realtime.Event, from Conn) {
	h.Broadcast(roomID, Message{Type: TypeBroadcast, Payload: ev}, from)
	metrics.BroadcastsRelayed.WithLabelValues("local").Inc()

	if h.bus != nil {
		if err := h.bus.Publish(ctx, redisbus.Envelope{Room: roomID, Kind: redisbus.KindBroadcast, Event: &ev}); err != nil {
			h.log.Warn("publish broadcast", "room", roomID, "err", err)
		}
	}
}

// SyncPresence sends the full member list to every local connection of the
// room. With publish set the local members are also announced to other
// instances.
func (h *Hub) SyncPresence(roomID string, publish bool) {
	local := h.localMembers(roomID)
	members := append(append([]realtime.PresenceMeta(nil), local...), h.remoteMembers(roomID)...)

	msg := Message{Type: TypePresenceSync, Payload: PresenceSyncPayload{RoomID: roomID, Members: members}}
	conns := h.conns(roomID)
	for _, c := range conns {
		_ = c.Send(msg)
	}
	if len(conns) > 0 {
		metrics.PresenceSyncs.Inc()
	}

	if publish && h.bus != nil {
		h.publishPresence(roomID, local)
	}
}

// HandleRemote applies an envelope published by another instance.
func (h *Hub) HandleRemote(env redisbus.Envelope) {
	switch env.Kind {
	case redisbus.KindBroadcast:
		if env.Event == nil {
			return
		}
		h.Broadcast(env.Room, Message{Type: TypeBroadcast, Payload: *env.Event}, nil)
		metrics.BroadcastsRelayed.WithLabelValues("remote").Inc()
	case redisbus.KindPresence:
		h.mu.Lock()
		byInstance, ok := h.remote[env.Room]
		if !ok {
			byInstance = make(map[string]remoteMembers)
			h.remote[env.Room] = byInstance
		}
		if len(env.Members) == 0 {
			delete(byInstance, env.Instance)
			if len(byInstance) == 0 {
				delete(h.remote, env.Room)
			}
		} else {
			byInstance[env.Instance] = remoteMembers{members: env.Members, seen: h.now()}
		}
		h.mu.Unlock()
		h.SyncPresence(env.Room, false)
	}
}

// Run re-announces local presence every interval and forgets members of
// instances that stopped announcing.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, room := range h.activeRooms() {
				if h.bus != nil {
					h.publishPresence(room, h.localMembers(room))
				}
			}
			for _, room := range h.pruneRemote(h.now().Add(-3 * interval)) {
				h.SyncPresence(room, false)
			}
		}
	}
}

func (h *Hub) publishPresence(roomID string, local []realtime.PresenceMeta) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	env := redisbus.Envelope{Room: roomID, Kind: redisbus.KindPresence, Members: local}
	if err := h.bus.Publish(ctx, env); err != nil {
		h.log.Warn("publish presence", "room", roomID, "err", err)
	}
}

func (h *Hub) pruneRemote(cutoff time.Time) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var changed []string
	for room, byInstance := range h.remote {
		before := len(byInstance)
		for inst, rm := range byInstance {
			if rm.seen.Before(cutoff) {
				delete(byInstance, inst)
			}
		}
		if len(byInstance) != before {
			changed = append(changed, room)
		}
		if len(byInstance) == 0 {
			delete(h.remote, room)
		}
	}
	return changed
}

func (h *Hub) conns(roomID string) []Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Conn, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		out = append(out, c)
	}
	return out
}

func (h *Hub) activeRooms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.rooms))
	for room := range h.rooms {
		out = append(out, room)
	}
	return out
}

func (h *Hub) localMembers(roomID string) []realtime.PresenceMeta {
	out := []realtime.PresenceMeta{}
	for _, c := range h.conns(roomID) {
		if meta, ok := c.Presence(); ok {
			out = append(out, meta)
		}
	}
	return out
}

func (h *Hub) remoteMembers(roomID string) []realtime.PresenceMeta {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []realtime.PresenceMeta
	for _, rm := range h.remote[roomID] {
		out = append(out, rm.members...)
	}
	return out
}
