// Package memory is an in-process realtime transport, used by tests and by the
// client's local mode. Delivery is synchronous and happens outside the hub
// lock, which keeps engine tests deterministic.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/cwrk-planet/pad/internal/realtime"
)

type Hub struct {
	mu        sync.RWMutex
	topics    map[string]map[*Topic]struct{}
	connected bool
}

func NewHub() *Hub {
	return &Hub{
		topics:    make(map[string]map[*Topic]struct{}),
		connected: true,
	}
}

func (h *Hub) OpenTopic(_ context.Context, name string) (realtime.Topic, error) {
	t := &Topic{hub: h, name: name}

	h.mu.Lock()
	set, ok := h.topics[name]
	if !ok {
		set = make(map[*Topic]struct{})
		h.topics[name] = set
	}
	set[t] = struct{}{}
	h.mu.Unlock()

	return t, nil
}

// SetConnected simulates a network outage for every open topic.
func (h *Hub) SetConnected(up bool) {
	h.mu.Lock()
	h.connected = up
	var all []*Topic
	for _, set := range h.topics {
		for t := range set {
			all = append(all, t)
		}
	}
	h.mu.Unlock()

	status := realtime.StatusDisconnected
	if up {
		status = realtime.StatusConnected
	}
	for _, t := range all {
		if fn := t.statusFn(); fn != nil {
			fn(status)
		}
	}
}

func (h *Hub) peers(name string) []*Topic {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Topic, 0, len(h.topics[name]))
	for t := range h.topics[name] {
		out = append(out, t)
	}
	return out
}

func (h *Hub) isConnected() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.connected
}

func (h *Hub) syncPresence(name string) {
	peers := h.peers(name)
	members := make([]realtime.PresenceMeta, 0, len(peers))
	for _, p := range peers {
		if m, ok := p.presence(); ok {
			members = append(members, m)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ClientID < members[j].ClientID })

	for _, p := range peers {
		if fn := p.presenceFn(); fn != nil {
			fn(append([]realtime.PresenceMeta(nil), members...))
		}
	}
}

type Topic struct {
	hub  *Hub
	name string

	mu         sync.Mutex
	closed     bool
	meta       *realtime.PresenceMeta
	onEvent    func(realtime.Event)
	onPresence func([]realtime.PresenceMeta)
	onStatus   func(realtime.Status)
}

func (t *Topic) Broadcast(_ context.Context, ev realtime.Event) error {
	if t.isClosed() {
		return realtime.ErrTopicClosed
	}
	if !t.hub.isConnected() {
		return realtime.ErrDisconnected
	}
	for _, p := range t.hub.peers(t.name) {
		if p == t {
			continue
		}
		if fn := p.eventFn(); fn != nil {
			fn(ev)
		}
	}
	return nil
}

func (t *Topic) TrackPresence(_ context.Context, meta realtime.PresenceMeta) error {
	if t.isClosed() {
		return realtime.ErrTopicClosed
	}
	if !t.hub.isConnected() {
		return realtime.ErrDisconnected
	}
	t.mu.Lock()
	t.meta = &meta
	t.mu.Unlock()

	t.hub.syncPresence(t.name)
	return nil
}

func (t *Topic) OnBroadcast(fn func(realtime.Event)) {
	t.mu.Lock()
	t.onEvent = fn
	t.mu.Unlock()
}

func (t *Topic) OnPresenceSync(fn func([]realtime.PresenceMeta)) {
	t.mu.Lock()
	t.onPresence = fn
	t.mu.Unlock()
}

func (t *Topic) OnConnectionStatusChange(fn func(realtime.Status)) {
	t.mu.Lock()
	t.onStatus = fn
	t.mu.Unlock()
	if fn != nil && t.hub.isConnected() {
		fn(realtime.StatusConnected)
	}
}

func (t *Topic) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.hub.mu.Lock()
	if set, ok := t.hub.topics[t.name]; ok {
		delete(set, t)
		if len(set) == 0 {
			delete(t.hub.topics, t.name)
		}
	}
	t.hub.mu.Unlock()

	t.hub.syncPresence(t.name)
	return nil
}

func (t *Topic) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Topic) presence() (realtime.PresenceMeta, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.meta == nil {
		return realtime.PresenceMeta{}, false
	}
	return *t.meta, true
}

func (t *Topic) eventFn() func(realtime.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onEvent
}

func (t *Topic) presenceFn() func([]realtime.PresenceMeta) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onPresence
}

func (t *Topic) statusFn() func(realtime.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onStatus
}
