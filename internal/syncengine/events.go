package syncengine

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/cwrk-planet/pad/internal/domain"
	"github.com/cwrk-planet/pad/internal/realtime"
)

// Origin tags where a remote snapshot came from.
type Origin int

const (
	OriginBroadcast Origin = iota
	OriginStoreChange
)

func (o Origin) String() string {
	if o == OriginStoreChange {
		return "store_change"
	}
	return "broadcast"
}

type EventKind int

const (
	ContentChanged EventKind = iota + 1
	MessagesChanged
	PresenceChanged
	ConnectionChanged
)

func (k EventKind) String() string {
	switch k {
	case ContentChanged:
		return "content_changed"
	case MessagesChanged:
		return "messages_changed"
	case PresenceChanged:
		return "presence_changed"
	case ConnectionChanged:
		return "connection_changed"
	default:
		return "unknown"
	}
}

// Event is a remote input to the engine. Only the fields matching Kind are
// read.
type Event struct {
	Kind     EventKind
	Content  *contentPayload
	Messages *messagesPayload
	Presence []realtime.PresenceMeta
	Status   realtime.Status
}

type contentPayload struct {
	Content    string           `json:"content"`
	UpdatedAt  int64            `json:"updatedAt"`
	LastEditor *domain.Identity `json:"lastEditor,omitempty"`
}

type messagesPayload struct {
	Messages  []domain.Message `json:"messages"`
	UpdatedAt int64            `json:"updatedAt"`
}

// Dispatch applies one remote event. Every transport callback ends up here.
func (e *Engine) Dispatch(ev Event) {
	switch ev.Kind {
	case ContentChanged:
		if ev.Content == nil {
			return
		}
		e.mu.Lock()
		incoming := e.room.Clone()
		e.mu.Unlock()
		incoming.Content = ev.Content.Content
		incoming.UpdatedAt = ev.Content.UpdatedAt
		incoming.LastEditor = ev.Content.LastEditor
		e.ApplyRemoteUpdate(incoming, OriginBroadcast)
	case MessagesChanged:
		if ev.Messages == nil {
			return
		}
		e.applyRemoteMessages(ev.Messages.Messages)
	case PresenceChanged:
		e.handlePresence(ev.Presence)
	case ConnectionChanged:
		e.handleStatus(ev.Status)
	}
}

func (e *Engine) handleBroadcast(ev realtime.Event) {
	switch ev.Type {
	case realtime.EventContentChanged:
		var p contentPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			e.log.Debug("bad content payload", "sender", ev.SenderID, "err", err)
			return
		}
		e.Dispatch(Event{Kind: ContentChanged, Content: &p})
	case realtime.EventMessagesChanged:
		var p messagesPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			e.log.Debug("bad messages payload", "sender", ev.SenderID, "err", err)
			return
		}
		e.Dispatch(Event{Kind: MessagesChanged, Messages: &p})
	default:
		e.log.Debug("unknown broadcast", "type", ev.Type)
	}
}

func (e *Engine) handleStatus(s realtime.Status) {
	e.mu.Lock()
	prev := e.status
	e.status = s
	e.mu.Unlock()

	if prev == s {
		return
	}
	e.log.Info("connection status changed", "from", prev, "to", s)

	// Presence is ephemeral on the server side; announce again after a
	// reconnect.
	if s == realtime.StatusConnected && prev == realtime.StatusDisconnected {
		e.UpdatePresence(e.IsTyping())
	}
	if e.onStatus != nil {
		e.onStatus(s)
	}
}

func (e *Engine) broadcast(t realtime.EventType, payload any) {
	e.mu.Lock()
	topic := e.topic
	e.mu.Unlock()
	if topic == nil {
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		e.log.Warn("encode broadcast", "type", t, "err", err)
		return
	}
	ev := realtime.Event{
		Type:        t,
		SenderID:    e.identity.ID,
		SenderLabel: e.identity.Label,
		Timestamp:   e.now().UnixMilli(),
		Payload:     raw,
	}

	ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
	defer cancel()
	if err := topic.Broadcast(ctx, ev); err != nil {
		if errors.Is(err, realtime.ErrDisconnected) {
			e.log.Debug("broadcast dropped while disconnected", "type", t)
			return
		}
		e.log.Debug("broadcast failed", "type", t, "err", err)
	}
}

func (e *Engine) broadcastMessages() {
	e.mu.Lock()
	p := messagesPayload{
		Messages:  e.room.Clone().Messages,
		UpdatedAt: e.room.UpdatedAt,
	}
	e.mu.Unlock()
	e.broadcast(realtime.EventMessagesChanged, p)
}
