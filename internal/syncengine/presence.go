package syncengine

import (
	"context"
	"errors"

	"github.com/cwrk-planet/pad/internal/realtime"
)

// UpdatePresence announces this client's metadata on the room topic.
func (e *Engine) UpdatePresence(isTyping bool) {
	e.mu.Lock()
	topic := e.topic
	meta := realtime.PresenceMeta{
		ClientID:    e.identity.ID,
		ClientLabel: e.identity.Label,
		IsTyping:    isTyping,
		OnlineAt:    e.joinedAt,
	}
	e.mu.Unlock()
	if topic == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
	defer cancel()
	if err := topic.TrackPresence(ctx, meta); err != nil && !errors.Is(err, realtime.ErrTopicClosed) {
		e.log.Debug("track presence failed", "typing", isTyping, "err", err)
	}
}

// OnlineUsers returns the other clients on the topic, one entry per client id.
func (e *Engine) OnlineUsers() []realtime.PresenceMeta {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]realtime.PresenceMeta(nil), e.online...)
}

func (e *Engine) handlePresence(members []realtime.PresenceMeta) {
	online := aggregatePresence(members, e.identity.ID)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.online = online
	e.mu.Unlock()

	if e.onPresence != nil {
		e.emitMu.Lock()
		e.onPresence(append([]realtime.PresenceMeta(nil), online...))
		e.emitMu.Unlock()
	}
}

// aggregatePresence drops self and collapses multiple connections of the
// same client into one entry that is typing if any connection is. Order of
// first appearance is kept.
func aggregatePresence(members []realtime.PresenceMeta, selfID string) []realtime.PresenceMeta {
	out := make([]realtime.PresenceMeta, 0, len(members))
	index := make(map[string]int, len(members))
	for _, m := range members {
		if m.ClientID == "" || m.ClientID == selfID {
			continue
		}
		if i, ok := index[m.ClientID]; ok {
			out[i].IsTyping = out[i].IsTyping || m.IsTyping
			if m.Cursor != nil {
				out[i].Cursor = m.Cursor
			}
			if m.OnlineAt > 0 && (out[i].OnlineAt == 0 || m.OnlineAt < out[i].OnlineAt) {
				out[i].OnlineAt = m.OnlineAt
			}
			continue
		}
		index[m.ClientID] = len(out)
		out = append(out, m)
	}
	return out
}
