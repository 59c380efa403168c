// Package realtime defines the pub/sub contract the sync engine talks to:
// ephemeral broadcast on a room topic, presence, and connection status.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrDisconnected = errors.New("realtime: disconnected")
	ErrTopicClosed  = errors.New("realtime: topic closed")
)

type EventType string

const (
	EventContentChanged  EventType = "content_changed"
	EventMessagesChanged EventType = "messages_changed"
)

// Event is a best-effort broadcast. Delivery is unordered and may be lost.
type Event struct {
	Type        EventType       `json:"type"`
	SenderID    string          `json:"senderId"`
	SenderLabel string          `json:"senderLabel"`
	Timestamp   int64           `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// PresenceMeta is the ephemeral per-connection metadata a client announces.
type PresenceMeta struct {
	ClientID    string `json:"clientId"`
	ClientLabel string `json:"clientLabel"`
	IsTyping    bool   `json:"isTyping"`
	Cursor      *int   `json:"cursor,omitempty"`
	OnlineAt    int64  `json:"onlineAt,omitempty"`
}

type Transport interface {
	OpenTopic(ctx context.Context, name string) (Topic, error)
}

// Topic is a handle on one room's channel. Callbacks registered with the On*
// methods replace any previously registered callback of the same kind.
type Topic interface {
	Broadcast(ctx context.Context, ev Event) error
	TrackPresence(ctx context.Context, meta PresenceMeta) error
	OnBroadcast(fn func(Event))
	OnPresenceSync(fn func([]PresenceMeta))
	OnConnectionStatusChange(fn func(Status))
	Close() error
}
