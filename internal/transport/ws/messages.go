package ws

import (
	"encoding/json"

	"github.com/cwrk-planet/pad/internal/domain"
	"github.com/cwrk-planet/pad/internal/realtime"
)

// Frame types exchanged on /ws/rooms/{id}.
const (
	// client -> server
	TypeBroadcast = "broadcast" // payload: realtime.Event, relayed to the other connections
	TypePresence  = "presence"  // payload: realtime.PresenceMeta for this connection

	// server -> client
	TypePresenceSync = "presence_sync" // full member list of the topic
	TypeRoomChanged  = "room_changed"  // stored snapshot after a write
)

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type PresenceSyncPayload struct {
	RoomID  string                  `json:"room_id"`
	Members []realtime.PresenceMeta `json:"members"`
}

type RoomChangedPayload struct {
	Room domain.Room `json:"room"`
}

// Decode re-encodes a generically decoded payload into dst.
func Decode(payload interface{}, dst interface{}) error {
	if raw, ok := payload.(json.RawMessage); ok {
		return json.Unmarshal(raw, dst)
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}
