package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Identity is the per-profile (id, label) pair used for attribution only.
type Identity struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`
}

var AIIdentity = Identity{ID: "ai", Label: "AI"}

const WelcomeText = "Hi! This pad is shared with everyone who opens the same link. Write notes on the left, ask me anything here."

// Room is the persisted snapshot of one pad: shared note plus chat transcript.
type Room struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Messages   []Message `json:"messages"`
	UpdatedAt  int64     `json:"updatedAt"`
	LastEditor *Identity `json:"lastEditor,omitempty"`
}

// NewDefaultRoom builds the snapshot shown for a room nobody has written yet.
func NewDefaultRoom(id string, now time.Time) Room {
	welcome := Message{
		ID:          NewMessageID(now),
		Role:        RoleSystem,
		Text:        WelcomeText,
		Timestamp:   now.UnixMilli(),
		SenderID:    AIIdentity.ID,
		SenderLabel: AIIdentity.Label,
	}
	return Room{
		ID:        id,
		Messages:  []Message{welcome},
		UpdatedAt: now.UnixMilli(),
	}
}

// Clone returns a deep copy; the engine hands out clones so callers never
// share the message slice with the working copy.
func (r Room) Clone() Room {
	out := r
	if r.Messages != nil {
		out.Messages = make([]Message, len(r.Messages))
		copy(out.Messages, r.Messages)
	}
	if r.LastEditor != nil {
		ed := *r.LastEditor
		out.LastEditor = &ed
	}
	return out
}

func (r Room) Validate() error {
	if r.ID == "" {
		return ErrEmptyRoomID
	}
	seen := make(map[string]struct{}, len(r.Messages))
	for _, m := range r.Messages {
		if m.ID == "" {
			return ErrEmptyMessageID
		}
		if !m.Role.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidRole, m.Role)
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateMessageID, m.ID)
		}
		seen[m.ID] = struct{}{}
	}
	return nil
}

// MessageIndex returns the position of the message with the given id or -1.
func (r Room) MessageIndex(id string) int {
	for i := range r.Messages {
		if r.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// DecodeRoom parses a persisted snapshot. Any parse or validation failure is
// reported as ErrMalformedSnapshot.
func DecodeRoom(data []byte) (Room, error) {
	var r Room
	if err := json.Unmarshal(data, &r); err != nil {
		return Room{}, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	if err := r.Validate(); err != nil {
		return Room{}, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	if r.Messages == nil {
		r.Messages = []Message{}
	}
	return r, nil
}

// RoomSummary is the listing view of a room.
type RoomSummary struct {
	ID           string    `json:"id"`
	UpdatedAt    int64     `json:"updatedAt"`
	LastEditor   *Identity `json:"lastEditor,omitempty"`
	MessageCount int       `json:"messageCount"`
}

func (r Room) Summary() RoomSummary {
	s := RoomSummary{ID: r.ID, UpdatedAt: r.UpdatedAt, MessageCount: len(r.Messages)}
	if r.LastEditor != nil {
		ed := *r.LastEditor
		s.LastEditor = &ed
	}
	return s
}
