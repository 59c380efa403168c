package domain

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleSystem Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModel, RoleSystem:
		return true
	}
	return false
}

// Message is one chat turn. While IsStreaming is set the Text is rewritten in
// place with the cumulative completion.
type Message struct {
	ID          string `json:"id"`
	Role        Role   `json:"role"`
	Text        string `json:"text"`
	Timestamp   int64  `json:"timestamp"`
	IsStreaming bool   `json:"isStreaming,omitempty"`
	SenderID    string `json:"senderId,omitempty"`
	SenderLabel string `json:"senderLabel,omitempty"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewMessageID returns a ULID so ids sort by creation time.
func NewMessageID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

func NewUserMessage(id Identity, text string, now time.Time) Message {
	return Message{
		ID:          NewMessageID(now),
		Role:        RoleUser,
		Text:        text,
		Timestamp:   now.UnixMilli(),
		SenderID:    id.ID,
		SenderLabel: id.Label,
	}
}

// NewStreamingReply creates the empty assistant placeholder that a completion
// stream is written into.
func NewStreamingReply(now time.Time) Message {
	return Message{
		ID:          NewMessageID(now),
		Role:        RoleModel,
		Timestamp:   now.UnixMilli(),
		IsStreaming: true,
		SenderID:    AIIdentity.ID,
		SenderLabel: AIIdentity.Label,
	}
}

// RecentHistory returns up to n most recent finalized messages, oldest first.
func RecentHistory(msgs []Message, n int) []Message {
	out := make([]Message, 0, n)
	for i := len(msgs) - 1; i >= 0 && len(out) < n; i-- {
		if msgs[i].IsStreaming {
			continue
		}
		out = append(out, msgs[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
