package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/pad/internal/domain"
)

func room(id, content string, updatedAt int64, msgs ...domain.Message) domain.Room {
	return domain.Room{ID: id, Content: content, UpdatedAt: updatedAt, Messages: msgs}
}

func msg(id, text string, streaming bool) domain.Message {
	return domain.Message{ID: id, Role: domain.RoleModel, Text: text, IsStreaming: streaming}
}

func TestNewDefaultRoom(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	r := domain.NewDefaultRoom("abc", now)

	require.NoError(t, r.Validate())
	assert.Equal(t, "abc", r.ID)
	assert.Empty(t, r.Content)
	assert.Equal(t, now.UnixMilli(), r.UpdatedAt)
	require.Len(t, r.Messages, 1)
	assert.Equal(t, domain.RoleSystem, r.Messages[0].Role)
	assert.Equal(t, "ai", r.Messages[0].SenderID)
	assert.Equal(t, "AI", r.Messages[0].SenderLabel)
}

func TestRoomValidate(t *testing.T) {
	tests := []struct {
		name string
		room domain.Room
		want error
	}{
		{"ok", room("r", "x", 1, msg("a", "", false)), nil},
		{"empty id", room("", "x", 1), domain.ErrEmptyRoomID},
		{"empty message id", room("r", "", 1, msg("", "", false)), domain.ErrEmptyMessageID},
		{"bad role", room("r", "", 1, domain.Message{ID: "a", Role: "bot"}), domain.ErrInvalidRole},
		{"duplicate", room("r", "", 1, msg("a", "", false), msg("a", "", false)), domain.ErrDuplicateMessageID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.room.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeRoom(t *testing.T) {
	r, err := domain.DecodeRoom([]byte(`{"id":"r1","content":"hello","messages":[{"id":"m1","role":"user","text":"hi","timestamp":5,"senderId":"c1","senderLabel":"Ann"}],"updatedAt":42,"lastEditor":{"id":"c1","label":"Ann"}}`))
	require.NoError(t, err)
	assert.Equal(t, "hello", r.Content)
	assert.Equal(t, int64(42), r.UpdatedAt)
	require.NotNil(t, r.LastEditor)
	assert.Equal(t, "Ann", r.LastEditor.Label)
	require.Len(t, r.Messages, 1)
	assert.False(t, r.Messages[0].IsStreaming)

	r, err = domain.DecodeRoom([]byte(`{"id":"r2","content":"","updatedAt":1}`))
	require.NoError(t, err)
	assert.NotNil(t, r.Messages)

	for _, raw := range []string{`{`, `[]`, `{"id":""}`, `{"id":"x","messages":[{"id":"m","role":"wizard"}]}`} {
		_, err := domain.DecodeRoom([]byte(raw))
		assert.True(t, errors.Is(err, domain.ErrMalformedSnapshot), raw)
	}
}

func TestCloneDoesNotShareMessages(t *testing.T) {
	orig := room("r", "x", 1, msg("a", "one", false))
	orig.LastEditor = &domain.Identity{ID: "c", Label: "C"}

	cp := orig.Clone()
	cp.Messages[0].Text = "changed"
	cp.LastEditor.Label = "D"

	assert.Equal(t, "one", orig.Messages[0].Text)
	assert.Equal(t, "C", orig.LastEditor.Label)
}

func TestFingerprint(t *testing.T) {
	base := room("r", "hello", 1, msg("a", "hi", false))

	same := base.Clone()
	same.UpdatedAt = 99
	same.LastEditor = &domain.Identity{ID: "x"}
	assert.Equal(t, domain.Fingerprint(base), domain.Fingerprint(same))

	content := base.Clone()
	content.Content = "hello!"
	assert.NotEqual(t, domain.Fingerprint(base), domain.Fingerprint(content))

	text := base.Clone()
	text.Messages[0].Text = "hi there"
	assert.NotEqual(t, domain.Fingerprint(base), domain.Fingerprint(text))

	streaming := base.Clone()
	streaming.Messages[0].IsStreaming = true
	assert.NotEqual(t, domain.Fingerprint(base), domain.Fingerprint(streaming))

	// content/message boundary must not be ambiguous
	a := room("r", "ab", 1)
	b := room("r", "a", 1, msg("b", "", false))
	assert.NotEqual(t, domain.Fingerprint(a), domain.Fingerprint(b))
}

func TestMergeLastWriterWins(t *testing.T) {
	a := room("r", "foo", 100)
	b := room("r", "bar", 105)

	assert.Equal(t, "bar", domain.Merge(a, b).Content)
	assert.Equal(t, "bar", domain.Merge(b, a).Content)
	assert.Equal(t, domain.Merge(a, b), domain.Merge(b, a))
}

func TestMergeTieFavoursIncoming(t *testing.T) {
	local := room("r", "local", 100)
	incoming := room("r", "remote", 100)

	assert.Equal(t, "remote", domain.Merge(local, incoming).Content)
	assert.True(t, domain.Newer(local, incoming))
}

func TestMergeMessages(t *testing.T) {
	local := []domain.Message{msg("a", "old", false), msg("c", "local only", false)}
	incoming := []domain.Message{msg("a", "new", false), msg("b", "remote", false)}

	got := domain.MergeMessages(local, incoming)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, "new", got[0].Text)
}

func TestMergeMessagesKeepsFinalizedOverStreaming(t *testing.T) {
	local := []domain.Message{msg("s", "Hello!", false)}
	incoming := []domain.Message{msg("s", "He", true)}

	got := domain.MergeMessages(local, incoming)
	require.Len(t, got, 1)
	assert.Equal(t, "Hello!", got[0].Text)
	assert.False(t, got[0].IsStreaming)
}

func TestKeepFinalized(t *testing.T) {
	local := []domain.Message{msg("a", "x", false), msg("s", "Hello!", false)}
	incoming := []domain.Message{msg("a", "y", false), msg("s", "He", true), msg("t", "..", true)}

	got := domain.KeepFinalized(incoming, local)
	require.Len(t, got, 3)
	assert.Equal(t, "y", got[0].Text)
	assert.Equal(t, "Hello!", got[1].Text)
	assert.False(t, got[1].IsStreaming)
	assert.True(t, got[2].IsStreaming)
}

func TestMergeMessagesDropsDuplicates(t *testing.T) {
	incoming := []domain.Message{msg("a", "1", false), msg("a", "2", false)}
	got := domain.MergeMessages(nil, incoming)
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].Text)
}

func TestSpliceStreaming(t *testing.T) {
	owned := msg("s", "Hel", true)

	t.Run("absent is appended", func(t *testing.T) {
		got := domain.SpliceStreaming([]domain.Message{msg("a", "", false)}, owned)
		require.Len(t, got, 2)
		assert.Equal(t, owned, got[1])
	})

	t.Run("remote streaming copy is replaced", func(t *testing.T) {
		got := domain.SpliceStreaming([]domain.Message{msg("s", "H", true)}, owned)
		require.Len(t, got, 1)
		assert.Equal(t, "Hel", got[0].Text)
	})

	t.Run("remote finalized copy wins", func(t *testing.T) {
		got := domain.SpliceStreaming([]domain.Message{msg("s", "Hello!", false)}, owned)
		require.Len(t, got, 1)
		assert.Equal(t, "Hello!", got[0].Text)
		assert.False(t, got[0].IsStreaming)
	})
}

func TestRecentHistory(t *testing.T) {
	var msgs []domain.Message
	for i := 0; i < 15; i++ {
		msgs = append(msgs, msg(string(rune('a'+i)), "", false))
	}
	msgs = append(msgs, msg("z", "", true))

	got := domain.RecentHistory(msgs, 12)
	require.Len(t, got, 12)
	assert.Equal(t, "d", got[0].ID)
	assert.Equal(t, "o", got[11].ID)

	assert.Len(t, domain.RecentHistory(msgs[:3], 12), 3)
}

func TestNewMessageIDUniqueAndOrdered(t *testing.T) {
	now := time.Now()
	prev := ""
	for i := 0; i < 100; i++ {
		id := domain.NewMessageID(now)
		assert.Greater(t, id, prev)
		prev = id
	}
}
