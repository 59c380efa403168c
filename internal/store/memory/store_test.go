package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/pad/internal/domain"
	"github.com/cwrk-planet/pad/internal/store"
	"github.com/cwrk-planet/pad/internal/store/memory"
)

var _ store.RoomStore = (*memory.Store)(nil)

func TestInsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	_, err := s.Get(ctx, "r")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	require.NoError(t, s.InsertIfAbsent(ctx, domain.Room{ID: "r", Content: "first"}))
	assert.ErrorIs(t, s.InsertIfAbsent(ctx, domain.Room{ID: "r", Content: "second"}), domain.ErrRoomExists)

	got, err := s.Get(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Content)
	assert.Equal(t, 1, s.Writes())
}

func TestUpsertStampsWriteTime(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(5_000)
	s := memory.New().WithClock(func() time.Time { return now })

	stored, err := s.Upsert(ctx, domain.Room{ID: "r", UpdatedAt: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(5_000), stored.UpdatedAt)

	stored, err = s.Upsert(ctx, domain.Room{ID: "r", UpdatedAt: 9_000})
	require.NoError(t, err)
	assert.Equal(t, int64(9_000), stored.UpdatedAt)
}

func TestUpsertRejectsInvalidRoom(t *testing.T) {
	_, err := memory.New().Upsert(context.Background(), domain.Room{})
	assert.ErrorIs(t, err, domain.ErrEmptyRoomID)
}

func TestFailNext(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	boom := errors.New("boom")

	s.FailNext(boom)
	_, err := s.Upsert(ctx, domain.Room{ID: "r"})
	assert.ErrorIs(t, err, boom)

	_, err = s.Upsert(ctx, domain.Room{ID: "r"})
	assert.NoError(t, err)
	assert.Equal(t, 1, s.Writes())
}

func TestSubscribeToChanges(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	var got []string
	unsubscribe := s.SubscribeToChanges("r", func(r domain.Room) { got = append(got, r.Content) })
	s.SubscribeToChanges("other", func(domain.Room) { t.Fatal("wrong room notified") })

	_, err := s.Upsert(ctx, domain.Room{ID: "r", Content: "a"})
	require.NoError(t, err)
	unsubscribe()
	unsubscribe()
	_, err = s.Upsert(ctx, domain.Room{ID: "r", Content: "b"})
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, got)
}

func TestListPages(t *testing.T) {
	ctx := context.Background()
	var clock int64
	s := memory.New().WithClock(func() time.Time { clock += 10; return time.UnixMilli(clock) })
	var _ store.Lister = s

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, s.InsertIfAbsent(ctx, domain.Room{ID: id}))
	}

	page, next, err := s.List(ctx, 2, "")
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, []string{"e", "d"}, []string{page[0].ID, page[1].ID})
	require.NotEmpty(t, next)

	page, next, err = s.List(ctx, 2, next)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, []string{page[0].ID, page[1].ID})

	page, next, err = s.List(ctx, 2, next)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].ID)
	assert.Empty(t, next)

	_, _, err = s.List(ctx, 2, "%%%")
	assert.ErrorIs(t, err, store.ErrInvalidCursor)

	require.NoError(t, s.Delete(ctx, "a"))
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}
