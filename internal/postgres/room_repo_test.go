package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/pad/internal/domain"
	"github.com/cwrk-planet/pad/internal/store"
)

var _ store.RoomStore = (*RoomRepository)(nil)
var _ store.Lister = (*RoomRepository)(nil)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("PAD_TEST_DSN")
	if dsn == "" {
		t.Skip("PAD_TEST_DSN not set")
	}
	ctx := context.Background()
	pool, err := NewPool(ctx, Config{DSN: dsn, ApplicationName: "pad-test"})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, EnsureSchema(ctx, pool))
	return pool
}

func TestRoomRepositoryRoundTrip(t *testing.T) {
	pool := testPool(t)
	repo := NewRoomRepository(pool)
	ctx := context.Background()
	id := "test-" + uuid.NewString()
	t.Cleanup(func() { _ = repo.Delete(context.Background(), id) })

	_, err := repo.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	room := domain.NewDefaultRoom(id, time.Now())
	require.NoError(t, repo.InsertIfAbsent(ctx, room))
	assert.ErrorIs(t, repo.InsertIfAbsent(ctx, room), domain.ErrRoomExists)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, room.Messages, got.Messages)
	assert.GreaterOrEqual(t, got.UpdatedAt, room.UpdatedAt)

	got.Content = "edited"
	got.LastEditor = &domain.Identity{ID: "u", Label: "guest-0001"}
	got.UpdatedAt = time.Now().Add(time.Hour).UnixMilli()
	stored, err := repo.Upsert(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, "edited", stored.Content)
	assert.Equal(t, got.UpdatedAt, stored.UpdatedAt)
	require.NotNil(t, stored.LastEditor)
	assert.Equal(t, "guest-0001", stored.LastEditor.Label)
}

func TestUpsertStampsWriteTime(t *testing.T) {
	pool := testPool(t)
	repo := NewRoomRepository(pool)
	ctx := context.Background()
	id := "test-" + uuid.NewString()
	t.Cleanup(func() { _ = repo.Delete(context.Background(), id) })

	before := time.Now().Add(-time.Minute).UnixMilli()
	stored, err := repo.Upsert(ctx, domain.Room{ID: id, Content: "x", UpdatedAt: 1})
	require.NoError(t, err)
	assert.Greater(t, stored.UpdatedAt, before)
	assert.Empty(t, stored.Messages)
}

func TestListenerDeliversChanges(t *testing.T) {
	pool := testPool(t)
	repo := NewRoomRepository(pool)
	l := NewListener(pool, repo, nil)
	repo.WithListener(l)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go l.Run(ctx)

	id := "test-" + uuid.NewString()
	t.Cleanup(func() { _ = repo.Delete(context.Background(), id) })

	got := make(chan domain.Room, 4)
	unsubscribe := repo.SubscribeToChanges(id, func(r domain.Room) { got <- r })
	defer unsubscribe()

	require.Eventually(t, func() bool {
		_, err := repo.Upsert(context.Background(), domain.Room{ID: id, Content: "ping"})
		if err != nil {
			return false
		}
		select {
		case r := <-got:
			return r.Content == "ping"
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)
}
