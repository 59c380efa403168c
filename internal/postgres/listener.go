package postgres

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cwrk-planet/pad/internal/domain"
)

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// Listener holds one dedicated connection on LISTEN room_changes and fans the
// re-fetched rows out to per-room subscribers.
type Listener struct {
	pool *pgxpool.Pool
	repo *RoomRepository
	log  *slog.Logger

	mu     sync.Mutex
	subs   map[string]map[int]func(domain.Room)
	nextID int
}

func NewListener(pool *pgxpool.Pool, repo *RoomRepository, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{
		pool: pool,
		repo: repo,
		log:  log.With("component", "pg_listener"),
		subs: make(map[string]map[int]func(domain.Room)),
	}
}

func (l *Listener) Subscribe(roomID string, fn func(domain.Room)) func() {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	set, ok := l.subs[roomID]
	if !ok {
		set = make(map[int]func(domain.Room))
		l.subs[roomID] = set
	}
	set[id] = fn
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.subs[roomID], id)
			if len(l.subs[roomID]) == 0 {
				delete(l.subs, roomID)
			}
		})
	}
}

// Run listens until ctx is done, reconnecting with capped exponential
// backoff.
func (l *Listener) Run(ctx context.Context) error {
	backoff := minBackoff
	for {
		connected, err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			backoff = minBackoff
		}
		l.log.Warn("listen connection lost", "err", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (l *Listener) listen(ctx context.Context) (bool, error) {
	pc, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	// The connection keeps LISTEN state; take it out of the pool for good.
	conn := pc.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		return false, err
	}
	l.log.Info("listening for room changes")

	// Notifications sent while disconnected are lost; catch up once.
	l.resync(ctx)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return true, err
		}
		l.dispatch(ctx, n.Payload)
	}
}

func (l *Listener) resync(ctx context.Context) {
	l.mu.Lock()
	ids := make([]string, 0, len(l.subs))
	for id := range l.subs {
		ids = append(ids, id)
	}
	l.mu.Unlock()

	for _, id := range ids {
		l.dispatch(ctx, id)
	}
}

func (l *Listener) dispatch(ctx context.Context, roomID string) {
	if len(l.subscribers(roomID)) == 0 {
		return
	}
	room, err := l.repo.Get(ctx, roomID)
	if err != nil {
		if !errors.Is(err, domain.ErrRoomNotFound) {
			l.log.Warn("refetch changed room", "room", roomID, "err", err)
		}
		return
	}
	for _, fn := range l.subscribers(roomID) {
		fn(room.Clone())
	}
}

func (l *Listener) subscribers(roomID string) []func(domain.Room) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]func(domain.Room), 0, len(l.subs[roomID]))
	for _, fn := range l.subs[roomID] {
		out = append(out, fn)
	}
	return out
}
