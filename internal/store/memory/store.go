// Package memory is an in-process RoomStore used by tests and by the server
// when no database is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cwrk-planet/pad/internal/domain"
	"github.com/cwrk-planet/pad/internal/store"
)

type subscriber struct {
	id int
	fn func(domain.Room)
}

type Store struct {
	mu     sync.Mutex
	rows   map[string]domain.Room
	subs   map[string][]subscriber
	nextID int
	writes int
	fail   error
	now    func() time.Time
}

func New() *Store {
	return &Store{
		rows: make(map[string]domain.Room),
		subs: make(map[string][]subscriber),
		now:  time.Now,
	}
}

// WithClock replaces the write-time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// FailNext makes the next InsertIfAbsent or Upsert return err.
func (s *Store) FailNext(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

// Writes counts successful InsertIfAbsent and Upsert calls.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *Store) Get(_ context.Context, id string) (domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rows[id]
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return r.Clone(), nil
}

func (s *Store) InsertIfAbsent(_ context.Context, room domain.Room) error {
	if err := room.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.takeFailure(); err != nil {
		s.mu.Unlock()
		return err
	}
	if _, ok := s.rows[room.ID]; ok {
		s.mu.Unlock()
		return domain.ErrRoomExists
	}
	stored := s.stamp(room)
	s.rows[room.ID] = stored
	s.writes++
	subs := s.subscribers(room.ID)
	s.mu.Unlock()

	notify(subs, stored)
	return nil
}

func (s *Store) Upsert(_ context.Context, room domain.Room) (domain.Room, error) {
	if err := room.Validate(); err != nil {
		return domain.Room{}, err
	}

	s.mu.Lock()
	if err := s.takeFailure(); err != nil {
		s.mu.Unlock()
		return domain.Room{}, err
	}
	stored := s.stamp(room)
	s.rows[room.ID] = stored
	s.writes++
	subs := s.subscribers(room.ID)
	s.mu.Unlock()

	notify(subs, stored)
	return stored.Clone(), nil
}

func (s *Store) SubscribeToChanges(roomID string, fn func(domain.Room)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[roomID] = append(s.subs[roomID], subscriber{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			list := s.subs[roomID]
			for i := range list {
				if list[i].id == id {
					s.subs[roomID] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(s.subs[roomID]) == 0 {
				delete(s.subs, roomID)
			}
		})
	}
}

// stamp sets UpdatedAt to the write time, never moving it backwards relative
// to the incoming snapshot.
func (s *Store) stamp(room domain.Room) domain.Room {
	out := room.Clone()
	if out.Messages == nil {
		out.Messages = []domain.Message{}
	}
	if now := s.now().UnixMilli(); now > out.UpdatedAt {
		out.UpdatedAt = now
	}
	return out
}

func (s *Store) takeFailure() error {
	err := s.fail
	s.fail = nil
	return err
}

func (s *Store) subscribers(roomID string) []func(domain.Room) {
	list := s.subs[roomID]
	out := make([]func(domain.Room), 0, len(list))
	for _, sub := range list {
		out = append(out, sub.fn)
	}
	return out
}

func notify(subs []func(domain.Room), room domain.Room) {
	for _, fn := range subs {
		fn(room.Clone())
	}
}

func (s *Store) List(_ context.Context, limit int, cursor string) ([]domain.RoomSummary, string, error) {
	cur, err := store.DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	all := make([]domain.RoomSummary, 0, len(s.rows))
	for _, r := range s.rows {
		if cur.After(r.UpdatedAt, r.ID) {
			all = append(all, r.Summary())
		}
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].UpdatedAt != all[j].UpdatedAt {
			return all[i].UpdatedAt > all[j].UpdatedAt
		}
		return all[i].ID > all[j].ID
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, store.NextCursor(all, limit), nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}
