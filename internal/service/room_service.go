// Package service is the REST-facing room API over a store.RoomStore.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cwrk-planet/pad/internal/domain"
	"github.com/cwrk-planet/pad/internal/metrics"
	"github.com/cwrk-planet/pad/internal/store"
	"github.com/cwrk-planet/pad/pkg/errs"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 50
)

type RoomService struct {
	rooms  store.RoomStore
	lister store.Lister
	log    *slog.Logger
}

// NewRoomService wraps rooms. Listing and deletion are available when rooms
// also implements store.Lister.
func NewRoomService(rooms store.RoomStore, log *slog.Logger) *RoomService {
	if log == nil {
		log = slog.Default()
	}
	s := &RoomService{rooms: rooms, log: log.With("component", "room_service")}
	if l, ok := rooms.(store.Lister); ok {
		s.lister = l
	}
	return s
}

func (s *RoomService) GetRoom(ctx context.Context, id string) (domain.Room, error) {
	if id == "" {
		return domain.Room{}, domain.ErrEmptyRoomID
	}
	room, err := s.rooms.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			return domain.Room{}, domain.ErrRoomNotFound
		}
		return domain.Room{}, fmt.Errorf("rooms.Get: %w", err)
	}
	return room, nil
}

// EnsureRoom inserts room unless the id is taken and returns the stored row.
// created reports whether this call wrote it.
func (s *RoomService) EnsureRoom(ctx context.Context, room domain.Room) (stored domain.Room, created bool, err error) {
	if err := room.Validate(); err != nil {
		return domain.Room{}, false, err
	}
	if room.Messages == nil {
		room.Messages = []domain.Message{}
	}

	err = s.rooms.InsertIfAbsent(ctx, room)
	record("insert", err)
	switch {
	case err == nil:
		created = true
	case errors.Is(err, domain.ErrRoomExists):
	default:
		return domain.Room{}, false, fmt.Errorf("rooms.InsertIfAbsent: %w", err)
	}

	stored, err = s.GetRoom(ctx, room.ID)
	return stored, created, err
}

// SaveRoom replaces the stored snapshot. The store stamps UpdatedAt.
func (s *RoomService) SaveRoom(ctx context.Context, room domain.Room) (domain.Room, error) {
	if err := room.Validate(); err != nil {
		return domain.Room{}, err
	}
	if room.Messages == nil {
		room.Messages = []domain.Message{}
	}

	stored, err := s.rooms.Upsert(ctx, room)
	record("upsert", err)
	if err != nil {
		return domain.Room{}, fmt.Errorf("rooms.Upsert: %w", err)
	}
	return stored, nil
}

// ListRooms pages through rooms, most recently updated first.
func (s *RoomService) ListRooms(ctx context.Context, limit int, cursor string) ([]domain.RoomSummary, string, error) {
	if s.lister == nil {
		return nil, "", fmt.Errorf("%w: room listing not supported by store", errs.ErrUnavailable)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	rooms, next, err := s.lister.List(ctx, limit, cursor)
	if err != nil {
		return nil, "", err
	}
	return rooms, next, nil
}

func (s *RoomService) DeleteRoom(ctx context.Context, id string) error {
	if s.lister == nil {
		return fmt.Errorf("%w: room deletion not supported by store", errs.ErrUnavailable)
	}
	if id == "" {
		return domain.ErrEmptyRoomID
	}
	err := s.lister.Delete(ctx, id)
	record("delete", err)
	if err == nil {
		s.log.Info("room deleted", "room", id)
	}
	return err
}

func record(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrRoomExists):
		result = "exists"
	case errors.Is(err, domain.ErrRoomNotFound):
		result = "not_found"
	default:
		result = "error"
	}
	metrics.StoreWrites.WithLabelValues(op, result).Inc()
}
