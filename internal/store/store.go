// Package store holds the Room Store contract shared by the sync engine, the
// REST service and the websocket change relay.
package store

import (
	"context"

	"github.com/cwrk-planet/pad/internal/domain"
)

// RoomStore is a durable room id -> snapshot mapping.
//
// Get returns domain.ErrRoomNotFound for unknown ids. InsertIfAbsent returns
// domain.ErrRoomExists when another writer created the row first, which callers
// treat as "re-fetch", not as a failure. Upsert returns the row as stored, with
// UpdatedAt stamped at write time.
type RoomStore interface {
	Get(ctx context.Context, id string) (domain.Room, error)
	InsertIfAbsent(ctx context.Context, room domain.Room) error
	Upsert(ctx context.Context, room domain.Room) (domain.Room, error)
	ChangeFeed
}

// ChangeFeed delivers every stored snapshot of a room after a write.
type ChangeFeed interface {
	SubscribeToChanges(roomID string, fn func(domain.Room)) (unsubscribe func())
}

// Lister is implemented by stores that can enumerate rooms for the admin
// API. Pages are ordered by most recently updated first.
type Lister interface {
	List(ctx context.Context, limit int, cursor string) ([]domain.RoomSummary, string, error)
	Delete(ctx context.Context, id string) error
}
