// Package cache keeps the last known snapshot of every visited room in a
// local SQLite file so a client can open a room while the store is down.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cwrk-planet/pad/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS room_cache (
	id        TEXT PRIMARY KEY,
	snapshot  TEXT NOT NULL,
	cached_at INTEGER NOT NULL
)`

type Cache struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates the database file and its directory if needed.
func Open(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cache: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open: %w", err)
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		schema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("cache: init: %w", err)
		}
	}
	return &Cache{db: db, now: time.Now}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) Put(ctx context.Context, room domain.Room) error {
	if room.ID == "" {
		return domain.ErrEmptyRoomID
	}
	raw, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("cache: encode: %w", err)
	}

	const q = `
		INSERT INTO room_cache (id, snapshot, cached_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET snapshot = excluded.snapshot, cached_at = excluded.cached_at`
	if _, err := c.db.ExecContext(ctx, q, room.ID, string(raw), c.now().UnixMilli()); err != nil {
		return fmt.Errorf("cache: put: %w", err)
	}
	return nil
}

// Get returns domain.ErrRoomNotFound for rooms never cached and
// domain.ErrMalformedSnapshot for rows that no longer decode.
func (c *Cache) Get(ctx context.Context, id string) (domain.Room, error) {
	var raw string
	err := c.db.QueryRowContext(ctx, `SELECT snapshot FROM room_cache WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("cache: get: %w", err)
	}
	return domain.DecodeRoom([]byte(raw))
}

// Prune drops entries cached before cutoff and reports how many were removed.
func (c *Cache) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM room_cache WHERE cached_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cache: prune: %w", err)
	}
	return res.RowsAffected()
}
