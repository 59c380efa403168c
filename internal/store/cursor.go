package store

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cwrk-planet/pad/internal/domain"
)

var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor points after the last row of a page ordered by
// (updated_at DESC, id DESC).
type Cursor struct {
	UpdatedAt int64  `json:"updated_at"`
	ID        string `json:"id"`
}

func EncodeCursor(c Cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: decode base64: %v", ErrInvalidCursor, err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", ErrInvalidCursor, err)
	}
	return &c, nil
}

// After reports whether a row sorts after the cursor.
func (c *Cursor) After(updatedAt int64, id string) bool {
	if c == nil {
		return true
	}
	return updatedAt < c.UpdatedAt || (updatedAt == c.UpdatedAt && id < c.ID)
}

// NextCursor returns the cursor for the page following rows, or "" when the
// page was not full.
func NextCursor(rows []domain.RoomSummary, limit int) string {
	if limit <= 0 || len(rows) < limit {
		return ""
	}
	last := rows[len(rows)-1]
	next, _ := EncodeCursor(Cursor{UpdatedAt: last.UpdatedAt, ID: last.ID})
	return next
}
