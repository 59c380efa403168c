package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cwrk-planet/pad/internal/domain"
	"github.com/cwrk-planet/pad/internal/store"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// RoomRepository stores one row per room. Its change feed is served by a
// Listener attached with WithListener.
type RoomRepository struct {
	q    querier
	feed *Listener
}

func NewRoomRepository(db *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{q: db}
}

func (r *RoomRepository) WithListener(l *Listener) *RoomRepository {
	r.feed = l
	return r
}

func (r *RoomRepository) Get(ctx context.Context, id string) (domain.Room, error) {
	room, err := scanRoom(r.q.QueryRow(ctx, queryGetRoom, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Room{}, domain.ErrRoomNotFound
		}
		return domain.Room{}, err
	}
	return room, nil
}

func (r *RoomRepository) InsertIfAbsent(ctx context.Context, room domain.Room) error {
	args, err := roomArgs(room)
	if err != nil {
		return err
	}
	tag, err := r.q.Exec(ctx, queryInsertRoom, args...)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRoomExists
	}
	return nil
}

func (r *RoomRepository) Upsert(ctx context.Context, room domain.Room) (domain.Room, error) {
	args, err := roomArgs(room)
	if err != nil {
		return domain.Room{}, err
	}
	stored, err := scanRoom(r.q.QueryRow(ctx, queryUpsertRoom, args...))
	if err != nil {
		return domain.Room{}, mapPgError(err)
	}
	return stored, nil
}

func (r *RoomRepository) SubscribeToChanges(roomID string, fn func(domain.Room)) func() {
	if r.feed == nil {
		return func() {}
	}
	return r.feed.Subscribe(roomID, fn)
}

func (r *RoomRepository) List(ctx context.Context, limit int, cursorStr string) ([]domain.RoomSummary, string, error) {
	cur, err := store.DecodeCursor(cursorStr)
	if err != nil {
		return nil, "", err
	}

	var updatedAt, id any
	if cur != nil {
		updatedAt = cur.UpdatedAt
		id = cur.ID
	}

	rows, err := r.q.Query(ctx, queryListRooms, updatedAt, id, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var out []domain.RoomSummary
	for rows.Next() {
		var (
			s      domain.RoomSummary
			editor []byte
		)
		if err := rows.Scan(&s.ID, &s.UpdatedAt, &editor, &s.MessageCount); err != nil {
			return nil, "", err
		}
		if len(editor) > 0 {
			var ed domain.Identity
			if err := json.Unmarshal(editor, &ed); err == nil {
				s.LastEditor = &ed
			}
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	return out, store.NextCursor(out, limit), nil
}

func (r *RoomRepository) Delete(ctx context.Context, id string) error {
	_, err := r.q.Exec(ctx, queryDeleteRoom, id)
	return err
}

func roomArgs(room domain.Room) ([]any, error) {
	if err := room.Validate(); err != nil {
		return nil, err
	}
	msgs := room.Messages
	if msgs == nil {
		msgs = []domain.Message{}
	}
	rawMsgs, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("encode messages: %w", err)
	}

	var editor any
	if room.LastEditor != nil {
		raw, err := json.Marshal(room.LastEditor)
		if err != nil {
			return nil, fmt.Errorf("encode last editor: %w", err)
		}
		editor = string(raw)
	}
	return []any{room.ID, room.Content, string(rawMsgs), room.UpdatedAt, editor}, nil
}

// scanRoom reassembles the row into the persisted snapshot shape so that a
// corrupt row surfaces as domain.ErrMalformedSnapshot.
func scanRoom(row pgx.Row) (domain.Room, error) {
	var (
		id, content string
		msgs        []byte
		updatedAt   int64
		editor      []byte
	)
	if err := row.Scan(&id, &content, &msgs, &updatedAt, &editor); err != nil {
		return domain.Room{}, err
	}

	snap := struct {
		ID         string          `json:"id"`
		Content    string          `json:"content"`
		Messages   json.RawMessage `json:"messages"`
		UpdatedAt  int64           `json:"updatedAt"`
		LastEditor json.RawMessage `json:"lastEditor,omitempty"`
	}{ID: id, Content: content, Messages: msgs, UpdatedAt: updatedAt}
	if len(editor) > 0 {
		snap.LastEditor = editor
	}
	if len(snap.Messages) == 0 {
		snap.Messages = json.RawMessage("[]")
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return domain.Room{}, fmt.Errorf("%w: %v", domain.ErrMalformedSnapshot, err)
	}
	return domain.DecodeRoom(raw)
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 23505 - unique violation
		if pgErr.Code == "23505" {
			return domain.ErrRoomExists
		}
	}
	return err
}
