package postgres

const ChangeChannel = "room_changes"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS rooms (
		id          TEXT PRIMARY KEY,
		content     TEXT   NOT NULL DEFAULT '',
		messages    JSONB  NOT NULL DEFAULT '[]'::jsonb,
		updated_at  BIGINT NOT NULL,
		last_editor JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS rooms_updated_at_idx ON rooms (updated_at DESC, id DESC)`,
	`CREATE OR REPLACE FUNCTION notify_room_change() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('room_changes', NEW.id);
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS rooms_notify_change ON rooms`,
	`CREATE TRIGGER rooms_notify_change
		AFTER INSERT OR UPDATE ON rooms
		FOR EACH ROW EXECUTE FUNCTION notify_room_change()`,
}

// writeTime is the write clock in unix ms, never below the incoming stamp.
const writeTime = `GREATEST($4::bigint, (EXTRACT(EPOCH FROM clock_timestamp()) * 1000)::bigint)`

const (
	queryGetRoom = `
		SELECT id, content, messages, updated_at, last_editor
		FROM rooms
		WHERE id = $1`

	queryInsertRoom = `
		INSERT INTO rooms (id, content, messages, updated_at, last_editor)
		VALUES ($1, $2, $3::jsonb, ` + writeTime + `, $5::jsonb)
		ON CONFLICT (id) DO NOTHING`

	queryUpsertRoom = `
		INSERT INTO rooms (id, content, messages, updated_at, last_editor)
		VALUES ($1, $2, $3::jsonb, ` + writeTime + `, $5::jsonb)
		ON CONFLICT (id) DO UPDATE SET
			content     = EXCLUDED.content,
			messages    = EXCLUDED.messages,
			updated_at  = EXCLUDED.updated_at,
			last_editor = EXCLUDED.last_editor
		RETURNING id, content, messages, updated_at, last_editor`

	queryListRooms = `
		SELECT id, updated_at, last_editor, jsonb_array_length(messages)
		FROM rooms
		WHERE ($1::bigint IS NULL OR updated_at < $1
		       OR (updated_at = $1 AND id < $2))
		ORDER BY updated_at DESC, id DESC
		LIMIT $3`

	queryDeleteRoom = `DELETE FROM rooms WHERE id = $1`
)
