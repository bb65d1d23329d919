// Package store persists room timelines locally so a reopened room can
// render immediately while the first history page is on the wire.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/yhkim-dev/brandtalk/models"
)

// SQLiteTimelineCache is a write-through cache of room messages backed by
// sqlite. It is keyed by message id, so replays and in-place edits
// collapse into a single row.
type SQLiteTimelineCache struct {
	db *sql.DB
}

func NewSQLiteTimelineCache(db *sql.DB) *SQLiteTimelineCache {
	return &SQLiteTimelineCache{db: db}
}

const upsertMessage = `
INSERT INTO messages (id, chat_room_id, speaker, message_type, status, message_text,
	speaker_name, speaker_image_url, ref_key, system_activity_type, sent_at)
VALUES (@id, @chat_room_id, @speaker, @message_type, @status, @message_text,
	@speaker_name, @speaker_image_url, @ref_key, @system_activity_type, @sent_at)
ON CONFLICT (id) DO UPDATE SET
	speaker = excluded.speaker,
	message_type = excluded.message_type,
	status = excluded.status,
	message_text = excluded.message_text,
	speaker_name = excluded.speaker_name,
	speaker_image_url = excluded.speaker_image_url,
	ref_key = excluded.ref_key,
	system_activity_type = excluded.system_activity_type,
	sent_at = excluded.sent_at
`

func messageArgs(m models.Message) []any {
	return []any{
		sql.Named("id", m.ID),
		sql.Named("chat_room_id", m.ChatRoomID),
		sql.Named("speaker", string(m.Speaker)),
		sql.Named("message_type", m.Type),
		sql.Named("status", m.Status),
		sql.Named("message_text", m.Text),
		sql.Named("speaker_name", m.SpeakerName),
		sql.Named("speaker_image_url", m.SpeakerImageURL),
		sql.Named("ref_key", m.RefKey),
		sql.Named("system_activity_type", string(m.SystemActivityType)),
		sql.Named("sent_at", m.SentAt.Time()),
	}
}

// Put stores or updates a single message.
func (c *SQLiteTimelineCache) Put(ctx context.Context, m models.Message) error {
	if m.ID == "" {
		return fmt.Errorf("message without id")
	}
	if _, err := c.db.ExecContext(ctx, upsertMessage, messageArgs(m)...); err != nil {
		return fmt.Errorf("ExecContext: %w", err)
	}
	return nil
}

// PutBatch stores a history page in one transaction.
func (c *SQLiteTimelineCache) PutBatch(ctx context.Context, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, upsertMessage, messageArgs(m)...); err != nil {
			return fmt.Errorf("ExecContext: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Commit: %w", err)
	}
	return nil
}

// Recent returns the newest limit messages of a room, oldest first, ready
// to seed a timeline.
func (c *SQLiteTimelineCache) Recent(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	query := `
	SELECT id, chat_room_id, speaker, message_type, status, message_text,
		speaker_name, speaker_image_url, ref_key, system_activity_type, sent_at
	FROM messages
	WHERE chat_room_id = @chat_room_id
	ORDER BY sent_at DESC, id DESC
	LIMIT @limit`

	rows, err := c.db.QueryContext(ctx, query,
		sql.Named("chat_room_id", roomID), sql.Named("limit", limit))
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		var sentAt sql.NullTime
		var speaker, activity string
		if err := rows.Scan(
			&m.ID, &m.ChatRoomID, &speaker, &m.Type, &m.Status, &m.Text,
			&m.SpeakerName, &m.SpeakerImageURL, &m.RefKey, &activity, &sentAt,
		); err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		m.Speaker = models.Speaker(speaker)
		m.SystemActivityType = models.SystemActivityType(activity)
		if sentAt.Valid {
			m.SentAt = models.MessageTime(sentAt.Time)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}

	// Flip to oldest first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Clear drops a room's cached timeline.
func (c *SQLiteTimelineCache) Clear(ctx context.Context, roomID string) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM messages WHERE chat_room_id = @chat_room_id`,
		sql.Named("chat_room_id", roomID))
	if err != nil {
		return fmt.Errorf("ExecContext: %w", err)
	}
	return nil
}
