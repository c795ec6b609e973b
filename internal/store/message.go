package store

import (
	"encoding/json"
	"fmt"
	"time"

	"teamchat/internal/model"
)

// UpsertMessage inserts or updates a message (idempotent on
// conversation_id + message_id). The read set is stored as a JSON array.
func (db *DB) UpsertMessage(m *model.Message) error {
	readers, err := json.Marshal(m.ReadUserIDs)
	if err != nil {
		return fmt.Errorf("encode read set: %w", err)
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO messages (conversation_id, message_id, sender_id, sender_name, body, send_at, read_user_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, message_id) DO UPDATE SET
			sender_name = excluded.sender_name,
			body = excluded.body,
			read_user_ids = excluded.read_user_ids`,
		m.ConversationID, m.MessageID, m.SenderID, m.SenderName, m.Body, m.SendAt, string(readers), now)
	return err
}

// SetMessageReaders replaces the read set of a cached message.
func (db *DB) SetMessageReaders(conversationID, messageID int64, readers []int64) error {
	if readers == nil {
		readers = []int64{}
	}
	encoded, err := json.Marshal(readers)
	if err != nil {
		return fmt.Errorf("encode read set: %w", err)
	}
	_, err = db.Exec(`UPDATE messages SET read_user_ids = ? WHERE conversation_id = ? AND message_id = ?`,
		string(encoded), conversationID, messageID)
	return err
}

// ListMessages returns cached messages for a conversation using keyset
// pagination by send time, oldest first within the page.
func (db *DB) ListMessages(conversationID, beforeSendAt int64, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeSendAt <= 0 {
		beforeSendAt = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT conversation_id, message_id, sender_id, sender_name, body, send_at, read_user_ids
		FROM (
			SELECT * FROM messages
			WHERE conversation_id = ? AND send_at < ?
			ORDER BY send_at DESC LIMIT ?
		)
		ORDER BY send_at ASC`, conversationID, beforeSendAt, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		var readers string
		if err := rows.Scan(&m.ConversationID, &m.MessageID, &m.SenderID, &m.SenderName, &m.Body, &m.SendAt, &readers); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(readers), &m.ReadUserIDs); err != nil {
			return nil, fmt.Errorf("decode read set for message %d: %w", m.MessageID, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
