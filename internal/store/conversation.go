package store

import (
	"database/sql"
	"time"

	"teamchat/internal/model"
)

// UpsertConversation inserts or updates a conversation summary, flattening
// the denormalized latest-message snapshot into the row.
func (db *DB) UpsertConversation(c *model.ConversationSummary) error {
	now := time.Now().UnixMilli()
	var latestID, latestSendAt int64
	var latestSender, latestBody string
	if c.LatestMessage != nil {
		latestID = c.LatestMessage.MessageID
		latestSender = c.LatestMessage.SenderName
		latestBody = c.LatestMessage.Body
		latestSendAt = c.LatestMessage.SendAt
	}
	_, err := db.Exec(`
		INSERT INTO conversations (conversation_id, conversation_name, team_name, is_read, unread_count, latest_message_id, latest_sender, latest_body, latest_send_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			conversation_name = excluded.conversation_name,
			team_name = excluded.team_name,
			is_read = excluded.is_read,
			unread_count = excluded.unread_count,
			latest_message_id = excluded.latest_message_id,
			latest_sender = excluded.latest_sender,
			latest_body = excluded.latest_body,
			latest_send_at = excluded.latest_send_at,
			updated_at = excluded.updated_at`,
		c.ConversationID, c.ConversationName, c.TeamName, c.IsRead, c.UnreadCount,
		latestID, latestSender, latestBody, latestSendAt, now)
	return err
}

// ListConversations returns cached summaries, most recent activity first.
func (db *DB) ListConversations() ([]model.ConversationSummary, error) {
	rows, err := db.Query(`
		SELECT conversation_id, conversation_name, team_name, is_read, unread_count, latest_message_id, latest_sender, latest_body, latest_send_at
		FROM conversations
		ORDER BY latest_send_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.ConversationSummary
	for rows.Next() {
		var c model.ConversationSummary
		var latestID, latestSendAt int64
		var latestSender, latestBody string
		if err := rows.Scan(&c.ConversationID, &c.ConversationName, &c.TeamName, &c.IsRead, &c.UnreadCount, &latestID, &latestSender, &latestBody, &latestSendAt); err != nil {
			return nil, err
		}
		if latestID != 0 {
			c.LatestMessage = &model.Message{
				MessageID:      latestID,
				ConversationID: c.ConversationID,
				SenderName:     latestSender,
				Body:           latestBody,
				SendAt:         latestSendAt,
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetConversation returns a single cached summary, or nil if absent.
func (db *DB) GetConversation(id int64) (*model.ConversationSummary, error) {
	var c model.ConversationSummary
	var latestID, latestSendAt int64
	var latestSender, latestBody string
	err := db.QueryRow(`
		SELECT conversation_id, conversation_name, team_name, is_read, unread_count, latest_message_id, latest_sender, latest_body, latest_send_at
		FROM conversations WHERE conversation_id = ?`, id).
		Scan(&c.ConversationID, &c.ConversationName, &c.TeamName, &c.IsRead, &c.UnreadCount, &latestID, &latestSender, &latestBody, &latestSendAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if latestID != 0 {
		c.LatestMessage = &model.Message{
			MessageID:      latestID,
			ConversationID: c.ConversationID,
			SenderName:     latestSender,
			Body:           latestBody,
			SendAt:         latestSendAt,
		}
	}
	return &c, nil
}

// DeleteConversation removes a conversation and its cached messages.
func (db *DB) DeleteConversation(id int64) error {
	if _, err := db.Exec(`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return err
	}
	_, err := db.Exec(`DELETE FROM conversations WHERE conversation_id = ?`, id)
	return err
}
