package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pelusa-v/pelusa-chat.git/internal/models"
)

// InsertMessage persists msg exactly once and returns the stored copy. An empty
// ID is filled with a fresh uuid.
func (s *Store) InsertMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Timestamp = msg.Timestamp.UTC()
	_, err := s.conn.ExecContext(ctx,
		"INSERT INTO messages (id, sender_id, receiver_id, content, timestamp, read) VALUES (?, ?, ?, ?, ?, ?)",
		msg.ID, msg.SenderID, msg.ReceiverID, msg.Content, formatTime(msg.Timestamp), msg.Read,
	)
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// ListConversation returns the messages exchanged between userID and peerID in
// insertion order.
func (s *Store) ListConversation(ctx context.Context, userID, peerID string) ([]models.Message, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, sender_id, receiver_id, content, timestamp, read FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY seq ASC`,
		userID, peerID, peerID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	defer rows.Close()

	out := []models.Message{}
	for rows.Next() {
		var (
			msg models.Message
			ts  string
		)
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &ts, &msg.Read); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Timestamp = parseTime(ts)
		out = append(out, msg)
	}
	return out, rows.Err()
}
