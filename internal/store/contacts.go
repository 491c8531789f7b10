package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pelusa-v/pelusa-chat.git/internal/models"
)

// AddContact links ownerID to the existing user behind email. An empty name
// falls back to the target user's display name.
func (s *Store) AddContact(ctx context.Context, ownerID, email, name string) (models.Contact, error) {
	target, err := s.FindUserByEmail(ctx, email)
	if err != nil {
		return models.Contact{}, err
	}
	if name == "" {
		name = target.Name
	}

	now := time.Now().UTC()
	contact := models.Contact{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		ContactID: target.ID,
		Name:      name,
		Email:     target.Email,
		Status:    target.Status,
		LastSeen:  target.LastSeen,
		CreatedAt: now,
	}
	_, err = s.conn.ExecContext(ctx,
		"INSERT INTO contacts (id, owner_id, contact_id, name, email, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		contact.ID, contact.OwnerID, contact.ContactID, contact.Name, contact.Email, formatTime(now),
	)
	if isUniqueViolation(err) {
		return models.Contact{}, ErrContactExists
	}
	if err != nil {
		return models.Contact{}, fmt.Errorf("insert contact: %w", err)
	}
	return contact, nil
}

// ListContacts returns ownerID's contacts with the stored status of each peer.
func (s *Store) ListContacts(ctx context.Context, ownerID string) ([]models.Contact, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT c.id, c.owner_id, c.contact_id, c.name, c.email, u.status, u.last_seen,
		       COALESCE(c.last_message, ''), COALESCE(c.last_message_at, ''), c.created_at
		FROM contacts c JOIN users u ON u.id = c.contact_id
		WHERE c.owner_id = ?
		ORDER BY c.name ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	out := []models.Contact{}
	for rows.Next() {
		var (
			c                                          models.Contact
			status, lastSeen, lastMsg, lastAt, created string
		)
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.ContactID, &c.Name, &c.Email, &status, &lastSeen,
			&lastMsg, &lastAt, &created); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		c.Status = models.Status(status)
		c.LastSeen = parseTime(lastSeen)
		c.CreatedAt = parseTime(created)
		if lastAt != "" {
			c.LastMessage = &models.LastMessage{Content: lastMsg, Timestamp: parseTime(lastAt)}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateLastMessage overwrites the conversation summary userID keeps for
// contactID. ErrNotFound means userID has no such contact.
func (s *Store) UpdateLastMessage(ctx context.Context, userID, contactID string, summary models.LastMessage) error {
	res, err := s.conn.ExecContext(ctx,
		"UPDATE contacts SET last_message = ?, last_message_at = ? WHERE owner_id = ? AND contact_id = ?",
		summary.Content, formatTime(summary.Timestamp), userID, contactID,
	)
	if err != nil {
		return fmt.Errorf("update last message: %w", err)
	}
	return expectAffected(res)
}
