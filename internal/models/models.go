package models

import "time"

// Status is a user's presence state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away" // reserved, nothing sets it yet
	StatusOffline Status = "offline"
)

// Identity is the authenticated principal bound to a connection.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// User is the stored user record, without the password hash.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Status    Status    `json:"status"`
	LastSeen  time.Time `json:"lastSeen"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u User) Identity() Identity {
	return Identity{ID: u.ID, Name: u.Name, Email: u.Email}
}

// Message is immutable once persisted, except for Read.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Read       bool      `json:"read"`
}

// LastMessage is the denormalized conversation summary kept on a contact.
type LastMessage struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type Contact struct {
	ID          string       `json:"id"`
	OwnerID     string       `json:"userId"`
	ContactID   string       `json:"contactId"`
	Name        string       `json:"name"`
	Email       string       `json:"email"`
	Status      Status       `json:"status"`
	LastSeen    time.Time    `json:"lastSeen"`
	LastMessage *LastMessage `json:"lastMessage,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Presence is a point-in-time view of a user's presence entry.
type Presence struct {
	UserID            string    `json:"userId"`
	Status            Status    `json:"status"`
	LastSeen          time.Time `json:"lastSeen"`
	ActiveConnections int       `json:"activeConnections"`
}
