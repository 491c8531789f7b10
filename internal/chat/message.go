package chat

import (
	"encoding/json"
	"time"

	"github.com/pelusa-v/pelusa-chat.git/internal/models"
)

type EventType string

const (
	EventTyping           EventType = "typing"
	EventNewMessage       EventType = "new_message"
	EventCallRequest      EventType = "call_request"
	EventCallResponse     EventType = "call_response"
	EventWebRTCSignal     EventType = "webrtc_signal"
	EventUserStatusChange EventType = "user_status_change"
	EventError            EventType = "error"
)

// Envelope is the frame shape in both directions: {"type": ..., "data": {...}}.
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Event is an outbound frame before encoding.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

// inbound payloads

type typingPayload struct {
	ReceiverID string `json:"receiverId"`
}

type newMessagePayload struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

type callRequestPayload struct {
	ReceiverID string `json:"receiverId"`
	Type       string `json:"type"`
}

type callResponsePayload struct {
	ReceiverID string `json:"receiverId"`
	Accepted   bool   `json:"accepted"`
}

type signalPayload struct {
	ReceiverID string          `json:"receiverId"`
	Signal     json.RawMessage `json:"signal"`
}

// outbound payloads

type TypingEvent struct {
	SenderID string `json:"senderId"`
}

type StatusChangeEvent struct {
	UserID   string        `json:"userId"`
	Status   models.Status `json:"status"`
	LastSeen time.Time     `json:"lastSeen"`
}

type CallRequestEvent struct {
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Type       string `json:"type"`
}

type CallResponseEvent struct {
	SenderID string `json:"senderId"`
	Accepted bool   `json:"accepted"`
}

// SignalEvent carries negotiation data the server never looks into.
type SignalEvent struct {
	SenderID string          `json:"senderId"`
	Signal   json.RawMessage `json:"signal"`
}

// ErrorEvent is only ever sent to the connection that caused it.
type ErrorEvent struct {
	Event   EventType `json:"event,omitempty"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}
