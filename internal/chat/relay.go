package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pelusa-v/pelusa-chat.git/internal/models"
)

const tracerName = "github.com/pelusa-v/pelusa-chat.git/internal/chat"

type MessageStore interface {
	InsertMessage(ctx context.Context, msg models.Message) (models.Message, error)
}

type ContactStore interface {
	UpdateLastMessage(ctx context.Context, userID, contactID string, summary models.LastMessage) error
}

// Session is the per-connection context handed to event handlers.
type Session struct {
	ConnID string
	User   models.Identity
}

// Delivery asks the router to emit Event to every connection of user To,
// skipping connection Except when set.
type Delivery struct {
	To     string
	Event  Event
	Except string
}

// Effect is what a handled event wants delivered. Handlers that persist do so
// before returning it, so nothing in an Effect refers to unsaved data.
type Effect struct {
	Deliveries []Delivery
}

type handlerFunc func(ctx context.Context, s Session, data json.RawMessage) (Effect, error)

type Relay struct {
	messages MessageStore
	contacts ContactStore
	log      *zap.Logger
	tracer   trace.Tracer
	nowFn    func() time.Time
	newID    func() string
	handlers map[EventType]handlerFunc
}

type RelayOption func(*Relay)

func WithTracerProvider(tp trace.TracerProvider) RelayOption {
	return func(r *Relay) { r.tracer = tp.Tracer(tracerName) }
}

func WithClock(now func() time.Time) RelayOption {
	return func(r *Relay) { r.nowFn = now }
}

func NewRelay(messages MessageStore, contacts ContactStore, log *zap.Logger, opts ...RelayOption) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Relay{
		messages: messages,
		contacts: contacts,
		log:      log,
		tracer:   otel.Tracer(tracerName),
		nowFn:    time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.handlers = map[EventType]handlerFunc{
		EventNewMessage:   r.handleNewMessage,
		EventTyping:       r.handleTyping,
		EventCallRequest:  r.handleCallRequest,
		EventCallResponse: r.handleCallResponse,
		EventWebRTCSignal: r.handleSignal,
	}
	return r
}

// Handles reports whether typ has a handler.
func (r *Relay) Handles(typ EventType) bool {
	_, ok := r.handlers[typ]
	return ok
}

// Dispatch runs the handler registered for env.Type.
func (r *Relay) Dispatch(ctx context.Context, s Session, env Envelope) (Effect, error) {
	h, ok := r.handlers[env.Type]
	if !ok {
		return Effect{}, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}

	ctx, span := r.tracer.Start(ctx, "chat."+string(env.Type), trace.WithAttributes(
		attribute.String("chat.event", string(env.Type)),
		attribute.String("chat.user_id", s.User.ID),
		attribute.String("chat.conn_id", s.ConnID),
	))
	defer span.End()

	effect, err := h(ctx, s, env.Data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errorCode(err))
		return Effect{}, err
	}
	span.SetAttributes(attribute.Int("chat.deliveries", len(effect.Deliveries)))
	return effect, nil
}

func (r *Relay) handleNewMessage(ctx context.Context, s Session, data json.RawMessage) (Effect, error) {
	var p newMessagePayload
	if err := decodePayload(EventNewMessage, data, &p); err != nil {
		return Effect{}, err
	}
	if p.ReceiverID == "" {
		return Effect{}, &ValidationError{Event: EventNewMessage, Field: "receiverId", Reason: "is required"}
	}
	if p.Content == "" {
		return Effect{}, &ValidationError{Event: EventNewMessage, Field: "content", Reason: "must not be empty"}
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("chat.receiver_id", p.ReceiverID))

	// millisecond precision survives the store round trip unchanged
	ts := r.nowFn().UTC().Truncate(time.Millisecond)
	stored, err := r.messages.InsertMessage(ctx, models.Message{
		ID:         r.newID(),
		SenderID:   s.User.ID,
		ReceiverID: p.ReceiverID,
		Content:    p.Content,
		Timestamp:  ts,
		Read:       false,
	})
	if err != nil {
		return Effect{}, &PersistenceError{Op: "insert message", Err: err}
	}

	r.updateSummary(ctx, stored)

	ev := Event{Type: EventNewMessage, Data: stored}
	effect := Effect{Deliveries: []Delivery{{To: stored.SenderID, Event: ev}}}
	if stored.ReceiverID != stored.SenderID {
		effect.Deliveries = append(effect.Deliveries, Delivery{To: stored.ReceiverID, Event: ev})
	}
	return effect, nil
}

func decodePayload(typ EventType, data json.RawMessage, v any) error {
	if len(data) == 0 {
		return &ValidationError{Event: typ, Field: "data", Reason: "is required"}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &ValidationError{Event: typ, Field: "data", Reason: "is not a valid payload: " + err.Error()}
	}
	return nil
}
