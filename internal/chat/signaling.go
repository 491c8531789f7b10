package chat

import (
	"context"
	"encoding/json"
)

// Typing and call signaling are forwarded to the receiver only, never stored.
// An offline receiver simply misses them, and the sending connection never
// gets its own event back.

func (r *Relay) handleTyping(_ context.Context, s Session, data json.RawMessage) (Effect, error) {
	var p typingPayload
	if err := decodeTarget(EventTyping, data, &p, &p.ReceiverID); err != nil {
		return Effect{}, err
	}
	return forward(s, p.ReceiverID, EventTyping, TypingEvent{SenderID: s.User.ID}), nil
}

func (r *Relay) handleCallRequest(_ context.Context, s Session, data json.RawMessage) (Effect, error) {
	var p callRequestPayload
	if err := decodeTarget(EventCallRequest, data, &p, &p.ReceiverID); err != nil {
		return Effect{}, err
	}
	return forward(s, p.ReceiverID, EventCallRequest, CallRequestEvent{
		SenderID:   s.User.ID,
		SenderName: s.User.Name,
		Type:       p.Type,
	}), nil
}

func (r *Relay) handleCallResponse(_ context.Context, s Session, data json.RawMessage) (Effect, error) {
	var p callResponsePayload
	if err := decodeTarget(EventCallResponse, data, &p, &p.ReceiverID); err != nil {
		return Effect{}, err
	}
	return forward(s, p.ReceiverID, EventCallResponse, CallResponseEvent{
		SenderID: s.User.ID,
		Accepted: p.Accepted,
	}), nil
}

func (r *Relay) handleSignal(_ context.Context, s Session, data json.RawMessage) (Effect, error) {
	var p signalPayload
	if err := decodeTarget(EventWebRTCSignal, data, &p, &p.ReceiverID); err != nil {
		return Effect{}, err
	}
	signal := p.Signal
	if len(signal) == 0 {
		signal = json.RawMessage("null")
	}
	return forward(s, p.ReceiverID, EventWebRTCSignal, SignalEvent{
		SenderID: s.User.ID,
		Signal:   signal,
	}), nil
}

func decodeTarget(typ EventType, data json.RawMessage, v any, receiverID *string) error {
	if err := decodePayload(typ, data, v); err != nil {
		return err
	}
	if *receiverID == "" {
		return &ValidationError{Event: typ, Field: "receiverId", Reason: "is required"}
	}
	return nil
}

func forward(s Session, to string, typ EventType, payload any) Effect {
	return Effect{Deliveries: []Delivery{{
		To:     to,
		Event:  Event{Type: typ, Data: payload},
		Except: s.ConnID,
	}}}
}
