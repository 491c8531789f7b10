package chat

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Router keeps one room per user id holding that user's live clients.
// Rooms are created on first join and kept afterwards.
type Router struct {
	mu    sync.RWMutex
	rooms map[string]*room

	log     *zap.Logger
	metrics *Metrics
}

type room struct {
	mu      sync.Mutex
	clients map[string]*Client // client id -> client
}

func NewRouter(log *zap.Logger, metrics *Metrics) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		rooms:   make(map[string]*room),
		log:     log,
		metrics: metrics,
	}
}

func (r *Router) room(userID string, create bool) *room {
	r.mu.RLock()
	rm, ok := r.rooms[userID]
	r.mu.RUnlock()
	if ok || !create {
		return rm
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok = r.rooms[userID]; !ok {
		rm = &room{clients: make(map[string]*Client)}
		r.rooms[userID] = rm
	}
	return rm
}

func (r *Router) Join(c *Client) {
	rm := r.room(c.User.ID, true)
	rm.mu.Lock()
	rm.clients[c.Id] = c
	rm.mu.Unlock()
}

// Leave removes c from its user's room and returns how many clients remain.
func (r *Router) Leave(c *Client) int {
	rm := r.room(c.User.ID, false)
	if rm == nil {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.clients, c.Id)
	return len(rm.clients)
}

// Handles reports how many live clients userID has.
func (r *Router) Handles(userID string) int {
	rm := r.room(userID, false)
	if rm == nil {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.clients)
}

// EmitTo delivers ev to every live client of userID and returns how many
// accepted it. A user with no clients is a silent no-op.
func (r *Router) EmitTo(userID string, ev Event) int {
	return r.EmitToExcept(userID, "", ev)
}

// EmitToExcept is EmitTo skipping the client with id except.
func (r *Router) EmitToExcept(userID, except string, ev Event) int {
	rm := r.room(userID, false)
	if rm == nil {
		return 0
	}
	data, err := json.Marshal(ev)
	if err != nil {
		r.log.Error("encode event", zap.String("event", string(ev.Type)), zap.Error(err))
		return 0
	}
	return r.deliver(rm, ev.Type, data, except)
}

// Broadcast delivers ev to every connected user. A slow or dead recipient only
// loses its own copy.
func (r *Router) Broadcast(ev Event) int {
	data, err := json.Marshal(ev)
	if err != nil {
		r.log.Error("encode event", zap.String("event", string(ev.Type)), zap.Error(err))
		return 0
	}

	r.mu.RLock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, rm := range rooms {
		delivered += r.deliver(rm, ev.Type, data, "")
	}
	return delivered
}

// deliver enqueues under the room lock so every client of a user sees
// concurrent emissions in the same order.
func (r *Router) deliver(rm *room, typ EventType, data []byte, except string) int {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	delivered := 0
	for id, c := range rm.clients {
		if id == except {
			continue
		}
		if c.enqueue(data) {
			delivered++
			continue
		}
		r.metrics.recordDrop()
		r.log.Warn("dropped outbound event",
			zap.String("event", string(typ)),
			zap.String("user_id", c.User.ID),
			zap.String("conn_id", c.Id),
		)
	}
	return delivered
}
