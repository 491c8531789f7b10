package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/pelusa-v/pelusa-chat.git/internal/models"
)

const (
	defaultSendBuffer  = 64
	statusWriteTimeout = 5 * time.Second
	statusQueueSize    = 256
)

// UserStore mirrors presence transitions onto the stored user record.
type UserStore interface {
	UpdateStatus(ctx context.Context, userID string, status models.Status, lastSeen time.Time) error
}

type Options struct {
	Logger     *zap.Logger
	Metrics    *Metrics
	SendBuffer int
}

// Manager drives every connection through
// connecting -> authenticated -> joined -> closed and owns the process-wide
// presence registry and router.
type Manager struct {
	presence *PresenceRegistry
	router   *Router
	relay    *Relay
	users    UserStore

	log        *zap.Logger
	metrics    *Metrics
	sendBuffer int
	newID      func() string

	// presence transitions waiting to be written to users, in transition order
	statuses  chan models.Presence
	quit      chan struct{}
	quitOnce  sync.Once
	mirrorEnd chan struct{}
}

func NewManager(relay *Relay, users UserStore, opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	buffer := opts.SendBuffer
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	m := &Manager{
		router:     NewRouter(log.Named("router"), opts.Metrics),
		relay:      relay,
		users:      users,
		log:        log,
		metrics:    opts.Metrics,
		sendBuffer: buffer,
		newID:      func() string { return ksuid.New().String() },
		statuses:   make(chan models.Presence, statusQueueSize),
		quit:       make(chan struct{}),
		mirrorEnd:  make(chan struct{}),
	}
	m.presence = NewPresenceRegistry(m.presenceChanged)
	go m.mirrorStatuses()
	return m
}

// Close stops the status writer after flushing what is already queued.
func (m *Manager) Close() {
	m.quitOnce.Do(func() { close(m.quit) })
	<-m.mirrorEnd
}

func (m *Manager) Router() *Router {
	return m.router
}

// Presence returns userID's presence; users never seen are offline.
func (m *Manager) Presence(userID string) models.Presence {
	p, _ := m.presence.Snapshot(userID)
	return p
}

// ListOnline returns online users, skipping exclude.
func (m *Manager) ListOnline(exclude string) []models.Presence {
	all := m.presence.Online()
	out := make([]models.Presence, 0, len(all))
	for _, p := range all {
		if p.UserID == exclude {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Serve runs one authenticated connection until its transport fails or
// closes. Cleanup runs on every exit path.
func (m *Manager) Serve(ctx context.Context, user models.Identity, conn ConnLike) error {
	if user.ID == "" {
		_ = conn.Close()
		return ErrUnauthenticated
	}

	client := newClient(m.newID(), user, conn, m.sendBuffer)
	client.setState(StateAuthenticated)
	log := m.log.With(zap.String("user_id", user.ID), zap.String("conn_id", client.Id))

	go client.WritePump()
	defer m.release(client, log)

	m.router.Join(client)
	m.presence.Register(user.ID, client.Id)
	client.setState(StateJoined)
	m.metrics.connOpened()
	log.Info("connection joined")

	m.readLoop(ctx, client, log)
	return nil
}

func (m *Manager) release(c *Client, log *zap.Logger) {
	if r := recover(); r != nil {
		log.Error("connection handler panic", zap.Any("panic", r))
	}
	joined := c.State() == StateJoined
	m.router.Leave(c)
	m.presence.Deregister(c.User.ID, c.Id)
	c.close()
	_ = c.Conn.Close()
	// the transport may recycle conn once Serve returns
	<-c.stopped
	c.setState(StateClosed)
	if joined {
		m.metrics.connClosed()
	}
	log.Info("connection closed")
}

// readLoop handles one frame at a time, so a connection's events take effect
// in the order they arrived.
func (m *Manager) readLoop(ctx context.Context, c *Client, log *zap.Logger) {
	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			log.Debug("read ended", zap.Error(err))
			return
		}
		m.handleFrame(ctx, c, data, log)
	}
}

func (m *Manager) handleFrame(ctx context.Context, c *Client, data []byte, log *zap.Logger) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		m.metrics.observeEvent("", codeMalformed, 0)
		m.reply(c, ErrorEvent{Code: codeMalformed, Message: "frame must be {\"type\": ..., \"data\": {...}}"})
		return
	}

	label := string(env.Type)
	if !m.relay.Handles(env.Type) {
		label = ""
	}
	start := time.Now()
	effect, err := m.dispatch(ctx, c, env)
	if err != nil {
		code := errorCode(err)
		m.metrics.observeEvent(label, code, time.Since(start))
		log.Warn("event rejected", zap.String("event", string(env.Type)), zap.String("code", code), zap.Error(err))
		m.reply(c, ErrorEvent{Event: env.Type, Code: code, Message: err.Error()})
		return
	}
	m.apply(effect)
	m.metrics.observeEvent(label, "ok", time.Since(start))
}

// dispatch confines a handler panic to the event that caused it.
func (m *Manager) dispatch(ctx context.Context, c *Client, env Envelope) (effect Effect, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return m.relay.Dispatch(ctx, Session{ConnID: c.Id, User: c.User}, env)
}

func (m *Manager) apply(effect Effect) {
	for _, d := range effect.Deliveries {
		m.router.EmitToExcept(d.To, d.Except, d.Event)
	}
}

func (m *Manager) reply(c *Client, ev ErrorEvent) {
	data, err := json.Marshal(Event{Type: EventError, Data: ev})
	if err != nil {
		return
	}
	if !c.enqueue(data) {
		m.metrics.recordDrop()
	}
}

// presenceChanged runs under the user's presence lock, so the broadcasts and
// queued status writes for one user follow the registry's order. The store
// write itself happens on the status writer, off the lock.
func (m *Manager) presenceChanged(p models.Presence) {
	switch {
	case p.Status == models.StatusOnline && p.ActiveConnections == 1:
		m.metrics.userOnline()
	case p.Status == models.StatusOffline:
		m.metrics.userOffline()
	}

	if m.users != nil {
		m.queueStatus(p)
	}

	m.router.Broadcast(Event{Type: EventUserStatusChange, Data: StatusChangeEvent{
		UserID:   p.UserID,
		Status:   p.Status,
		LastSeen: p.LastSeen,
	}})
}

func (m *Manager) queueStatus(p models.Presence) {
	select {
	case <-m.quit:
		m.log.Warn("status writer stopped, presence not stored", zap.String("user_id", p.UserID))
		return
	default:
	}
	select {
	case m.statuses <- p:
	case <-m.quit:
		m.log.Warn("status writer stopped, presence not stored", zap.String("user_id", p.UserID))
	}
}

// mirrorStatuses writes presence transitions to the user store one at a time.
func (m *Manager) mirrorStatuses() {
	defer close(m.mirrorEnd)
	for {
		select {
		case p := <-m.statuses:
			m.storeStatus(p)
		case <-m.quit:
			for {
				select {
				case p := <-m.statuses:
					m.storeStatus(p)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) storeStatus(p models.Presence) {
	ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer cancel()
	if err := m.users.UpdateStatus(ctx, p.UserID, p.Status, p.LastSeen); err != nil {
		m.log.Warn("store presence", zap.String("user_id", p.UserID), zap.Error(err))
	}
}
