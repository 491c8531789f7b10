package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pelusa-v/pelusa-chat.git/internal/models"
	"github.com/pelusa-v/pelusa-chat.git/internal/store"
)

var errConnClosed = errors.New("fake conn closed")

// fakeConn is an in-memory ConnLike. Frames written by the server land in out.
type fakeConn struct {
	in        chan []byte
	out       chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.in:
		return 1, data, nil
	case <-f.closed:
		return 0, nil, errConnClosed
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-f.closed:
		return errConnClosed
	default:
	}
	cp := append([]byte(nil), data...)
	select {
	case f.out <- cp:
		return nil
	default:
		return errors.New("fake conn output full")
	}
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) send(t *testing.T, typ EventType, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", typ, err)
	}
	frame, _ := json.Marshal(Envelope{Type: typ, Data: raw})
	f.in <- frame
}

// next returns the next frame the server wrote.
func (f *fakeConn) next(t *testing.T) Envelope {
	t.Helper()
	select {
	case data := <-f.out:
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("decode frame %s: %v", data, err)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return Envelope{}
	}
}

// nextOf skips frames until one of type typ arrives.
func (f *fakeConn) nextOf(t *testing.T, typ EventType) Envelope {
	t.Helper()
	for {
		if env := f.next(t); env.Type == typ {
			return env
		}
	}
}

func (f *fakeConn) nextStatus(t *testing.T, userID string, status models.Status) StatusChangeEvent {
	t.Helper()
	for {
		env := f.nextOf(t, EventUserStatusChange)
		var ev StatusChangeEvent
		decode(t, env, &ev)
		if ev.UserID == userID && ev.Status == status {
			return ev
		}
	}
}

func decode(t *testing.T, env Envelope, v any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode %s data %s: %v", env.Type, env.Data, err)
	}
}

type memMessages struct {
	mu   sync.Mutex
	msgs []models.Message
	err  error
}

func (m *memMessages) InsertMessage(_ context.Context, msg models.Message) (models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return models.Message{}, m.err
	}
	m.msgs = append(m.msgs, msg)
	return msg, nil
}

func (m *memMessages) all() []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Message(nil), m.msgs...)
}

// memContacts holds summaries keyed by owner->contact; only known pairs update.
type memContacts struct {
	mu        sync.Mutex
	summaries map[[2]string]*models.LastMessage
	err       error
}

func newMemContacts(pairs ...[2]string) *memContacts {
	c := &memContacts{summaries: make(map[[2]string]*models.LastMessage)}
	for _, p := range pairs {
		c.summaries[p] = nil
	}
	return c
}

func (c *memContacts) UpdateLastMessage(_ context.Context, userID, contactID string, summary models.LastMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	key := [2]string{userID, contactID}
	if _, ok := c.summaries[key]; !ok {
		return store.ErrNotFound
	}
	s := summary
	c.summaries[key] = &s
	return nil
}

func (c *memContacts) summary(userID, contactID string) *models.LastMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summaries[[2]string{userID, contactID}]
}

type statusWrite struct {
	UserID string
	Status models.Status
}

type memUsers struct {
	mu     sync.Mutex
	writes []statusWrite
	// gate, when set, holds every write until it is closed
	gate chan struct{}
}

func (u *memUsers) UpdateStatus(_ context.Context, userID string, status models.Status, _ time.Time) error {
	if u.gate != nil {
		<-u.gate
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.writes = append(u.writes, statusWrite{UserID: userID, Status: status})
	return nil
}

func (u *memUsers) history(userID string) []models.Status {
	u.mu.Lock()
	defer u.mu.Unlock()
	var out []models.Status
	for _, w := range u.writes {
		if w.UserID == userID {
			out = append(out, w.Status)
		}
	}
	return out
}

func (u *memUsers) count(userID string, status models.Status) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, w := range u.writes {
		if w.UserID == userID && w.Status == status {
			n++
		}
	}
	return n
}
