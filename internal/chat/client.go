package chat

import (
	"sync"
	"sync/atomic"

	"github.com/gofiber/contrib/websocket"

	"github.com/pelusa-v/pelusa-chat.git/internal/models"
)

// ConnLike is the slice of a websocket connection the hub needs.
type ConnLike interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	Close() error
}

type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client is one live connection of an authenticated user.
type Client struct {
	Id   string
	User models.Identity
	Conn ConnLike

	send      chan []byte
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	state     atomic.Int32
}

func newClient(id string, user models.Identity, conn ConnLike, buffer int) *Client {
	return &Client{
		Id:   id,
		User: user,
		Conn: conn,
		send:    make(chan []byte, buffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

// enqueue never blocks: a closed client or a full queue drops the frame.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close stops WritePump. send is never closed so late enqueues cannot panic.
func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// WritePump is the only writer on Conn, so frames leave in queue order.
// stopped is closed when it returns; after that Conn is never written again.
func (c *Client) WritePump() {
	defer close(c.stopped)
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			// select picks randomly when both are ready
			select {
			case <-c.done:
				return
			default:
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				// unblock the reader so the lifecycle cleanup runs
				_ = c.Conn.Close()
				return
			}
		}
	}
}
