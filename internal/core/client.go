package core

import "sync"

// DefaultEventBuffer is used when NewClient gets a non-positive buffer size.
const DefaultEventBuffer = 64

// Identity is the authenticated user bound to a connection.
type Identity struct {
	UserID      string
	Username    string
	DisplayName string
	Role        string
}

// Client is a live connection as seen by the core layer.
// Identity is fixed at construction. Events is never closed; watch Done instead.
type Client struct {
	ID string
	Identity

	Events chan *Event

	done       chan struct{}
	kickOnce   sync.Once
	kickReason string

	mu         sync.Mutex
	registered bool
	rooms      map[RoomKey]struct{}
}

// NewClient constructs a client with an event buffer of the given size.
func NewClient(id string, identity Identity, buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	if identity.DisplayName == "" {
		identity.DisplayName = identity.Username
	}
	return &Client{
		ID:       id,
		Identity: identity,
		Events:   make(chan *Event, buffer),
		done:     make(chan struct{}),
		rooms:    make(map[RoomKey]struct{}),
	}
}

// Send enqueues ev without blocking. It returns false when the buffer is full
// or the client was kicked.
func (c *Client) Send(ev *Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Events <- ev:
		return true
	default:
		return false
	}
}

// Kick asks the transport to close the connection. Safe to call more than once.
func (c *Client) Kick(reason string) {
	c.kickOnce.Do(func() {
		c.kickReason = reason
		close(c.done)
	})
}

// Done is closed once the client has been kicked.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// KickReason returns the reason passed to the first Kick call.
func (c *Client) KickReason() string {
	select {
	case <-c.done:
		return c.kickReason
	default:
		return ""
	}
}

// InRoom reports whether the client has joined room.
func (c *Client) InRoom(room RoomKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[room]
	return ok
}

// Rooms returns a snapshot of the joined rooms.
func (c *Client) Rooms() []RoomKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]RoomKey, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	return out
}
