package core

import (
	"fmt"
	"hash/fnv"
	"sync"
)

// Registry tracks live connections and their room memberships.
type Registry interface {
	// Register adds an authenticated client and joins it to its personal room.
	Register(c *Client) error
	// Unregister removes the client from every index and room. Idempotent.
	Unregister(c *Client)
	Join(c *Client, room RoomKey) error
	Leave(c *Client, room RoomKey) error
	// ConnectionsOf returns the live connections of a user.
	ConnectionsOf(userID string) []*Client
	Members(room RoomKey) []*Client
	All() []*Client
	Count() int
}

const shardCount = 64

type bucket struct {
	mu    sync.RWMutex
	rooms map[RoomKey]members
}

func (b *bucket) add(room RoomKey, c *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.rooms[room]
	if !ok {
		set = make(members)
		b.rooms[room] = set
	}
	set[c] = struct{}{}
}

func (b *bucket) remove(room RoomKey, c *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.rooms[room]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(b.rooms, room)
	}
}

func (b *bucket) members(room RoomKey) []*Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rooms[room].snapshot(nil)
}

// ShardedRegistry spreads room membership over fixed buckets keyed by room hash.
// Lock order is client, then bucket, then the connection index.
type ShardedRegistry struct {
	shards [shardCount]*bucket

	connMu sync.RWMutex
	conns  map[string]*Client
}

var _ Registry = (*ShardedRegistry)(nil)

// NewRegistry creates an empty sharded registry.
func NewRegistry() *ShardedRegistry {
	r := &ShardedRegistry{conns: make(map[string]*Client)}
	for i := range r.shards {
		r.shards[i] = &bucket{rooms: make(map[RoomKey]members)}
	}
	return r
}

func (r *ShardedRegistry) shard(room RoomKey) *bucket {
	h := fnv.New32a()
	_, _ = h.Write([]byte{byte(room.kind)})
	_, _ = h.Write([]byte(room.id))
	return r.shards[h.Sum32()%shardCount]
}

func (r *ShardedRegistry) Register(c *Client) error {
	if c == nil || c.UserID == "" {
		return ErrUnauthorized
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.registered {
		return nil
	}

	personal := UserRoom(c.UserID)
	r.shard(personal).add(personal, c)
	c.rooms[personal] = struct{}{}
	c.registered = true

	r.connMu.Lock()
	r.conns[c.ID] = c
	r.connMu.Unlock()
	return nil
}

func (r *ShardedRegistry) Unregister(c *Client) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.registered {
		return
	}

	for room := range c.rooms {
		r.shard(room).remove(room, c)
	}
	clear(c.rooms)
	c.registered = false

	r.connMu.Lock()
	if r.conns[c.ID] == c {
		delete(r.conns, c.ID)
	}
	r.connMu.Unlock()
}

func (r *ShardedRegistry) Join(c *Client, room RoomKey) error {
	if room.IsZero() {
		return fmt.Errorf("%w: empty room", ErrInvalidArgument)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.registered {
		return fmt.Errorf("%w: connection %s", ErrNotFound, c.ID)
	}
	if _, ok := c.rooms[room]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyJoined, room)
	}

	r.shard(room).add(room, c)
	c.rooms[room] = struct{}{}
	return nil
}

func (r *ShardedRegistry) Leave(c *Client, room RoomKey) error {
	if room == UserRoom(c.UserID) {
		return fmt.Errorf("%w: personal room cannot be left", ErrInvalidArgument)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[room]; !ok {
		return fmt.Errorf("%w: %s", ErrNotInRoom, room)
	}

	r.shard(room).remove(room, c)
	delete(c.rooms, room)
	return nil
}

func (r *ShardedRegistry) ConnectionsOf(userID string) []*Client {
	return r.Members(UserRoom(userID))
}

func (r *ShardedRegistry) Members(room RoomKey) []*Client {
	return r.shard(room).members(room)
}

func (r *ShardedRegistry) All() []*Client {
	r.connMu.RLock()
	defer r.connMu.RUnlock()
	out := make([]*Client, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

func (r *ShardedRegistry) Count() int {
	r.connMu.RLock()
	defer r.connMu.RUnlock()
	return len(r.conns)
}
