package core

import (
	"github.com/rs/zerolog"
)

// Router delivers events to the connections of a room. Delivery is best effort:
// a full client buffer drops the event for that client only.
type Router struct {
	registry Registry
	log      *zerolog.Logger
}

// NewRouter creates a router over registry.
func NewRouter(registry Registry, logger *zerolog.Logger) *Router {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "router").Logger()
	return &Router{registry: registry, log: &l}
}

// Registry returns the registry the router reads memberships from.
func (r *Router) Registry() Registry {
	return r.registry
}

// Broadcast delivers ev to every member of room and returns how many accepted it.
func (r *Router) Broadcast(room RoomKey, ev *Event) int {
	return r.BroadcastExcept(room, ev, nil)
}

// BroadcastExcept delivers ev to every member of room other than except.
func (r *Router) BroadcastExcept(room RoomKey, ev *Event, except *Client) int {
	if room.IsZero() || ev == nil {
		return 0
	}
	if ev.Room != room {
		ev.Room = room
	}
	return r.deliver(r.registry.Members(room), ev, except)
}

// BroadcastAll delivers ev to every live connection.
func (r *Router) BroadcastAll(ev *Event) int {
	if ev == nil {
		return 0
	}
	return r.deliver(r.registry.All(), ev, nil)
}

// Send delivers ev to a single connection.
func (r *Router) Send(c *Client, ev *Event) bool {
	if c == nil || ev == nil {
		return false
	}
	return r.deliver([]*Client{c}, ev, nil) == 1
}

func (r *Router) deliver(targets []*Client, ev *Event, except *Client) int {
	delivered := 0
	for _, c := range targets {
		if c == except {
			continue
		}
		if c.Send(ev) {
			delivered++
			continue
		}
		r.log.Debug().
			Str("conn_id", c.ID).
			Str("user_id", c.UserID).
			Str("event", ev.Name).
			Str("room", ev.Room.String()).
			Msg("event dropped")
	}
	return delivered
}
