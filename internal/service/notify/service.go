package notify

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/courier/internal/core"
	"github.com/vovakirdan/courier/internal/proto"
	"github.com/vovakirdan/courier/internal/utils"
)

const defaultNotificationType = "info"

// Router is the subset of *core.Router the fan-out needs.
type Router interface {
	Broadcast(room core.RoomKey, ev *core.Event) int
	BroadcastAll(ev *core.Event) int
}

// Connections lists the live connections of a user.
type Connections interface {
	ConnectionsOf(userID string) []*core.Client
}

// Service pushes account and system events to users. It knows nothing about conversations.
type Service struct {
	router Router
	conns  Connections
	now    func() time.Time
	log    *zerolog.Logger
}

// New creates the notification fan-out.
func New(router Router, conns Connections, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "notify").Logger()
	return &Service{router: router, conns: conns, now: time.Now, log: &l}
}

// SendToUser delivers an event to every live connection of userID and returns how many accepted it.
func (s *Service) SendToUser(userID, event string, payload any) int {
	n := s.router.Broadcast(core.UserRoom(userID), core.NewEvent(event, payload))
	s.log.Debug().Str("user_id", userID).Str("event", event).Int("delivered", n).Msg("sent to user")
	return n
}

// SendToAll delivers an event to every live connection.
func (s *Service) SendToAll(event string, payload any) int {
	n := s.router.BroadcastAll(core.NewEvent(event, payload))
	s.log.Debug().Str("event", event).Int("delivered", n).Msg("sent to all")
	return n
}

// DisconnectUser asks every live connection of userID to close once its queued
// events are written. It returns how many connections were signalled.
func (s *Service) DisconnectUser(userID, reason string) int {
	conns := s.conns.ConnectionsOf(userID)
	for _, c := range conns {
		c.Kick(reason)
	}
	if len(conns) > 0 {
		s.log.Info().Str("user_id", userID).Int("connections", len(conns)).Str("reason", reason).Msg("user disconnected")
	}
	return len(conns)
}

// SystemNotification builds and sends an announcement. An empty userID targets everyone.
func (s *Service) SystemNotification(userID, title, message, kind string) proto.SystemNotification {
	if strings.TrimSpace(kind) == "" {
		kind = defaultNotificationType
	}
	n := proto.SystemNotification{
		ID:        utils.NewID(),
		Title:     title,
		Message:   message,
		Type:      kind,
		Audience:  proto.AudienceAll,
		CreatedAt: s.now().UTC(),
	}
	if userID != "" {
		n.Audience = proto.AudienceUser
		s.SendToUser(userID, core.EventSystemNotification, n)
		return n
	}
	s.SendToAll(core.EventSystemNotification, n)
	return n
}

// ForceLogout tells every connection of userID that its session has ended.
func (s *Service) ForceLogout(userID, message string) int {
	return s.SendToUser(userID, core.EventForceLogout, proto.ForceLogout{Message: message})
}

// ListingStatusChanged notifies a listing owner about a moderation decision.
func (s *Service) ListingStatusChanged(ownerID, listingID, status string) int {
	return s.SendToUser(ownerID, core.EventListingStatusChanged, proto.ListingStatusChanged{
		ListingID: listingID,
		Status:    status,
	})
}
