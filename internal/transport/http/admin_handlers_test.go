package http

import (
	"context"
	"encoding/json"
	"errors"
	stdhttp "net/http"
	"testing"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/courier/internal/core"
	"github.com/vovakirdan/courier/internal/proto"
	"github.com/vovakirdan/courier/internal/session"
	"github.com/vovakirdan/courier/internal/store"
)

func TestAdminRoutesRequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "bob", store.RoleUser)

	require.Equal(t, stdhttp.StatusUnauthorized, env.do(t, "", stdhttp.MethodGet, "/admin/connections", nil, nil))
	require.Equal(t, stdhttp.StatusForbidden, env.do(t, "bob", stdhttp.MethodGet, "/admin/connections", nil, nil))
	require.Equal(t, stdhttp.StatusForbidden, env.do(t, "bob", stdhttp.MethodPost, "/admin/users/"+env.id("bob")+"/ban", nil, nil))
}

func TestAdminNotificationAudience(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "root", store.RoleAdmin)
	env.addUser(t, "bob", store.RoleUser)
	env.addUser(t, "carol", store.RoleUser)

	bob := env.dial(t, "bob")
	carol := env.dial(t, "carol")
	env.waitConnections(t, 2)

	var connections ConnectionsResponse
	require.Equal(t, stdhttp.StatusOK, env.do(t, "root", stdhttp.MethodGet, "/admin/connections", nil, &connections))
	require.Equal(t, 2, connections.Connections)

	var resp NotificationResponse
	status := env.do(t, "root", stdhttp.MethodPost, "/admin/notifications", NotificationRequest{
		Title:   "Maintenance",
		Message: "Back in five",
	}, &resp)
	require.Equal(t, stdhttp.StatusAccepted, status)
	require.Equal(t, proto.AudienceAll, resp.Notification.Audience)
	require.Equal(t, "info", resp.Notification.Type)

	for _, conn := range []*websocket.Conn{bob, carol} {
		ev := read(t, conn)
		require.Equal(t, core.EventSystemNotification, ev.Event)
		require.Empty(t, ev.Room)
		var n proto.SystemNotification
		require.NoError(t, json.Unmarshal(ev.Data, &n))
		require.Equal(t, resp.Notification.ID, n.ID)
	}

	status = env.do(t, "root", stdhttp.MethodPost, "/admin/notifications", NotificationRequest{
		Title:   "Hi",
		Message: "Only you",
		UserID:  env.id("bob"),
	}, &resp)
	require.Equal(t, stdhttp.StatusAccepted, status)
	require.Equal(t, proto.AudienceUser, resp.Notification.Audience)

	ev := read(t, bob)
	require.Equal(t, core.EventSystemNotification, ev.Event)
	require.Equal(t, core.UserRoom(env.id("bob")).String(), ev.Room)
	expectNothing(t, carol)
}

func TestAdminListingStatus(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "root", store.RoleAdmin)
	env.addUser(t, "owner", store.RoleUser)

	conn := env.dial(t, "owner")
	env.waitConnections(t, 1)

	status := env.do(t, "root", stdhttp.MethodPost, "/admin/listings/listing-7/status", ListingStatusRequest{
		OwnerID: env.id("owner"),
		Status:  "approved",
	}, nil)
	require.Equal(t, stdhttp.StatusAccepted, status)

	ev := read(t, conn)
	require.Equal(t, core.EventListingStatusChanged, ev.Event)
	var payload proto.ListingStatusChanged
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	require.Equal(t, proto.ListingStatusChanged{ListingID: "listing-7", Status: "approved"}, payload)

	require.Equal(t, stdhttp.StatusBadRequest, env.do(t, "root", stdhttp.MethodPost, "/admin/listings/listing-7/status", ListingStatusRequest{}, nil))
}

// revokeFails is a session store whose bulk revocation is down.
type revokeFails struct {
	*session.MemoryStore
}

func (revokeFails) DeleteUser(context.Context, string) (int, error) {
	return 0, errors.New("session backend unavailable")
}

func TestBanKeepsConnectionsWhenRevocationFails(t *testing.T) {
	env := newTestEnvWithSessions(t, revokeFails{session.NewMemoryStore()})
	env.addUser(t, "root", store.RoleAdmin)
	env.addUser(t, "bob", store.RoleUser)

	conn := env.dial(t, "bob")
	env.waitConnections(t, 1)

	status := env.do(t, "root", stdhttp.MethodPost, "/admin/users/"+env.id("bob")+"/ban", BanRequest{Message: "bye"}, nil)
	require.Equal(t, stdhttp.StatusInternalServerError, status)

	require.Equal(t, 1, env.registry.Count())
	require.Equal(t, stdhttp.StatusOK, env.do(t, "bob", stdhttp.MethodGet, "/auth/me", nil, nil))
	expectNothing(t, conn)
}
