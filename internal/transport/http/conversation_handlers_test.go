package http

import (
	stdhttp "net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/courier/internal/store"
)

func TestConversationLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "alice", store.RoleUser)
	env.addUser(t, "bob", store.RoleUser)

	var created ConversationResponse
	status := env.do(t, "alice", stdhttp.MethodPost, "/conversations", CreateConversationRequest{
		ParticipantIDs: []string{env.id("bob"), env.id("bob")},
	}, &created)
	require.Equal(t, stdhttp.StatusCreated, status)
	require.Equal(t, "private", created.Conversation.Type)
	require.Len(t, created.Conversation.Participants, 2)
	require.Nil(t, created.Conversation.LastMessage)
	convID := created.Conversation.ID

	var sent MessageResponse
	status = env.do(t, "bob", stdhttp.MethodPost, "/conversations/"+convID+"/messages", SendMessageRequest{Content: "hello"}, &sent)
	require.Equal(t, stdhttp.StatusCreated, status)
	require.Equal(t, "hello", sent.Message.Content)
	require.Equal(t, "text", sent.Message.Type)
	require.Equal(t, []string{env.id("bob")}, sent.Message.ReadBy)

	var listed ConversationsResponse
	status = env.do(t, "alice", stdhttp.MethodGet, "/conversations?page=1&limit=10", nil, &listed)
	require.Equal(t, stdhttp.StatusOK, status)
	require.Len(t, listed.Conversations, 1)
	require.NotNil(t, listed.Conversations[0].LastMessage)
	require.Equal(t, sent.Message.ID, listed.Conversations[0].LastMessage.ID)

	var marked MarkReadResponse
	status = env.do(t, "alice", stdhttp.MethodPut, "/conversations/"+convID+"/read", MarkReadRequest{}, &marked)
	require.Equal(t, stdhttp.StatusOK, status)
	require.Equal(t, 1, marked.UpdatedCount)

	status = env.do(t, "alice", stdhttp.MethodPut, "/conversations/"+convID+"/read", nil, &marked)
	require.Equal(t, stdhttp.StatusOK, status)
	require.Zero(t, marked.UpdatedCount)

	var history MessagesResponse
	status = env.do(t, "alice", stdhttp.MethodGet, "/conversations/"+convID+"/messages", nil, &history)
	require.Equal(t, stdhttp.StatusOK, status)
	require.Len(t, history.Messages, 1)
	require.ElementsMatch(t, []string{env.id("alice"), env.id("bob")}, history.Messages[0].ReadBy)
}

func TestListMessagesBefore(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "alice", store.RoleUser)
	env.addUser(t, "bob", store.RoleUser)

	var created ConversationResponse
	env.do(t, "alice", stdhttp.MethodPost, "/conversations", CreateConversationRequest{ParticipantIDs: []string{env.id("bob")}}, &created)
	path := "/conversations/" + created.Conversation.ID + "/messages"
	for _, text := range []string{"one", "two", "three"} {
		require.Equal(t, stdhttp.StatusCreated, env.do(t, "alice", stdhttp.MethodPost, path, SendMessageRequest{Content: text}, nil))
	}

	var page MessagesResponse
	require.Equal(t, stdhttp.StatusOK, env.do(t, "bob", stdhttp.MethodGet, path+"?limit=2", nil, &page))
	require.Len(t, page.Messages, 2)
	require.Equal(t, "three", page.Messages[0].Content)
	require.Equal(t, "two", page.Messages[1].Content)

	cursor := page.Messages[1].CreatedAt.Format(time.RFC3339Nano)
	require.Equal(t, stdhttp.StatusOK, env.do(t, "bob", stdhttp.MethodGet, path+"?limit=2&before="+cursor, nil, &page))
	require.Len(t, page.Messages, 1)
	require.Equal(t, "one", page.Messages[0].Content)

	require.Equal(t, stdhttp.StatusOK, env.do(t, "bob", stdhttp.MethodGet, path+"?before=9999-12-31T23:59:59Z", nil, &page))
	require.Len(t, page.Messages, 3)
	require.Equal(t, "three", page.Messages[0].Content)

	require.Equal(t, stdhttp.StatusBadRequest, env.do(t, "bob", stdhttp.MethodGet, path+"?before=yesterday", nil, nil))
}

func TestAddParticipantRequiresMembership(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "alice", store.RoleUser)
	env.addUser(t, "bob", store.RoleUser)
	env.addUser(t, "carol", store.RoleUser)
	env.addUser(t, "dave", store.RoleUser)

	var created ConversationResponse
	env.do(t, "alice", stdhttp.MethodPost, "/conversations", CreateConversationRequest{
		ParticipantIDs: []string{env.id("bob"), env.id("carol")},
		Type:           "group",
	}, &created)
	convID := created.Conversation.ID

	status := env.do(t, "dave", stdhttp.MethodPost, "/conversations/"+convID+"/participants", AddParticipantRequest{ParticipantID: env.id("dave")}, nil)
	require.Equal(t, stdhttp.StatusForbidden, status)

	var conv ConversationResponse
	require.Equal(t, stdhttp.StatusOK, env.do(t, "alice", stdhttp.MethodGet, "/conversations/"+convID, nil, &conv))
	require.Len(t, conv.Conversation.Participants, 3)

	status = env.do(t, "alice", stdhttp.MethodPost, "/conversations/"+convID+"/participants", AddParticipantRequest{ParticipantID: "nobody"}, nil)
	require.Equal(t, stdhttp.StatusNotFound, status)

	status = env.do(t, "alice", stdhttp.MethodPost, "/conversations/"+convID+"/participants", AddParticipantRequest{ParticipantID: env.id("dave")}, &conv)
	require.Equal(t, stdhttp.StatusOK, status)
	require.Len(t, conv.Conversation.Participants, 4)
}

func TestCreateConversationValidation(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "alice", store.RoleUser)
	env.addUser(t, "bob", store.RoleUser)
	env.addUser(t, "carol", store.RoleUser)

	status := env.do(t, "alice", stdhttp.MethodPost, "/conversations", CreateConversationRequest{}, nil)
	require.Equal(t, stdhttp.StatusBadRequest, status)

	status = env.do(t, "alice", stdhttp.MethodPost, "/conversations", CreateConversationRequest{
		ParticipantIDs: []string{env.id("bob"), env.id("carol")},
		Type:           "private",
	}, nil)
	require.Equal(t, stdhttp.StatusBadRequest, status)
}
