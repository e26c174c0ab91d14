package mongodb

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/vovakirdan/courier/internal/store"
	"github.com/vovakirdan/courier/internal/utils"
)

// Set COURIER_TEST_MONGO_URI (e.g. mongodb://localhost:27017) to run against a real server.
func newTestStore(t *testing.T) *MongoStore {
	t.Helper()
	uri := os.Getenv("COURIER_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("COURIER_TEST_MONGO_URI not set")
	}

	dbName := "courier_test_" + utils.NewID()[:8]
	s, err := Open(t.Context(), uri, dbName, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.client.Database(dbName).Drop(ctx)
		_ = s.Close()
	})
	return s
}

func TestMongoProjectionAndReads(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	alice := &store.User{Username: "alice"}
	bob := &store.User{Username: "bob"}
	require.NoError(t, s.CreateUser(ctx, alice))
	require.NoError(t, s.CreateUser(ctx, bob))
	require.ErrorIs(t, s.CreateUser(ctx, &store.User{Username: "alice"}), store.ErrConflict)

	conv := &store.Conversation{
		Participants: []string{alice.ID, bob.ID, bob.ID},
		Type:         store.ConversationPrivate,
		CreatedBy:    alice.ID,
	}
	require.NoError(t, s.CreateConversation(ctx, conv))
	require.Len(t, conv.Participants, 2)

	added, err := s.AddParticipant(ctx, conv.ID, bob.ID)
	require.NoError(t, err)
	require.False(t, added)

	var last *store.Message
	for i := range 4 {
		last = &store.Message{ConversationID: conv.ID, SenderID: bob.ID, Content: fmt.Sprintf("m%d", i)}
		require.NoError(t, s.AppendMessage(ctx, last))
	}

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, last.ID, *got.LastMessageID)
	require.False(t, got.UpdatedAt.Before(last.CreatedAt))

	n, err := s.MarkRead(ctx, conv.ID, alice.ID, nil)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	n, err = s.MarkRead(ctx, conv.ID, alice.ID, nil)
	require.NoError(t, err)
	require.Zero(t, n)

	before := last.CreatedAt
	page, err := s.ListMessages(ctx, conv.ID, store.MessageQuery{Limit: 10, Before: &before})
	require.NoError(t, err)
	require.Len(t, page, 3)
	for _, m := range page {
		require.True(t, m.CreatedAt.Before(before))
		require.ElementsMatch(t, []string{bob.ID, alice.ID}, m.ReadBy)
	}

	convs, err := s.ListConversations(ctx, alice.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, convs, 1)

	_, err = s.GetConversation(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestMongoAppendSucceedsWhenProjectionRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	var logs bytes.Buffer
	logger := zerolog.New(&logs)
	s.log = &logger

	alice := &store.User{Username: "alice"}
	require.NoError(t, s.CreateUser(ctx, alice))
	conv := &store.Conversation{Participants: []string{alice.ID}, Type: store.ConversationGroup, CreatedBy: alice.ID}
	require.NoError(t, s.CreateConversation(ctx, conv))

	// Reject any conversation document that carries a last message.
	require.NoError(t, s.conversations.Database().RunCommand(ctx, bson.D{
		{Key: "collMod", Value: conversationsCollection},
		{Key: "validator", Value: bson.M{"last_message_id": bson.M{"$exists": false}}},
		{Key: "validationAction", Value: "error"},
	}).Err())

	m := &store.Message{ConversationID: conv.ID, SenderID: alice.ID, Content: "hello"}
	require.NoError(t, s.AppendMessage(ctx, m))

	stored, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, "hello", stored.Content)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Nil(t, got.LastMessageID)
	require.Contains(t, logs.String(), "conversation projection not updated")
}
