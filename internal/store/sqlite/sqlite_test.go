package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/courier/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUsers(t *testing.T, s *SQLiteStore, names ...string) []*store.User {
	t.Helper()
	users := make([]*store.User, 0, len(names))
	for _, name := range names {
		u := &store.User{Username: name, PasswordHash: "hash"}
		require.NoError(t, s.CreateUser(context.Background(), u))
		users = append(users, u)
	}
	return users
}

func seedConversation(t *testing.T, s *SQLiteStore, creator string, participants ...string) *store.Conversation {
	t.Helper()
	conv := &store.Conversation{
		Participants: append([]string{creator}, participants...),
		Type:         store.ConversationGroup,
		CreatedBy:    creator,
	}
	require.NoError(t, s.CreateConversation(context.Background(), conv))
	return conv
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, "bob", "alice")

	got, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, users[1].ID, got.ID)
	require.Equal(t, "alice", got.DisplayName)
	require.Equal(t, store.RoleUser, got.Role)

	_, err = s.GetUserByID(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	err = s.CreateUser(ctx, &store.User{Username: "alice"})
	require.ErrorIs(t, err, store.ErrConflict)

	list, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "alice", list[0].Username)

	byIDs, err := s.GetUsersByIDs(ctx, []string{users[0].ID, "missing"})
	require.NoError(t, err)
	require.Len(t, byIDs, 1)
}

func TestParticipantsAreDeduplicated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, "alice", "bob", "carol")

	conv := &store.Conversation{
		Participants: []string{users[0].ID, users[1].ID, users[1].ID},
		Type:         store.ConversationPrivate,
		CreatedBy:    users[0].ID,
	}
	require.NoError(t, s.CreateConversation(ctx, conv))
	require.Equal(t, []string{users[0].ID, users[1].ID}, conv.Participants)

	added, err := s.AddParticipant(ctx, conv.ID, users[2].ID)
	require.NoError(t, err)
	require.True(t, added)

	for range 3 {
		added, err = s.AddParticipant(ctx, conv.ID, users[2].ID)
		require.NoError(t, err)
		require.False(t, added)
	}

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, []string{users[0].ID, users[1].ID, users[2].ID}, got.Participants)

	ok, err := s.IsParticipant(ctx, conv.ID, users[2].ID)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.AddParticipant(ctx, "missing", users[2].ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAppendMessageAdvancesProjection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, "alice", "bob")
	conv := seedConversation(t, s, users[0].ID, users[1].ID)

	msg := &store.Message{ConversationID: conv.ID, SenderID: users[1].ID, Content: "hello"}
	require.NoError(t, s.AppendMessage(ctx, msg))
	require.Equal(t, []string{users[1].ID}, msg.ReadBy)
	require.Equal(t, store.MessageText, msg.Type)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastMessageID)
	require.Equal(t, msg.ID, *got.LastMessageID)
	require.False(t, got.UpdatedAt.Before(msg.CreatedAt))

	err = s.AppendMessage(ctx, &store.Message{ConversationID: "missing", SenderID: users[0].ID, Content: "x"})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestProjectionIgnoresOlderMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, "alice", "bob")
	conv := seedConversation(t, s, users[0].ID, users[1].ID)

	future := time.Now().Add(time.Hour).UnixNano()
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_message_id = 'newer', last_message_at = ?, updated_at = ? WHERE id = ?`,
		future, future, conv.ID)
	require.NoError(t, err)

	msg := &store.Message{ConversationID: conv.ID, SenderID: users[0].ID, Content: "late"}
	require.NoError(t, s.AppendMessage(ctx, msg))

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, "newer", *got.LastMessageID)
	require.Equal(t, future, got.UpdatedAt.UnixNano())
}

func TestConcurrentAppendsConvergeOnLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, "alice", "bob")
	conv := seedConversation(t, s, users[0].ID, users[1].ID)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		msgs []*store.Message
	)
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := &store.Message{ConversationID: conv.ID, SenderID: users[i%2].ID, Content: fmt.Sprintf("m%d", i)}
			if err := s.AppendMessage(ctx, m); err != nil {
				t.Errorf("append: %v", err)
				return
			}
			mu.Lock()
			msgs = append(msgs, m)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	latest := msgs[0]
	for _, m := range msgs {
		if m.CreatedAt.After(latest.CreatedAt) {
			latest = m
		}
	}

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, latest.ID, *got.LastMessageID)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, "alice", "bob")
	conv := seedConversation(t, s, users[0].ID, users[1].ID)

	var ids []string
	for i := range 3 {
		m := &store.Message{ConversationID: conv.ID, SenderID: users[1].ID, Content: fmt.Sprintf("m%d", i)}
		require.NoError(t, s.AppendMessage(ctx, m))
		ids = append(ids, m.ID)
	}

	n, err := s.MarkRead(ctx, conv.ID, users[0].ID, ids[:1])
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = s.MarkRead(ctx, conv.ID, users[0].ID, nil)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = s.MarkRead(ctx, conv.ID, users[0].ID, nil)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = s.MarkRead(ctx, conv.ID, users[1].ID, ids)
	require.NoError(t, err)
	require.Zero(t, n, "sender already read its own messages")

	msgs, err := s.GetMessagesByIDs(ctx, ids)
	require.NoError(t, err)
	for _, m := range msgs {
		require.ElementsMatch(t, []string{users[0].ID, users[1].ID}, m.ReadBy)
	}
}

func TestListMessagesBeforeExhaustsHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, "alice", "bob")
	conv := seedConversation(t, s, users[0].ID, users[1].ID)

	const total = 23
	for i := range total {
		m := &store.Message{ConversationID: conv.ID, SenderID: users[i%2].ID, Content: fmt.Sprintf("m%d", i)}
		require.NoError(t, s.AppendMessage(ctx, m))
	}

	seen := make(map[string]struct{})
	var (
		before *time.Time
		prev   time.Time
	)
	for pages := 0; ; pages++ {
		require.Less(t, pages, total, "pagination did not terminate")
		page, err := s.ListMessages(ctx, conv.ID, store.MessageQuery{Limit: 5, Before: before})
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			if before != nil {
				require.True(t, m.CreatedAt.Before(*before))
			}
			if !prev.IsZero() {
				require.True(t, m.CreatedAt.Before(prev), "messages must be newest first")
			}
			prev = m.CreatedAt
			_, dup := seen[m.ID]
			require.False(t, dup, "duplicate message %s", m.ID)
			seen[m.ID] = struct{}{}
		}
		oldest := page[len(page)-1].CreatedAt
		before = &oldest
	}
	require.Len(t, seen, total)

	offsetPage, err := s.ListMessages(ctx, conv.ID, store.MessageQuery{Limit: 5, Offset: 20})
	require.NoError(t, err)
	require.Len(t, offsetPage, 3)
}

func TestListMessagesBeforeOutOfNanosecondRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, "alice", "bob")
	conv := seedConversation(t, s, users[0].ID, users[1].ID)

	for i := range 3 {
		m := &store.Message{ConversationID: conv.ID, SenderID: users[0].ID, Content: fmt.Sprintf("m%d", i)}
		require.NoError(t, s.AppendMessage(ctx, m))
	}

	for _, tc := range []struct {
		name   string
		before time.Time
		want   int
	}{
		{"year 2100", time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC), 3},
		{"year 2300", time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC), 3},
		{"year 9999", time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC), 3},
		{"year 1600", time.Date(1600, 1, 1, 0, 0, 0, 0, time.UTC), 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			before := tc.before
			page, err := s.ListMessages(ctx, conv.ID, store.MessageQuery{Limit: 10, Before: &before})
			require.NoError(t, err)
			require.Len(t, page, tc.want)
		})
	}
}

func TestListConversationsOrdersByActivity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, "alice", "bob", "carol")
	first := seedConversation(t, s, users[0].ID, users[1].ID)
	second := seedConversation(t, s, users[0].ID, users[2].ID)
	seedConversation(t, s, users[1].ID, users[2].ID)

	require.NoError(t, s.AppendMessage(ctx, &store.Message{ConversationID: first.ID, SenderID: users[0].ID, Content: "bump"}))

	convs, err := s.ListConversations(ctx, users[0].ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	require.Equal(t, first.ID, convs[0].ID)
	require.Equal(t, second.ID, convs[1].ID)
	require.Len(t, convs[0].Participants, 2)

	convs, err = s.ListConversations(ctx, users[0].ID, 1, 1)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, second.ID, convs[0].ID)

	_, err = s.GetConversation(ctx, "missing")
	require.True(t, errors.Is(err, store.ErrNotFound))
}
