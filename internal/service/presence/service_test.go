package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/courier/internal/core"
	"github.com/vovakirdan/courier/internal/proto"
)

type fakeReads struct {
	changed int
	err     error
	calls   int
}

func (f *fakeReads) MarkMessageRead(context.Context, string, string, string) (int, error) {
	f.calls++
	return f.changed, f.err
}

func setup(t *testing.T, reads ReadMarker) (*Service, *core.Client, *core.Client, *core.Client) {
	t.Helper()
	reg := core.NewRegistry()
	svc := New(core.NewRouter(reg, nil), reads, nil)

	alice := core.NewClient("a", core.Identity{UserID: "alice", Username: "alice"}, 8)
	bob := core.NewClient("b", core.Identity{UserID: "bob", Username: "bob"}, 8)
	aliceTab2 := core.NewClient("a2", core.Identity{UserID: "alice", Username: "alice"}, 8)
	for _, c := range []*core.Client{alice, bob, aliceTab2} {
		require.NoError(t, reg.Register(c))
		require.NoError(t, reg.Join(c, core.ConversationRoom("c1")))
	}
	return svc, alice, bob, aliceTab2
}

func recv(t *testing.T, c *core.Client) *core.Event {
	t.Helper()
	select {
	case ev := <-c.Events:
		return ev
	case <-time.After(time.Second):
		t.Fatalf("no event for %s", c.ID)
		return nil
	}
}

func empty(t *testing.T, c *core.Client) {
	t.Helper()
	select {
	case ev := <-c.Events:
		t.Fatalf("unexpected event for %s: %+v", c.ID, ev)
	default:
	}
}

func TestTypingExcludesSenderConnection(t *testing.T) {
	svc, alice, bob, aliceTab2 := setup(t, &fakeReads{})

	require.NoError(t, svc.Typing(alice, "c1"))

	ev := recv(t, bob)
	require.Equal(t, core.EventTyping, ev.Name)
	require.Equal(t, proto.TypingPayload{ConversationID: "c1", UserID: "alice", Username: "alice", DisplayName: "alice"}, ev.Payload)
	// Only the sending connection is excluded, not the user's other tabs.
	require.Equal(t, core.EventTyping, recv(t, aliceTab2).Name)
	empty(t, alice)

	require.NoError(t, svc.StopTyping(alice, "c1"))
	require.Equal(t, core.EventStopTyping, recv(t, bob).Name)
}

func TestTypingRequiresJoin(t *testing.T) {
	svc, alice, _, _ := setup(t, &fakeReads{})

	require.ErrorIs(t, svc.Typing(alice, "other"), core.ErrNotInRoom)
	require.ErrorIs(t, svc.StopTyping(alice, ""), core.ErrInvalidArgument)
}

func TestMessageReadPersistsThenEmits(t *testing.T) {
	reads := &fakeReads{changed: 1}
	svc, alice, bob, _ := setup(t, reads)

	require.NoError(t, svc.MessageRead(context.Background(), bob, "c1", "m1"))
	require.Equal(t, 1, reads.calls)

	ev := recv(t, alice)
	require.Equal(t, core.EventMessageRead, ev.Name)
	require.Equal(t, proto.MessageReadPayload{ConversationID: "c1", MessageID: "m1", ReaderID: "bob"}, ev.Payload)
	empty(t, bob)
}

func TestMessageReadSkipsEventWhenUnchanged(t *testing.T) {
	svc, alice, bob, _ := setup(t, &fakeReads{changed: 0})

	require.NoError(t, svc.MessageRead(context.Background(), bob, "c1", "m1"))
	empty(t, alice)
}

func TestMessageReadPropagatesErrors(t *testing.T) {
	svc, alice, bob, _ := setup(t, &fakeReads{err: core.ErrForbidden})

	require.ErrorIs(t, svc.MessageRead(context.Background(), bob, "c1", "m1"), core.ErrForbidden)
	empty(t, alice)
}
