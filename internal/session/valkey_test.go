package session

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/courier/internal/utils"
)

// Set COURIER_TEST_VALKEY_ADDR (e.g. localhost:6379) to run against a real server.
func TestValkeyStore(t *testing.T) {
	addr := os.Getenv("COURIER_TEST_VALKEY_ADDR")
	if addr == "" {
		t.Skip("COURIER_TEST_VALKEY_ADDR not set")
	}

	req := require.New(t)
	ctx := t.Context()
	v, err := NewValkeyStore(ValkeyOptions{Addr: addr})
	req.NoError(err)
	t.Cleanup(func() { _ = v.Close() })

	userID := "u-" + utils.NewID()
	t1, t2 := utils.NewID(), utils.NewID()

	req.NoError(v.Put(ctx, &Session{Token: t1, UserID: userID, Username: "bob"}, time.Minute))
	req.NoError(v.Put(ctx, &Session{Token: t2, UserID: userID, Username: "bob"}, time.Minute))

	s, err := v.Get(ctx, t1)
	req.NoError(err)
	req.Equal("bob", s.Username)

	req.NoError(v.Delete(ctx, t1))
	_, err = v.Get(ctx, t1)
	req.ErrorIs(err, ErrNotFound)

	n, err := v.DeleteUser(ctx, userID)
	req.NoError(err)
	req.Equal(1, n)
	_, err = v.Get(ctx, t2)
	req.ErrorIs(err, ErrNotFound)
}
