package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

const (
	sessionKeyPrefix     = "session:"
	userSessionKeyPrefix = "user_sessions:"
)

// ValkeyStore keeps sessions in Valkey/Redis so several server processes share them.
// Each user also has a set of its tokens so bans can revoke every session.
type ValkeyStore struct {
	client valkey.Client
}

var _ Store = (*ValkeyStore)(nil)

// ValkeyOptions configures NewValkeyStore.
type ValkeyOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewValkeyStore connects to a Valkey server.
func NewValkeyStore(opts ValkeyOptions) (*ValkeyStore, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{opts.Addr},
		Password:     opts.Password,
		SelectDB:     opts.DB,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect valkey: %w", err)
	}
	return &ValkeyStore{client: client}, nil
}

func sessionKey(token string) string { return sessionKeyPrefix + token }
func userKey(userID string) string   { return userSessionKeyPrefix + userID }

func (v *ValkeyStore) Get(ctx context.Context, token string) (*Session, error) {
	raw, err := v.client.Do(ctx, v.client.B().Get().Key(sessionKey(token)).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (v *ValkeyStore) Put(ctx context.Context, s *Session, ttl time.Duration) error {
	cp := *s
	if ttl > 0 {
		cp.ExpiresAt = time.Now().Add(ttl)
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	seconds := int64(ttl / time.Second)
	if seconds <= 0 {
		seconds = 1
	}

	cmds := valkey.Commands{
		v.client.B().Set().Key(sessionKey(s.Token)).Value(string(data)).ExSeconds(seconds).Build(),
	}
	if s.UserID != "" {
		cmds = append(cmds,
			v.client.B().Sadd().Key(userKey(s.UserID)).Member(s.Token).Build(),
			v.client.B().Expire().Key(userKey(s.UserID)).Seconds(seconds).Build(),
		)
	}
	for _, res := range v.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return fmt.Errorf("put session: %w", err)
		}
	}
	return nil
}

func (v *ValkeyStore) Delete(ctx context.Context, token string) error {
	s, err := v.Get(ctx, token)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	cmds := valkey.Commands{v.client.B().Del().Key(sessionKey(token)).Build()}
	if s != nil && s.UserID != "" {
		cmds = append(cmds, v.client.B().Srem().Key(userKey(s.UserID)).Member(token).Build())
	}
	for _, res := range v.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
	}
	return nil
}

func (v *ValkeyStore) DeleteUser(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, nil
	}
	tokens, err := v.client.Do(ctx, v.client.B().Smembers().Key(userKey(userID)).Build()).AsStrSlice()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("list user sessions: %w", err)
	}

	keys := make([]string, 0, len(tokens)+1)
	for _, t := range tokens {
		keys = append(keys, sessionKey(t))
	}
	keys = append(keys, userKey(userID))

	removed, err := v.client.Do(ctx, v.client.B().Del().Key(keys...).Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("delete user sessions: %w", err)
	}
	// the set key itself is counted by DEL when it existed
	if len(tokens) > 0 {
		removed--
	}
	return int(removed), nil
}

func (v *ValkeyStore) Close() error {
	v.client.Close()
	return nil
}
