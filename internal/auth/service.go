package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/courier/internal/core"
	"github.com/vovakirdan/courier/internal/session"
	"github.com/vovakirdan/courier/internal/store"
	"github.com/vovakirdan/courier/internal/utils"
)

var (
	// ErrInvalidCredentials is returned when username/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when creating a user with a taken username.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidUsername is returned when username doesn't meet constraints.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidPassword is returned when password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
)

// DefaultLookupTimeout bounds session lookups when Options.LookupTimeout is zero.
const DefaultLookupTimeout = 3 * time.Second

// Options configures Service.
type Options struct {
	Token         TokenConfig
	SessionTTL    time.Duration
	LookupTimeout time.Duration
}

// Service writes sessions on login and resolves them for HTTP and websocket callers.
type Service struct {
	users    store.UserStore
	sessions session.Store
	tokens   *TokenConfig
	ttl      time.Duration
	timeout  time.Duration
	log      *zerolog.Logger
}

// NewService creates a new authentication service.
func NewService(users store.UserStore, sessions session.Store, opts Options, logger *zerolog.Logger) *Service {
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = DefaultLookupTimeout
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	tokens := opts.Token
	return &Service{
		users:    users,
		sessions: sessions,
		tokens:   &tokens,
		ttl:      opts.SessionTTL,
		timeout:  opts.LookupTimeout,
		log:      logger,
	}
}

// CreateUser registers an account. Used by the admin CLI; there is no public sign-up.
func (s *Service) CreateUser(ctx context.Context, username, password, displayName string, role store.Role) (*store.User, error) {
	username = strings.TrimSpace(username)
	if len(username) < 3 || len(username) > 32 {
		return nil, ErrInvalidUsername
	}
	if role == "" {
		role = store.RoleUser
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &store.User{
		Username:     username,
		DisplayName:  strings.TrimSpace(displayName),
		Role:         role,
		PasswordHash: hash,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Login checks credentials, stores a new session and returns its signed token.
func (s *Service) Login(ctx context.Context, username, password string) (string, *store.User, error) {
	user, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("get user: %w", err)
	}
	if err := ComparePassword(user.PasswordHash, password); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	sess := &session.Session{
		Token:       utils.NewID(),
		UserID:      user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		Role:        string(user.Role),
		CreatedAt:   now,
	}
	if err := s.sessions.Put(ctx, sess, s.ttl); err != nil {
		return "", nil, fmt.Errorf("store session: %w", err)
	}

	token, err := SignSessionToken(s.tokens, sess.Token)
	if err != nil {
		return "", nil, err
	}

	s.log.Info().Str("user_id", user.ID).Str("username", user.Username).Msg("user logged in")
	return token, user, nil
}

// Logout deletes the session behind token. Unknown or invalid tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	sid, err := ParseSessionToken(s.tokens, token)
	if err != nil {
		return nil
	}
	if err := s.sessions.Delete(ctx, sid); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Authenticate resolves token into an identity. The session lookup is bounded by
// the configured timeout; every failure is reported as core.ErrUnauthorized.
func (s *Service) Authenticate(ctx context.Context, token string) (core.Identity, error) {
	if token == "" {
		return core.Identity{}, fmt.Errorf("%w: missing session", core.ErrUnauthorized)
	}
	sid, err := ParseSessionToken(s.tokens, token)
	if err != nil {
		return core.Identity{}, fmt.Errorf("%w: %v", core.ErrUnauthorized, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sess, err := s.sessions.Get(ctx, sid)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			s.log.Warn().Err(err).Msg("session lookup failed")
		}
		return core.Identity{}, fmt.Errorf("%w: %v", core.ErrUnauthorized, err)
	}
	if sess.UserID == "" {
		return core.Identity{}, fmt.Errorf("%w: anonymous session", core.ErrUnauthorized)
	}

	return core.Identity{
		UserID:      sess.UserID,
		Username:    sess.Username,
		DisplayName: sess.DisplayName,
		Role:        sess.Role,
	}, nil
}

// RevokeUser deletes every session of userID so it cannot authenticate again.
func (s *Service) RevokeUser(ctx context.Context, userID string) (int, error) {
	n, err := s.sessions.DeleteUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	return n, nil
}
