//go:generate go run go.uber.org/mock/mockgen -source=session.go -destination=../mocks/mock_session_store.go -package=mocks

package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a token has no live session.
var ErrNotFound = errors.New("session not found")

// Session is the identity record shared by HTTP and realtime authentication.
// An empty UserID marks an anonymous session that never authenticates.
type Session struct {
	Token       string    `json:"token"`
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Store is the key/value session adapter.
type Store interface {
	// Get returns the session for token or ErrNotFound.
	Get(ctx context.Context, token string) (*Session, error)
	// Put stores s under s.Token for ttl.
	Put(ctx context.Context, s *Session, ttl time.Duration) error
	// Delete removes a single session. Missing tokens are not an error.
	Delete(ctx context.Context, token string) error
	// DeleteUser removes every session of userID and returns how many were removed.
	DeleteUser(ctx context.Context, userID string) (int, error)
	Close() error
}
