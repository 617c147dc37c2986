// Package session holds the per-shopper context every storefront request
// carries: an anonymous session id and, once signed in, a bearer token.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"storefront/internal/model"
)

// ErrClosed is returned by mutating calls after Close.
var ErrClosed = errors.New("session closed")

// State is the persisted part of a session.
type State struct {
	ID     string `json:"id"`
	UserID string `json:"user_id,omitempty"`
	Token  string `json:"token,omitempty"`
}

// Store persists session state between runs.
type Store interface {
	Load(ctx context.Context, key string) (State, bool, error)
	Save(ctx context.Context, key string, st State) error
	Delete(ctx context.Context, key string) error
}

// IdentityFunc is called after the signed-in user changes.
type IdentityFunc func(ctx context.Context, prev, next State)

// Session is the explicit session context passed to the HTTP layer.
// It satisfies transport.Credentials.
type Session struct {
	mu       sync.RWMutex
	state    State
	key      string
	store    Store
	logger   *slog.Logger
	watchers []IdentityFunc
	closed   bool
}

// Open loads the session stored under key, or starts a new anonymous one
// with a random id and persists it.
func Open(ctx context.Context, store Store, key string, logger *slog.Logger) (*Session, error) {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}

	st, ok, err := store.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", key, err)
	}
	if !ok || st.ID == "" {
		st = State{ID: uuid.NewString()}
		if err := store.Save(ctx, key, st); err != nil {
			return nil, fmt.Errorf("saving new session: %w", err)
		}
		logger.Debug("started anonymous session", slog.String("session_id", st.ID))
	}

	return &Session{state: st, key: key, store: store, logger: logger}, nil
}

// SessionID returns the session id sent as x-session-id.
func (s *Session) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ID
}

// Token returns the bearer token, empty when anonymous.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Token
}

// UserID returns the signed-in user, empty when anonymous.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.UserID
}

// State returns a copy of the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// OnIdentityChange registers fn to run after SignIn or SignOut changes the user.
func (s *Session) OnIdentityChange(fn IdentityFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, fn)
}

// SignIn attaches a user and token to the session.
func (s *Session) SignIn(ctx context.Context, userID, token string) error {
	if userID == "" || token == "" {
		return model.NewValidationError("credentials", "user id and token are required")
	}
	return s.setIdentity(ctx, userID, token)
}

// SignOut drops the user and token but keeps the session id.
func (s *Session) SignOut(ctx context.Context) error {
	return s.setIdentity(ctx, "", "")
}

func (s *Session) setIdentity(ctx context.Context, userID, token string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	prev := s.state
	next := State{ID: prev.ID, UserID: userID, Token: token}
	if err := s.store.Save(ctx, s.key, next); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("saving session: %w", err)
	}
	s.state = next
	watchers := append([]IdentityFunc(nil), s.watchers...)
	s.mu.Unlock()

	if prev.UserID == next.UserID {
		return nil
	}
	s.logger.Info("session identity changed",
		slog.String("session_id", next.ID),
		slog.Bool("signed_in", next.UserID != ""),
	)
	for _, fn := range watchers {
		fn(ctx, prev, next)
	}
	return nil
}

// Close persists the final state and detaches watchers. Close is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.watchers = nil
	if err := s.store.Save(ctx, s.key, s.state); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// Forget deletes the stored session. The in-memory session keeps working
// until Close; a later Open under the same key starts a fresh session.
func (s *Session) Forget(ctx context.Context) error {
	return s.store.Delete(ctx, s.key)
}
