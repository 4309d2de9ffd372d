package security

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"actionguard/internal/domain"
	"actionguard/internal/metrics"

	"github.com/google/uuid"
)

// DefaultSessionID names the session that always exists.
const DefaultSessionID = "default"

// ErrSessionNotFound is returned for an unknown session ID.
var ErrSessionNotFound = errors.New("session not found")

// Session pairs one monitor with one middleware. Histories and policy are
// private to the session; the rule table is shared.
type Session struct {
	ID         string
	CreatedAt  time.Time
	Monitor    *Monitor
	Middleware *Middleware
}

// SessionManagerConfig holds what every session is built from.
type SessionManagerConfig struct {
	Rules  *RuleTable
	Policy MiddlewareConfig // template copied into every new session
	Flags  domain.FlagStore
	Audit  domain.AuditLogger
	Logger *slog.Logger
}

// SessionManager creates and tracks per-session classifiers.
type SessionManager struct {
	cfg    SessionManagerConfig
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionManager builds the manager and its default session.
func NewSessionManager(ctx context.Context, cfg SessionManagerConfig) *SessionManager {
	if cfg.Rules == nil {
		cfg.Rules = MustDefaultTable()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	sm := &SessionManager{
		cfg:      cfg,
		logger:   cfg.Logger,
		sessions: make(map[string]*Session),
	}
	sm.sessions[DefaultSessionID] = sm.newSession(ctx, DefaultSessionID)
	metrics.ActiveSessions.Set(1)
	return sm
}

// newSession builds the classifier pair for id. Only the default session
// persists its kill switch; other sessions do not outlive the process, so
// their flag stays in memory.
func (sm *SessionManager) newSession(ctx context.Context, id string) *Session {
	var flags domain.FlagStore
	if id == DefaultSessionID {
		flags = sm.cfg.Flags
	}
	mon := NewMonitor(ctx, MonitorConfig{
		Rules:  sm.cfg.Rules,
		Flags:  flags,
		Logger: sm.logger.With("session", id),
	})
	opts := []MiddlewareOption{WithLogger(sm.logger.With("session", id)), WithSessionID(id)}
	if sm.cfg.Audit != nil {
		opts = append(opts, WithAuditLogger(sm.cfg.Audit))
	}
	return &Session{
		ID:         id,
		CreatedAt:  time.Now(),
		Monitor:    mon,
		Middleware: NewMiddleware(mon, sm.cfg.Policy, opts...),
	}
}

// Create starts a new session with a random ID.
func (sm *SessionManager) Create(ctx context.Context) *Session {
	s := sm.newSession(ctx, uuid.NewString())

	sm.mu.Lock()
	sm.sessions[s.ID] = s
	n := len(sm.sessions)
	sm.mu.Unlock()

	metrics.ActiveSessions.Set(int64(n))
	sm.logger.Info("session created", "session", s.ID)
	return s
}

// Get returns the session with the given ID.
func (sm *SessionManager) Get(id string) (*Session, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	s, ok := sm.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Default returns the session that always exists.
func (sm *SessionManager) Default() *Session {
	s, _ := sm.Get(DefaultSessionID)
	return s
}

// Delete drops a session. The default session cannot be deleted.
func (sm *SessionManager) Delete(id string) error {
	if id == DefaultSessionID {
		return errors.New("the default session cannot be deleted")
	}
	sm.mu.Lock()
	if _, ok := sm.sessions[id]; !ok {
		sm.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(sm.sessions, id)
	n := len(sm.sessions)
	sm.mu.Unlock()

	metrics.ActiveSessions.Set(int64(n))
	sm.logger.Info("session deleted", "session", id)
	return nil
}

// List returns the sessions ordered by creation time.
func (sm *SessionManager) List() []*Session {
	sm.mu.RLock()
	out := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		out = append(out, s)
	}
	sm.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Rules returns the table shared by every session.
func (sm *SessionManager) Rules() *RuleTable { return sm.cfg.Rules }
