package security

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"actionguard/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memFlags is an in-memory FlagStore.
type memFlags struct {
	mu      sync.Mutex
	values  map[string]string
	loadErr error
	saveErr error
}

func newMemFlags() *memFlags { return &memFlags{values: map[string]string{}} }

func (m *memFlags) LoadFlag(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return "", false, m.loadErr
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memFlags) SaveFlag(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.values[key] = value
	return nil
}

// recordingAudit keeps every entry it is given.
type recordingAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	err     error
}

func (r *recordingAudit) LogAudit(_ context.Context, e domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return r.err
}

func (r *recordingAudit) all() []domain.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.AuditEntry(nil), r.entries...)
}

var errStore = errors.New("store unavailable")

func fixedClock() func() time.Time {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

func mustMonitor(t *testing.T, flags domain.FlagStore) *Monitor {
	t.Helper()
	m := NewMonitor(context.Background(), MonitorConfig{
		Flags:  flags,
		Logger: testLogger(),
	})
	if m.Rules().Len() != len(DefaultRules()) {
		t.Fatalf("expected built-in rules, got %d", m.Rules().Len())
	}
	return m
}

func mustMiddleware(t *testing.T, cfg MiddlewareConfig, opts ...MiddlewareOption) *Middleware {
	t.Helper()
	opts = append([]MiddlewareOption{WithLogger(testLogger())}, opts...)
	return NewMiddleware(mustMonitor(t, nil), cfg, opts...)
}
