// Package store persists the monitor kill switch and the audit trail.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"actionguard/internal/domain"
)

const defaultAuditLimit = 50

const (
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"
)

// Store is what the rest of actionguard needs from a persistence backend.
type Store interface {
	domain.FlagStore
	domain.AuditLogger
	RecentAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error)
	Close() error
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*BoltStore)(nil)
)

// Open returns the backend named by driver. An empty driver means sqlite.
func Open(driver, path string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch driver {
	case "", DriverSQLite:
		return NewSQLiteStore(path, logger)
	case DriverBolt:
		return NewBoltStore(path, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q (supported: sqlite, bolt)", driver)
	}
}
