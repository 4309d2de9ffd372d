package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"actionguard/internal/domain"

	bolt "go.etcd.io/bbolt"
)

var settingsBucket = []byte("settings")
var auditBucket = []byte("audit")

// BoltStore is the embedded key/value alternative to SQLiteStore. Audit
// entries are keyed by the bucket sequence so a reverse cursor walk yields
// newest first.
type BoltStore struct {
	db     *bolt.DB
	logger *slog.Logger
}

func NewBoltStore(path string, logger *slog.Logger) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory failed: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(settingsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(auditBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db, logger: logger}, nil
}

func (s *BoltStore) LoadFlag(_ context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(settingsBucket).Get([]byte(key))
		if raw == nil {
			return nil
		}
		value, found = string(raw), true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("load setting %s: %w", key, err)
	}
	return value, found, nil
}

func (s *BoltStore) SaveFlag(_ context.Context, key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(settingsBucket).Put([]byte(key), []byte(value))
	})
}

func (s *BoltStore) LogAudit(_ context.Context, entry domain.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(auditBucket)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		return bucket.Put(sequenceKey(seq), payload)
	})
}

// RecentAudit returns up to limit audit entries, newest first. Entries that
// fail to decode are skipped.
func (s *BoltStore) RecentAudit(_ context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	entries := make([]domain.AuditEntry, 0, limit)
	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(auditBucket).Cursor()
		for key, value := cursor.Last(); key != nil && len(entries) < limit; key, value = cursor.Prev() {
			var e domain.AuditEntry
			if err := json.Unmarshal(value, &e); err != nil {
				s.logger.Debug("skipping undecodable audit entry", "key", binary.BigEndian.Uint64(key), "err", err)
				continue
			}
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}

func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
