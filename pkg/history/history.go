// Package history provides persistent storage for snapshot summaries.
// Summaries are small JSON records appended per snapshot; the store is
// the source of truth for run continuity across restarts.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/solwatch/mintwatch/internal/types"
)

var (
	// ErrEmpty is returned when the store holds no summaries.
	ErrEmpty = errors.New("history is empty")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("history store closed")
)

// bucketSummaries stores summaries keyed by their timestamp, so the
// bucket's natural byte order is chronological.
var bucketSummaries = []byte("summaries")

// Store is a BoltDB-backed append log of snapshot summaries.
type Store struct {
	mu     sync.RWMutex
	db     *bolt.DB
	closed bool
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSummaries)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create summaries bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// summaryKey builds the bucket key for a summary. RFC3339Nano sorts
// lexically in timestamp order for timestamps in the same zone.
func summaryKey(ts time.Time) []byte {
	return []byte(ts.UTC().Format(time.RFC3339Nano))
}

// Append stores one summary.
func (s *Store) Append(summary *types.SnapshotSummary) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSummaries).Put(summaryKey(summary.Timestamp), data)
	})
}

// Latest returns the most recent summary, or ErrEmpty.
func (s *Store) Latest() (*types.SnapshotSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var summary *types.SnapshotSummary
	err := s.db.View(func(tx *bolt.Tx) error {
		_, value := tx.Bucket(bucketSummaries).Cursor().Last()
		if value == nil {
			return ErrEmpty
		}
		summary = &types.SnapshotSummary{}
		return json.Unmarshal(value, summary)
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// List returns up to limit summaries, newest first. A limit of zero or
// less returns everything.
func (s *Store) List(limit int) ([]types.SnapshotSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var summaries []types.SnapshotSummary
	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketSummaries).Cursor()
		for key, value := cursor.Last(); key != nil; key, value = cursor.Prev() {
			if limit > 0 && len(summaries) >= limit {
				break
			}
			var summary types.SnapshotSummary
			if err := json.Unmarshal(value, &summary); err != nil {
				return fmt.Errorf("unmarshal summary %s: %w", key, err)
			}
			summaries = append(summaries, summary)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

// Count returns the number of stored summaries.
func (s *Store) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}

	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketSummaries).Stats().KeyN
		return nil
	})
	return count, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
