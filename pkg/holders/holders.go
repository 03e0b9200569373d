// Package holders provides the BadgerDB-backed holder set storage.
// The store keeps the holder set of the previous snapshot so the next
// snapshot can report churn: who entered and who exited.
package holders

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/solwatch/mintwatch/internal/types"
)

// ErrClosed is returned when operating on a closed store.
var ErrClosed = errors.New("holders store closed")

// Key prefixes. Holder keys are prefixed so metadata can share the
// keyspace later without a migration.
var prefixHolder = []byte{0x01}

// Config contains configuration for the holder store.
type Config struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites ensures writes are synced to disk. The holder set is
	// rebuilt on every snapshot, so durability is cheap to give up.
	SyncWrites bool
}

// DefaultConfig returns default configuration for the given path.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		InMemory:   false,
		SyncWrites: false,
	}
}

// Store is a BadgerDB-backed holder set.
type Store struct {
	mu     sync.RWMutex
	db     *badger.DB
	closed bool
}

// Open opens or creates the holder store.
func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open holders db: %w", err)
	}
	return &Store{db: db}, nil
}

func holderKey(address string) []byte {
	return append(append([]byte{}, prefixHolder...), address...)
}

func encodeBalance(balance uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, balance)
	return buf
}

// Replace swaps the stored holder set for the given one and reports
// churn against the previous set: how many holders are new and how
// many exited. The first Replace on an empty store reports everything
// as new.
func (s *Store) Replace(holders []types.Holder) (newCount, exitedCount int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, 0, ErrClosed
	}

	previous := make(map[string]struct{})
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefixHolder
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			previous[string(key[len(prefixHolder):])] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("scan previous holders: %w", err)
	}

	batch := s.db.NewWriteBatch()
	defer batch.Cancel()

	current := make(map[string]struct{}, len(holders))
	for _, holder := range holders {
		current[holder.Address] = struct{}{}
		if _, seen := previous[holder.Address]; !seen {
			newCount++
		}
		if err := batch.Set(holderKey(holder.Address), encodeBalance(holder.Balance)); err != nil {
			return 0, 0, fmt.Errorf("write holder %s: %w", holder.Address, err)
		}
	}

	for address := range previous {
		if _, kept := current[address]; !kept {
			exitedCount++
			if err := batch.Delete(holderKey(address)); err != nil {
				return 0, 0, fmt.Errorf("delete holder %s: %w", address, err)
			}
		}
	}

	if err := batch.Flush(); err != nil {
		return 0, 0, fmt.Errorf("flush holder batch: %w", err)
	}
	return newCount, exitedCount, nil
}

// Balance returns the stored balance for an address, or false if the
// address is not in the current holder set.
func (s *Store) Balance(address string) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, false, ErrClosed
	}

	var balance uint64
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(holderKey(address))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			balance = binary.LittleEndian.Uint64(val)
			return nil
		})
	})
	return balance, found, err
}

// Count returns the size of the stored holder set.
func (s *Store) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}

	var count int
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefixHolder
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
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
