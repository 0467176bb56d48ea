// Package clipboard keeps one pending copy or move between CLI invocations.
package clipboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/rescale/filez/internal/constants"
)

var (
	// ErrEmpty is returned when no clipboard entry is stored.
	ErrEmpty = errors.New("clipboard is empty")
)

var (
	clipboardBucket = []byte("clipboard")
	entryKey        = []byte("entry")
)

// Operation is what a paste does with the marked sources.
type Operation string

const (
	OpCopy Operation = "copy"
	OpMove Operation = "move"
)

// ParseOperation accepts "copy", "move" and its alias "cut".
func ParseOperation(s string) (Operation, error) {
	switch s {
	case "copy":
		return OpCopy, nil
	case "move", "cut":
		return OpMove, nil
	}
	return "", fmt.Errorf("unknown clipboard operation %q", s)
}

// Entry is the stored clipboard record.
type Entry struct {
	Operation Operation `json:"operation"`
	Sources   []string  `json:"sourcePaths"`
	MarkedAt  time.Time `json:"markedAt"`
}

// Store persists at most one Entry.
type Store interface {
	Get() (*Entry, error)
	Set(entry *Entry) error
	Clear() error
}

// Taker is implemented by stores that can read and remove the entry atomically.
type Taker interface {
	Take() (*Entry, error)
}

// BoltStore is a Store implementation backed by bbolt.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) the clipboard database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: constants.ClipboardOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open clipboard database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(clipboardBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create clipboard bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Get returns the stored entry or ErrEmpty.
func (s *BoltStore) Get() (*Entry, error) {
	var entry Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		return readEntry(tx, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Set replaces the stored entry.
func (s *BoltStore) Set(entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal clipboard entry: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(clipboardBucket).Put(entryKey, data); err != nil {
			return fmt.Errorf("failed to put clipboard entry: %w", err)
		}
		return nil
	})
}

// Clear removes the stored entry.
func (s *BoltStore) Clear() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(clipboardBucket).Delete(entryKey)
	})
}

// Take returns and removes the stored entry in one transaction.
func (s *BoltStore) Take() (*Entry, error) {
	var entry Entry
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := readEntry(tx, &entry); err != nil {
			return err
		}
		return tx.Bucket(clipboardBucket).Delete(entryKey)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func readEntry(tx *bbolt.Tx, entry *Entry) error {
	data := tx.Bucket(clipboardBucket).Get(entryKey)
	if data == nil {
		return ErrEmpty
	}
	if err := json.Unmarshal(data, entry); err != nil {
		return fmt.Errorf("failed to unmarshal clipboard entry: %w", err)
	}
	return nil
}

// MemoryStore keeps the entry in memory.
type MemoryStore struct {
	mu    sync.Mutex
	entry *Entry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get() (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == nil {
		return nil, ErrEmpty
	}
	e := *s.entry
	e.Sources = append([]string(nil), s.entry.Sources...)
	return &e, nil
}

func (s *MemoryStore) Set(entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := *entry
	e.Sources = append([]string(nil), entry.Sources...)
	s.entry = &e
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry = nil
	return nil
}

func (s *MemoryStore) Take() (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == nil {
		return nil, ErrEmpty
	}
	e := s.entry
	s.entry = nil
	return e, nil
}
