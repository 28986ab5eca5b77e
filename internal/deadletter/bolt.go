// Package deadletter records related-entity updates that failed after a
// payment succeeded, so they can be replayed instead of silently lost.
//
// Entries are keyed by transaction id. Recording the same transaction twice
// keeps one entry and bumps its attempt count, so the store never grows from
// retries of a single payment.
package deadletter

import (
	"encoding/json"
	"errors"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"
)

const bucketName = "entity_updates"

var ErrNotFound = errors.New("dead letter not found")

type Entry struct {
	TransactionID string    `json:"transaction_id"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	LastError     string    `json:"last_error"`
	Attempts      int       `json:"attempts"`
	FirstFailedAt time.Time `json:"first_failed_at"`
	LastFailedAt  time.Time `json:"last_failed_at"`
}

type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the store file. Bolt holds an exclusive file lock,
// so a second process gets an error after timeout instead of blocking.
func Open(path string, timeout time.Duration) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// OpenReadOnly opens an existing store for inspection. Bolt takes a shared
// lock here, which still waits for a process holding the file for writing.
// Record and Delete fail on a read-only store.
func OpenReadOnly(path string, timeout time.Duration) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: timeout, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a failure. An existing entry for the same transaction keeps
// its FirstFailedAt and gets Attempts incremented.
func (s *Store) Record(e Entry) error {
	if e.LastFailedAt.IsZero() {
		e.LastFailedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		key := []byte(e.TransactionID)
		if v := b.Get(key); v != nil {
			var prev Entry
			if err := json.Unmarshal(v, &prev); err != nil {
				return err
			}
			e.FirstFailedAt = prev.FirstFailedAt
			e.Attempts = prev.Attempts + 1
		} else {
			e.FirstFailedAt = e.LastFailedAt
			e.Attempts = 1
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *Store) Get(transactionID string) (Entry, error) {
	var e Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return ErrNotFound
		}
		v := b.Get([]byte(transactionID))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &e)
	})
	return e, err
}

// List returns every entry, oldest failure first.
func (s *Store) List() ([]Entry, error) {
	items := []Entry{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			items = append(items, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].FirstFailedAt.Before(items[j].FirstFailedAt) })
	return items, nil
}

// Delete removes an entry. Deleting a missing entry is not an error.
func (s *Store) Delete(transactionID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(transactionID))
	})
}
