// Package idempotency stores responses keyed by client-supplied
// Idempotency-Key headers so a retried request returns the first answer.
//
// Entries live in a single BoltDB file. Each value is a JSON envelope with an
// expiry; expired entries are dropped when read and swept at startup.
package idempotency

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
)

const bucketName = "idempotency_keys"

// MaxKeyLength bounds client-supplied keys.
const MaxKeyLength = 255

// ErrInvalidKey is returned for empty or oversized keys.
var ErrInvalidKey = errors.New("invalid idempotency key")

type envelope struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Store is a BoltDB-backed idempotency key store.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// Open opens (or creates) the store at path and drops expired entries.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open idempotency store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create idempotency bucket: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if _, err := s.Purge(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

func compositeKey(scope, key string) ([]byte, error) {
	if key == "" || len(key) > MaxKeyLength {
		return nil, ErrInvalidKey
	}
	return []byte(scope + "\x00" + key), nil
}

// Get returns the stored value for key within scope. Expired entries are
// deleted and reported as missing.
func (s *Store) Get(scope, key string) ([]byte, bool, error) {
	k, err := compositeKey(scope, key)
	if err != nil {
		return nil, false, err
	}

	var env envelope
	var found bool
	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketName)).Get(k)
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &env)
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to read idempotency key: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	if !s.now().Before(env.ExpiresAt) {
		if err := s.delete(k); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return env.Value, true, nil
}

// Put stores value for key within scope until ttl elapses. The first live
// value wins: Put on a key that already holds an unexpired value leaves it
// unchanged and returns that value.
func (s *Store) Put(scope, key string, value []byte, ttl time.Duration) ([]byte, error) {
	k, err := compositeKey(scope, key)
	if err != nil {
		return nil, err
	}
	if !json.Valid(value) {
		return nil, fmt.Errorf("idempotency value must be JSON")
	}

	now := s.now()
	stored := value
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if existing := b.Get(k); existing != nil {
			var env envelope
			if err := json.Unmarshal(existing, &env); err == nil && now.Before(env.ExpiresAt) {
				stored = append([]byte(nil), env.Value...)
				return nil
			}
		}
		data, err := json.Marshal(envelope{Value: value, ExpiresAt: now.Add(ttl).UTC()})
		if err != nil {
			return err
		}
		return b.Put(k, data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store idempotency key: %w", err)
	}
	return stored, nil
}

// Purge deletes every expired entry and returns how many were removed.
func (s *Store) Purge() (int, error) {
	now := s.now()
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var env envelope
			if err := json.Unmarshal(v, &env); err != nil || !now.Before(env.ExpiresAt) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		// Deleting inside ForEach invalidates the cursor.
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge idempotency keys: %w", err)
	}
	return removed, nil
}

func (s *Store) delete(k []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete(k)
	})
	if err != nil {
		return fmt.Errorf("failed to delete idempotency key: %w", err)
	}
	return nil
}
