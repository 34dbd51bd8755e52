// Package store holds the session stores the gateway consults during the
// handshake: the CRM's sessions table in PostgreSQL, or a bbolt file for
// development. Sessions are written by the session issuer; the gateway only
// reads them. The bbolt writer also carries issuer-side housekeeping
// (revoke, sweep) for sessionctl.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/callpulse/callpulse/gateway/internal/auth"
)

var (
	sessionsBucket = []byte("sessions")

	// ErrSessionNotFound is returned when revoking a token with no record.
	ErrSessionNotFound = errors.New("session not found")
)

// DefaultLockTimeout bounds how long a SessionFile lookup waits for the
// issuer to release the file.
const DefaultLockTimeout = 500 * time.Millisecond

// OpenDB opens (creating if needed) the bbolt database at path.
func OpenDB(path string) (*bolt.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	return db, nil
}

// SessionStore is a bbolt-backed implementation of auth.SessionStore.
type SessionStore struct {
	db *bolt.DB
}

var _ auth.SessionStore = (*SessionStore)(nil)

// NewSessionStore creates or opens the sessions bucket in the given database.
func NewSessionStore(db *bolt.DB) (*SessionStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &SessionStore{db: db}, nil
}

// PutSession stores rec under its token, replacing any existing record.
func (s *SessionStore) PutSession(rec auth.SessionRecord) error {
	if rec.Token == "" {
		return errors.New("session record has no token")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(rec.Token), data)
	})
}

// LookupSession returns the record for token, or (nil, nil) when there is none.
func (s *SessionStore) LookupSession(ctx context.Context, token string) (*auth.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return lookup(s.db, token)
}

func lookup(db *bolt.DB, token string) (*auth.SessionRecord, error) {
	var rec *auth.SessionRecord
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		if b == nil {
			return nil
		}
		data := b.Get([]byte(token))
		if data == nil {
			return nil
		}
		var r auth.SessionRecord
		if err := json.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		rec = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// SessionFile reads sessions from a bbolt file without holding it open, so
// the issuer can write while the gateway runs. Each lookup opens the file
// read-only under bbolt's shared lock for one transaction.
type SessionFile struct {
	path        string
	lockTimeout time.Duration
}

var _ auth.SessionStore = (*SessionFile)(nil)

// NewSessionFile returns a reader for the file at path. A lockTimeout of 0
// means DefaultLockTimeout.
func NewSessionFile(path string, lockTimeout time.Duration) *SessionFile {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &SessionFile{path: path, lockTimeout: lockTimeout}
}

// LookupSession returns the record for token, or (nil, nil) when there is
// none or the issuer has not created the file yet.
func (f *SessionFile) LookupSession(ctx context.Context, token string) (*auth.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db, err := bolt.Open(f.path, 0o600, &bolt.Options{ReadOnly: true, Timeout: f.lockTimeout})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	defer db.Close()
	return lookup(db, token)
}

// Close is a no-op; the file is only open during a lookup.
func (f *SessionFile) Close() error { return nil }

// RevokeSession marks the session inactive. Returns ErrSessionNotFound if
// the token has no record.
func (s *SessionStore) RevokeSession(token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		data := b.Get([]byte(token))
		if data == nil {
			return ErrSessionNotFound
		}
		var rec auth.SessionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		rec.IsActive = false
		updated, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(token), updated)
	})
}

// SweepExpired removes sessions that expired at or before now, along with
// malformed entries, and returns how many were removed.
func (s *SessionStore) SweepExpired(now time.Time) (int, error) {
	var removed int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		var toDelete [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var rec auth.SessionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				toDelete = append(toDelete, append([]byte{}, k...))
				return nil
			}
			if !rec.ExpiresAt.After(now) {
				toDelete = append(toDelete, append([]byte{}, k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(toDelete)
		return nil
	})
	return removed, err
}
