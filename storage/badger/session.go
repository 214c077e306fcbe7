package badger

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/poiesic/docportal/core"
	"github.com/poiesic/docportal/storage"
)

// SessionRepository implements storage.SessionRepository for BadgerDB.
type SessionRepository struct {
	backend *Backend
}

var _ storage.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(backend *Backend) *SessionRepository {
	return &SessionRepository{backend: backend}
}

// SaveSession inserts or replaces a session.
func (r *SessionRepository) SaveSession(ctx context.Context, session *core.Session) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if session.CreatedAt.IsZero() {
			session.CreatedAt = time.Now().UTC()
		}
		if err := tx.Set(makeSessionKey(session.ID), storage.MarshalSession(session)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// GetSession retrieves a session by ID.
func (r *SessionRepository) GetSession(ctx context.Context, id string) (*core.Session, error) {
	var session *core.Session
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		session, err = readValue(tx, makeSessionKey(id), storage.UnmarshalSession)
		if err != nil {
			return err
		}
		if session == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return session, err
}

// ListSessions returns every session ordered by CreatedAt, then ID.
func (r *SessionRepository) ListSessions(ctx context.Context) ([]*core.Session, error) {
	var sessions []*core.Session
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		sessions, err = scanPrefix(tx, []byte(sessionPrefix), storage.UnmarshalSession)
		return err
	}, false)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(sessions, func(a, b *core.Session) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return sessions, nil
}

// DeleteSession removes a session.
func (r *SessionRepository) DeleteSession(ctx context.Context, id string) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeSessionKey(id)
		if _, err := tx.Get(key); err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}
		if err := tx.Delete(key); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}
