package state

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrStateNotFound   = errors.New("session state not found")
	ErrStaleCheckpoint = errors.New("checkpoint version is stale")
)

// Store is the persistence contract for session checkpoints. Save performs a
// compare-and-swap on the checkpoint version: the stored version must match
// the session's Version, and on success the version is bumped both in the
// store and on the passed session. A mismatch returns ErrStaleCheckpoint so
// a crashed or raced writer can never clobber a newer checkpoint.
type Store interface {
	Load(ctx context.Context, sessionID string) (*Session, error)
	Save(ctx context.Context, sess *Session) error
	Delete(ctx context.Context, sessionID string) error
}

func validateForSave(sess *Session) error {
	if sess == nil {
		return ErrNilSession
	}
	if err := sess.Validate(); err != nil {
		return err
	}
	return nil
}

// MemoryStore keeps checkpoints in process memory. It backs local
// development and tests; durable deployments use the SQLite, Postgres or
// Upstash stores.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	versions map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		versions: make(map[string]int64),
	}
}

func (m *MemoryStore) Load(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrStateNotFound
	}
	return sess.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, sess *Session) error {
	if err := validateForSave(sess); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if stored, ok := m.versions[sess.SessionID]; ok && stored != sess.Version {
		return ErrStaleCheckpoint
	}
	sess.Version++
	sess.Lifecycle = LifecycleCheckpointed
	sess.UpdatedAt = time.Now().UTC()
	m.sessions[sess.SessionID] = sess.Clone()
	m.versions[sess.SessionID] = sess.Version
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	delete(m.versions, sessionID)
	return nil
}
