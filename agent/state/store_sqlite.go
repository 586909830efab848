package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists session checkpoints in a local SQLite database. The
// checkpoint version column backs the compare-and-swap in Save.
type SQLiteStore struct {
	db *sql.DB
}

type SQLiteConfig struct {
	Path string `envconfig:"PATH" split_words:"true" default:"data/journey.db"`
}

func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// WAL keeps concurrent session writers from tripping over each other.
	dsn := path + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

// NewSQLiteStoreFromDB wraps an existing handle so the session store can
// share a database with the tool backend.
func NewSQLiteStoreFromDB(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil database handle")
	}
	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidSession
	}

	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(payload), &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	sess.EnsureMaps()
	if err := sess.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session loaded from store: %w", err)
	}
	return &sess, nil
}

func (s *SQLiteStore) Save(ctx context.Context, sess *Session) error {
	if err := validateForSave(sess); err != nil {
		return err
	}

	expected := sess.Version
	sess.Version = expected + 1
	sess.Lifecycle = LifecycleCheckpointed
	sess.UpdatedAt = time.Now().UTC()

	payload, err := json.Marshal(sess)
	if err != nil {
		sess.Version = expected
		return fmt.Errorf("marshal session: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET payload = ?, version = ?, updated_at = ?
		 WHERE session_id = ? AND version = ?`,
		string(payload), sess.Version, sess.UpdatedAt.Unix(), sess.SessionID, expected,
	)
	if err != nil {
		sess.Version = expected
		return fmt.Errorf("update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		sess.Version = expected
		return fmt.Errorf("update session: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// No row updated: either the session is new, or the stored version moved.
	var stored int64
	err = s.db.QueryRowContext(ctx,
		`SELECT version FROM sessions WHERE session_id = ?`, sess.SessionID,
	).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO sessions (session_id, payload, version, updated_at) VALUES (?, ?, ?, ?)`,
			sess.SessionID, string(payload), sess.Version, sess.UpdatedAt.Unix(),
		); err != nil {
			sess.Version = expected
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	case err != nil:
		sess.Version = expected
		return fmt.Errorf("check session version: %w", err)
	default:
		sess.Version = expected
		return fmt.Errorf("%w: stored=%d expected=%d", ErrStaleCheckpoint, stored, expected)
	}
}

func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidSession
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	return err
}
