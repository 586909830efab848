package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// PostgresStore persists session checkpoints in Postgres through bun.
type PostgresStore struct {
	db *bun.DB
}

type PostgresConfig struct {
	DSN     string        `envconfig:"DSN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

type sessionRow struct {
	bun.BaseModel `bun:"table:sessions,alias:s"`

	SessionID string    `bun:"session_id,pk"`
	Payload   string    `bun:"payload,notnull"`
	Version   int64     `bun:"version,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	connector := pgdriver.NewConnector(
		pgdriver.WithDSN(dsn),
		pgdriver.WithTimeout(timeout),
	)
	sqldb := sql.OpenDB(connector)
	db := bun.NewDB(sqldb, pgdialect.New())

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresStore{db: db}
	if _, err := db.NewCreateTable().
		Model((*sessionRow)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return nil, fmt.Errorf("create sessions table: %w", err)
	}
	return store, nil
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func (p *PostgresStore) Load(ctx context.Context, sessionID string) (*Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidSession
	}

	row := new(sessionRow)
	err := p.db.NewSelect().
		Model(row).
		Where("session_id = ?", sessionID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(row.Payload), &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	sess.EnsureMaps()
	if err := sess.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session loaded from store: %w", err)
	}
	return &sess, nil
}

func (p *PostgresStore) Save(ctx context.Context, sess *Session) error {
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

	row := &sessionRow{
		SessionID: sess.SessionID,
		Payload:   string(payload),
		Version:   sess.Version,
		UpdatedAt: sess.UpdatedAt,
	}

	res, err := p.db.NewUpdate().
		Model(row).
		Column("payload", "version", "updated_at").
		Where("session_id = ?", sess.SessionID).
		Where("version = ?", expected).
		Exec(ctx)
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

	exists, err := p.db.NewSelect().
		Model((*sessionRow)(nil)).
		Where("session_id = ?", sess.SessionID).
		Exists(ctx)
	if err != nil {
		sess.Version = expected
		return fmt.Errorf("check session version: %w", err)
	}
	if exists {
		sess.Version = expected
		return fmt.Errorf("%w: session_id=%s expected=%d", ErrStaleCheckpoint, sess.SessionID, expected)
	}

	if _, err := p.db.NewInsert().Model(row).Exec(ctx); err != nil {
		sess.Version = expected
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidSession
	}
	_, err := p.db.NewDelete().
		Model((*sessionRow)(nil)).
		Where("session_id = ?", sessionID).
		Exec(ctx)
	return err
}
