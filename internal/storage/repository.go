// Package storage persists dashboard sessions in SQLite so a restart comes
// back with the same filters and dataset description.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"budgetviz/internal/core"
	applog "budgetviz/internal/log"

	_ "modernc.org/sqlite"
)

var ErrSessionNotFound = errors.New("session not found")

// Session is the persisted part of a dashboard. Everything else is derived
// again from upstream after a restore.
type Session struct {
	Name      string
	Criteria  core.FilterCriteria
	Metadata  core.DatasetMetadata
	UpdatedAt time.Time
}

type SQLiteRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteRepository(dbPath string, logger *slog.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// one writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:     db,
		logger: logger.With(applog.FieldComponent, applog.ComponentStorage),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// SaveSession inserts or replaces the session called s.Name.
func (r *SQLiteRepository) SaveSession(ctx context.Context, s Session) error {
	crit, err := json.Marshal(s.Criteria)
	if err != nil {
		return fmt.Errorf("encode criteria: %w", err)
	}
	meta, err := json.Marshal(s.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	updated := s.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO dashboard_sessions (name, criteria, metadata, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			criteria = excluded.criteria,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		s.Name, string(crit), string(meta), updated)
	if err != nil {
		return fmt.Errorf("save session %s: %w", s.Name, err)
	}

	r.logger.DebugContext(ctx, "Session saved", applog.FieldSession, s.Name)
	return nil
}

// LoadSession returns ErrSessionNotFound when nothing was saved under name.
func (r *SQLiteRepository) LoadSession(ctx context.Context, name string) (Session, error) {
	var (
		crit, meta string
		updated    time.Time
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT criteria, metadata, updated_at FROM dashboard_sessions WHERE name = ?`, name).
		Scan(&crit, &meta, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, name)
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session %s: %w", name, err)
	}

	s := Session{Name: name, UpdatedAt: updated}
	if err := json.Unmarshal([]byte(crit), &s.Criteria); err != nil {
		return Session{}, fmt.Errorf("decode criteria: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &s.Metadata); err != nil {
		return Session{}, fmt.Errorf("decode metadata: %w", err)
	}
	return s, nil
}

func (r *SQLiteRepository) DeleteSession(ctx context.Context, name string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM dashboard_sessions WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, name)
	}
	return nil
}
