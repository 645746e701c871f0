package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"feedwatch/internal/feed"
	logx "feedwatch/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

type sqliteStore struct {
	db       *sql.DB
	log      logx.Logger
	readOnly bool
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if cfg.ReadOnly {
		return openSQLiteReadOnly(cfg, path, log)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

// openSQLiteReadOnly opens an existing database without creating the file or
// the schema. A missing database reads as an empty state.
func openSQLiteReadOnly(cfg Config, path string, log logx.Logger) (Store, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return NewMemory(), nil
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA query_only = ON")
	return &sqliteStore{db: db, log: log, readOnly: true}, nil
}

func (s *sqliteStore) Load(ctx context.Context) (feed.State, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM state WHERE id = 1`).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return feed.NewState(), nil
	}
	if err != nil && s.readOnly && strings.Contains(err.Error(), "no such table") {
		return feed.NewState(), nil
	}
	if err != nil {
		return feed.State{}, fmt.Errorf("read state: %w", err)
	}
	st, err := decodeState([]byte(doc))
	if err != nil {
		s.log.Warn("state corrupt; starting empty", logx.String("driver", "sqlite"), logx.Err(err))
		return feed.NewState(), nil
	}
	return st, nil
}

func (s *sqliteStore) Save(ctx context.Context, st feed.State) error {
	if s.readOnly {
		return ErrReadOnly
	}
	b, err := encodeState(st)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO state(id, doc, updated_at) VALUES(1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		string(b), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
