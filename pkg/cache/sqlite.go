package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// DefaultDBFileName is the SQLite filename under the data dir.
const DefaultDBFileName = "content.db"

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS content (
  content_key  TEXT PRIMARY KEY,
  file_name    TEXT NOT NULL DEFAULT '',
  mime_type    TEXT NOT NULL DEFAULT '',
  sender_id    TEXT NOT NULL DEFAULT '',
  size         INTEGER NOT NULL,
  data         BLOB NOT NULL,
  stored_at    INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_content_sender_time
ON content (sender_id, stored_at DESC);
`,
}

// SQLiteStore is a Store backed by a SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// Open opens (or creates) content.db under dataDir and runs migrations.
func Open(dataDir string) (*SQLiteStore, string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create cache directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DefaultDBFileName)
	store, err := OpenPath(dbPath)
	if err != nil {
		return nil, "", err
	}
	return store, dbPath, nil
}

// OpenPath opens SQLite at an explicit path.
func OpenPath(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", filepath.ToSlash(dbPath))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.enableWALMode(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) Put(ctx context.Context, entry Entry) error {
	if entry.Key == "" {
		return errors.New("cache key is required")
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}
	if entry.Data == nil {
		entry.Data = []byte{}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO content (content_key, file_name, mime_type, sender_id, size, data, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Key,
		entry.FileName,
		entry.MimeType,
		entry.SenderID,
		len(entry.Data),
		entry.Data,
		entry.StoredAt.UnixMilli(),
	)
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return ErrExists
		}
		return fmt.Errorf("insert content %q: %w", entry.Key, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (Entry, error) {
	var (
		entry    Entry
		storedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT content_key, file_name, mime_type, sender_id, data, stored_at
		FROM content WHERE content_key = ?`,
		key,
	).Scan(&entry.Key, &entry.FileName, &entry.MimeType, &entry.SenderID, &entry.Data, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get content %q: %w", key, err)
	}
	entry.StoredAt = time.UnixMilli(storedAt)
	return entry, nil
}

func (s *SQLiteStore) Has(ctx context.Context, key string) (bool, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM content WHERE content_key = ?)`,
		key,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check content %q: %w", key, err)
	}
	return exists == 1, nil
}

func (s *SQLiteStore) applyMigrations() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= len(migrations) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) enableWALMode() error {
	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		return fmt.Errorf("enable WAL mode: unexpected journal mode %q", journalMode)
	}
	return nil
}
