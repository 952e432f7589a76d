package prefs

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/getmockd/mockctl/pkg/logging"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	sqlGet = `SELECT kind, value FROM prefs WHERE key = ?`
	sqlPut = `INSERT INTO prefs (key, kind, value, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET kind = excluded.kind, value = excluded.value, updated_at = excluded.updated_at`

	kindString = "string"
	kindBool   = "bool"

	queryTimeout = 5 * time.Second
)

// SQLite is a Store backed by a SQLite database.
type SQLite struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenSQLite opens (or creates) the database at path and applies pending
// migrations.
func OpenSQLite(path string, log *slog.Logger) (*SQLite, error) {
	if log == nil {
		log = logging.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("prefs: creating database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("prefs: opening database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := migrate(ctx, db, log); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Debug("prefs database ready", slog.String("path", path))
	return &SQLite{db: db, log: log}, nil
}

func migrate(ctx context.Context, db *sql.DB, log *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("prefs: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("prefs: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("prefs: running migrations: %w", err)
	}
	for _, r := range results {
		log.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}
	return nil
}

func (s *SQLite) get(key, want string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	var kind, value string
	err := s.db.QueryRowContext(ctx, sqlGet, key).Scan(&kind, &value)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.log.Error("prefs read failed", "key", key, "error", err)
		}
		return "", false
	}
	if kind != want {
		return "", false
	}
	return value, true
}

func (s *SQLite) put(key, kind, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, sqlPut, key, kind, value, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("prefs: writing %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) GetString(key, def string) string {
	if v, ok := s.get(key, kindString); ok {
		return v
	}
	return def
}

func (s *SQLite) GetBool(key string, def bool) bool {
	v, ok := s.get(key, kindBool)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func (s *SQLite) PutString(key, value string) error {
	return s.put(key, kindString, value)
}

func (s *SQLite) PutBool(key string, value bool) error {
	return s.put(key, kindBool, strconv.FormatBool(value))
}

// Close closes the database. Calling it twice is safe.
func (s *SQLite) Close() error {
	return s.db.Close()
}
