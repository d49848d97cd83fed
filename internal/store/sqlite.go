// Package store persists proof sessions in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	_ "modernc.org/sqlite"

	"github.com/example/lean-prover/internal/models"
)

// ErrNotFound is returned when no session has the requested id.
var ErrNotFound = errors.New("session not found")

const titleRunes = 50

// Store is the session persistence surface used by the HTTP layer.
type Store interface {
	Create(ctx context.Context, statement, title string) (*models.Session, error)
	Finalize(ctx context.Context, id int64, result string) error
	Get(ctx context.Context, id int64) (*models.Session, error)
	ListRecent(ctx context.Context, limit int) ([]models.Session, error)
}

// SQLiteStore keeps sessions in a single proof_sessions table.
type SQLiteStore struct {
	db   *sql.DB
	path string
	// Now supplies timestamps; tests replace it for deterministic ordering.
	Now func() time.Time
}

// Open creates or opens the database at path and ensures the schema exists.
func Open(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &SQLiteStore{db: db, path: path, Now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS proof_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		statement TEXT NOT NULL,
		proof_result TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_proof_sessions_updated ON proof_sessions(updated_at);
	`)
	return err
}

// Title shortens a statement to its first 50 characters plus "..." when longer.
func Title(statement string) string {
	if utf8.RuneCountInString(statement) <= titleRunes {
		return statement
	}
	return string([]rune(statement)[:titleRunes]) + "..."
}

func (s *SQLiteStore) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Create inserts a session without a result. An empty title is derived from statement.
func (s *SQLiteStore) Create(ctx context.Context, statement, title string) (*models.Session, error) {
	if title == "" {
		title = Title(statement)
	}
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO proof_sessions (title, statement, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		title, statement, now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return &models.Session{ID: id, Title: title, Statement: statement, CreatedAt: now, UpdatedAt: now}, nil
}

// Finalize overwrites the session's result in one statement.
func (s *SQLiteStore) Finalize(ctx context.Context, id int64, result string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE proof_sessions SET proof_result = ?, updated_at = ? WHERE id = ?`,
		result, s.now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("update session %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id int64) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, statement, proof_result, created_at, updated_at FROM proof_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %d: %w", id, err)
	}
	return sess, nil
}

// ListRecent returns sessions most recently updated first. limit <= 0 means no limit.
func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, statement, proof_result, created_at, updated_at FROM proof_sessions
		ORDER BY updated_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := []models.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*models.Session, error) {
	var (
		sess             models.Session
		result           sql.NullString
		created, updated int64
	)
	if err := sc.Scan(&sess.ID, &sess.Title, &sess.Statement, &result, &created, &updated); err != nil {
		return nil, err
	}
	if result.Valid {
		r := result.String
		sess.Result = &r
	}
	sess.CreatedAt = time.Unix(0, created)
	sess.UpdatedAt = time.Unix(0, updated)
	return &sess, nil
}
