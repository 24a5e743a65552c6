package storage

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hearthd/hearth/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS history (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	household_id TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	role         TEXT NOT NULL,
	content      TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_user ON history (household_id, user_id, created_at);

CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	spec       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_owner ON jobs (owner_id);

CREATE TABLE IF NOT EXISTS job_runs (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL,
	ts     TIMESTAMP NOT NULL,
	status TEXT NOT NULL,
	error  TEXT
);
CREATE INDEX IF NOT EXISTS idx_job_runs_job ON job_runs (job_id, ts);

CREATE TABLE IF NOT EXISTS agenda_events (
	id           TEXT PRIMARY KEY,
	household_id TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	title        TEXT NOT NULL,
	location     TEXT,
	due_at       TIMESTAMP NOT NULL,
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agenda_due ON agenda_events (household_id, due_at);
`

// Open opens (creating if needed) the hearthd SQLite database under dir and
// applies the schema.
func Open(dir string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
		filepath.Join(dir, "hearth.db"))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// churn between the request handlers and the background loops.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}

// SQLiteMetadataStore implements MetadataStore over the metadata table.
type SQLiteMetadataStore struct {
	db *sql.DB
}

func NewSQLiteMetadataStore(db *sql.DB) *SQLiteMetadataStore {
	return &SQLiteMetadataStore{db: db}
}

func (s *SQLiteMetadataStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get metadata %q: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteMetadataStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set metadata %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteMetadataStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM metadata WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete metadata %q: %w", key, err)
	}
	return nil
}

// SQLiteHistoryStore implements HistoryStore over the history table.
type SQLiteHistoryStore struct {
	db *sql.DB
}

func NewSQLiteHistoryStore(db *sql.DB) *SQLiteHistoryStore {
	return &SQLiteHistoryStore{db: db}
}

func (s *SQLiteHistoryStore) Append(ctx context.Context, householdID, userID string, msg models.Message) error {
	at := msg.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history (household_id, user_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		householdID, userID, string(msg.Role), msg.Content, at)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (s *SQLiteHistoryStore) Recent(ctx context.Context, householdID, userID string, limit int, inactivity time.Duration) ([]models.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM history
		 WHERE household_id = ? AND user_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		householdID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	defer rows.Close()

	var recent []models.Message
	for rows.Next() {
		var msg models.Message
		var role string
		if err := rows.Scan(&role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		msg.Role = models.Role(role)
		recent = append(recent, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return trimToSession(recent, inactivity), nil
}

// trimToSession takes newest-first messages, cuts at the first inactivity gap,
// and returns the surviving window oldest-first.
func trimToSession(newestFirst []models.Message, inactivity time.Duration) []models.Message {
	end := len(newestFirst)
	if inactivity > 0 {
		for i := 1; i < len(newestFirst); i++ {
			gap := newestFirst[i-1].CreatedAt.Sub(newestFirst[i].CreatedAt)
			if gap > inactivity {
				end = i
				break
			}
		}
	}
	out := make([]models.Message, end)
	for i := 0; i < end; i++ {
		out[end-1-i] = newestFirst[i]
	}
	return out
}
