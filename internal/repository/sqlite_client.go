package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"drax-assistant/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
	session_id    TEXT    NOT NULL,
	seq           INTEGER NOT NULL,
	role          TEXT    NOT NULL,
	content       TEXT    NOT NULL,
	provider_name TEXT,
	timestamp     TEXT    NOT NULL,
	PRIMARY KEY (session_id, seq)
);`

// SQLiteStore keeps session history in a local SQLite database. Appends run
// inside a transaction so a pair is written entirely or not at all.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("repository: create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("repository: open database: %w", err)
	}
	// A single connection serialises writers; sqlite allows only one anyway.
	db.SetMaxOpenConns(1)
	s, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an open database and ensures the schema exists.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("repository: db must not be nil")
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("repository: create messages table: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Append(ctx context.Context, sessionID string, msg domain.Message) error {
	if err := s.appendMessages(ctx, sessionID, msg); err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendPair(ctx context.Context, sessionID string, request, response domain.Message) error {
	if err := s.appendMessages(ctx, sessionID, request, response); err != nil {
		return fmt.Errorf("repository: AppendPair: %w", err)
	}
	return nil
}

func (s *SQLiteStore) appendMessages(ctx context.Context, sessionID string, msgs ...domain.Message) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("session id is required")
	}
	if err := validateRoles(msgs); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var last int64
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) FROM messages WHERE session_id = ?", sessionID,
	).Scan(&last); err != nil {
		return fmt.Errorf("read last seq: %w", err)
	}

	now := s.now().UTC()
	for i, m := range msgs {
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		var providerName sql.NullString
		if m.ProviderName != "" {
			providerName = sql.NullString{String: m.ProviderName, Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO messages (session_id, seq, role, content, provider_name, timestamp) VALUES (?, ?, ?, ?, ?, ?)",
			sessionID, last+int64(i)+1, string(m.Role), m.Content, providerName, m.Timestamp.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetHistory(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, role, content, provider_name, timestamp FROM messages WHERE session_id = ? ORDER BY seq",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: GetHistory query: %w", err)
	}
	defer rows.Close()

	msgs := []domain.Message{}
	for rows.Next() {
		var (
			m            domain.Message
			role         string
			providerName sql.NullString
			rawTS        string
		)
		if err := rows.Scan(&m.Seq, &role, &m.Content, &providerName, &rawTS); err != nil {
			return nil, fmt.Errorf("repository: GetHistory scan: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, rawTS)
		if err != nil {
			return nil, fmt.Errorf("repository: GetHistory parse timestamp: %w", err)
		}
		m.Role = domain.Role(role)
		if !m.Role.Valid() {
			return nil, fmt.Errorf("repository: GetHistory: unknown role %q at seq %d", role, m.Seq)
		}
		m.ProviderName = providerName.String
		m.Timestamp = ts
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: GetHistory rows: %w", err)
	}
	return msgs, nil
}
