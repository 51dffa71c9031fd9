package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/deskchat/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS transcripts (
	id        TEXT PRIMARY KEY,
	room_id   TEXT NOT NULL,
	analyst   TEXT NOT NULL,
	client    TEXT NOT NULL,
	closed_at DATETIME NOT NULL,
	messages  TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_transcripts_analyst ON transcripts(analyst, closed_at);
`

// SQLiteStore handles SQLite transcript archiving.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/deskchat.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/deskchat.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	return newSQLiteStore(ctx, db)
}

func newSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveTranscript archives a closed room.
func (s *SQLiteStore) SaveTranscript(ctx context.Context, t *models.Transcript) error {
	prepareTranscript(t)

	messages, err := json.Marshal(t.Messages)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transcripts (id, room_id, analyst, client, closed_at, messages)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ID, t.RoomID, t.Analyst, t.Client, t.ClosedAt, string(messages))
	return err
}

// ListTranscripts returns an analyst's most recent transcripts.
func (s *SQLiteStore) ListTranscripts(ctx context.Context, analyst string, limit int) ([]models.Transcript, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, analyst, client, closed_at, messages
		FROM transcripts
		WHERE analyst = ?
		ORDER BY closed_at DESC
		LIMIT ?
	`, analyst, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transcripts []models.Transcript
	for rows.Next() {
		var t models.Transcript
		var closedAt time.Time
		var messages string
		if err := rows.Scan(&t.ID, &t.RoomID, &t.Analyst, &t.Client, &closedAt, &messages); err != nil {
			return nil, err
		}
		t.ClosedAt = closedAt.UTC()
		if err := json.Unmarshal([]byte(messages), &t.Messages); err != nil {
			return nil, err
		}
		transcripts = append(transcripts, t)
	}

	return transcripts, rows.Err()
}

// CountTranscripts returns the number of archived transcripts.
func (s *SQLiteStore) CountTranscripts(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transcripts`).Scan(&count)
	return count, err
}
