package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/deskchat/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS transcripts (
	id         TEXT PRIMARY KEY,
	room_id    TEXT NOT NULL,
	analyst    TEXT NOT NULL,
	client     TEXT NOT NULL,
	closed_at  TIMESTAMPTZ NOT NULL,
	messages   JSONB NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_transcripts_analyst ON transcripts(analyst, closed_at DESC);
`

// PostgresStore handles PostgreSQL transcript archiving.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool
// and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SaveTranscript archives a closed room.
func (s *PostgresStore) SaveTranscript(ctx context.Context, t *models.Transcript) error {
	prepareTranscript(t)

	messages, err := json.Marshal(t.Messages)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO transcripts (id, room_id, analyst, client, closed_at, messages)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.RoomID, t.Analyst, t.Client, t.ClosedAt, messages)
	return err
}

// ListTranscripts returns an analyst's most recent transcripts.
func (s *PostgresStore) ListTranscripts(ctx context.Context, analyst string, limit int) ([]models.Transcript, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, analyst, client, closed_at, messages
		FROM transcripts
		WHERE analyst = $1
		ORDER BY closed_at DESC
		LIMIT $2
	`, analyst, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transcripts []models.Transcript
	for rows.Next() {
		var t models.Transcript
		var messages []byte
		if err := rows.Scan(&t.ID, &t.RoomID, &t.Analyst, &t.Client, &t.ClosedAt, &messages); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(messages, &t.Messages); err != nil {
			return nil, err
		}
		transcripts = append(transcripts, t)
	}

	return transcripts, rows.Err()
}

// CountTranscripts returns the number of archived transcripts.
func (s *PostgresStore) CountTranscripts(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transcripts`).Scan(&count)
	return count, err
}
