package store

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/eldtechnologies/deskchat/internal/models"
)

// TranscriptStore defines the interface for archiving closed rooms.
// Both PostgresStore and SQLiteStore implement this interface.
type TranscriptStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Transcript operations
	SaveTranscript(ctx context.Context, t *models.Transcript) error
	ListTranscripts(ctx context.Context, analyst string, limit int) ([]models.Transcript, error)
	CountTranscripts(ctx context.Context) (int64, error)
}

// prepareTranscript fills in the id and close time when unset.
func prepareTranscript(t *models.Transcript) {
	if t.ID == "" {
		t.ID = ulid.Make().String()
	}
	if t.ClosedAt.IsZero() {
		t.ClosedAt = time.Now().UTC()
	}
	if t.Messages == nil {
		t.Messages = []models.MessageEntry{}
	}
}
