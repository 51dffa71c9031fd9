// Package broker pairs clients with analysts in private rooms, relays their
// messages and keeps each room's history in the shared store.
//
// All shared state (presence sets, the assignment cursor, room logs) lives
// in the store and is mutated through its single-operation primitives. The
// only process-local state is the registry of running room listeners.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/eldtechnologies/deskchat/internal/models"
	"github.com/eldtechnologies/deskchat/internal/store"
)

var tracer = otel.Tracer("github.com/eldtechnologies/deskchat/internal/broker")

// Backend is the shared store capability the broker runs on.
// *store.RedisStore implements it.
type Backend interface {
	AddClient(ctx context.Context, nickname string) error
	RemoveClient(ctx context.Context, nickname string) error

	UpsertAnalyst(ctx context.Context, nickname string, joinedAt time.Time) error
	RemoveAnalyst(ctx context.Context, nickname string) (bool, error)
	AnalystCount(ctx context.Context) (int64, error)
	AnalystAt(ctx context.Context, idx int64) (string, error)

	InitCursor(ctx context.Context) error
	AdvanceCursor(ctx context.Context) (int64, error)
	ResetCursor(ctx context.Context) error
	ClearCursor(ctx context.Context) error

	Rooms(ctx context.Context, pattern string) ([]string, error)
	CreateRoom(ctx context.Context, roomID string) (bool, error)
	AppendEntry(ctx context.Context, roomID, value string, at time.Time) error
	RoomEntries(ctx context.Context, roomID string) ([]models.LogEntry, error)
	PopRoomEntries(ctx context.Context, roomID string) ([]models.LogEntry, error)
	DeleteRooms(ctx context.Context, roomIDs ...string) error

	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channel string) (*store.Subscription, error)
}

// Option configures a Broker.
type Option func(*Broker)

// WithClock replaces time.Now for join order and message timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// WithArchive stores a transcript of every room before it is deleted.
func WithArchive(archive store.TranscriptStore) Option {
	return func(b *Broker) { b.archive = archive }
}

// Broker owns the listener registry and coordinates presence, rooms and
// relay on top of a Backend. Construct one per process.
type Broker struct {
	backend Backend
	archive store.TranscriptStore
	logger  zerolog.Logger
	now     func() time.Time

	mu        sync.Mutex
	listeners map[string]*listener // by client nickname
}

// New creates a Broker.
func New(backend Backend, logger zerolog.Logger, opts ...Option) *Broker {
	b := &Broker{
		backend:   backend,
		logger:    logger.With().Str("component", "broker").Logger(),
		now:       time.Now,
		listeners: make(map[string]*listener),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Rooms lists the rooms a participant currently takes part in.
func (b *Broker) Rooms(ctx context.Context, role models.Role, nickname string) ([]string, error) {
	if !models.ValidNickname(nickname) {
		return nil, ErrInvalidNickname
	}
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	return b.backend.Rooms(ctx, models.RoomPattern(role, nickname))
}

// Resume starts listeners for rooms that exist in the store but have none
// in this process, e.g. after a restart.
func (b *Broker) Resume(ctx context.Context) (int, error) {
	rooms, err := b.backend.Rooms(ctx, "room:*:*")
	if err != nil {
		return 0, err
	}

	started := 0
	for _, roomID := range rooms {
		_, client, ok := models.ParseRoomID(roomID)
		if !ok || b.hasListener(client) {
			continue
		}
		if err := b.startListener(ctx, client, roomID); err != nil {
			return started, err
		}
		started++
	}

	if started > 0 {
		b.logger.Info().Int("listeners", started).Msg("resumed room listeners")
	}
	return started, nil
}

// Shutdown stops every running listener.
func (b *Broker) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	running := make([]*listener, 0, len(b.listeners))
	for client, l := range b.listeners {
		running = append(running, l)
		delete(b.listeners, client)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, l := range running {
			l.stop()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
