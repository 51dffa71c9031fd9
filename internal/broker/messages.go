package broker

import (
	"context"

	"github.com/pkg/errors"

	"github.com/eldtechnologies/deskchat/internal/models"
)

// GetMessages returns a room's history after the sentinel, oldest first.
func (b *Broker) GetMessages(ctx context.Context, roomID string) ([]models.MessageEntry, error) {
	entries, err := b.backend.RoomEntries(ctx, roomID)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", roomID)
	}
	return b.decode(roomID, entries), nil
}

// PopMessages returns the same sequence as GetMessages and trims it from
// the log. The store performs the read and the trim as one transaction.
func (b *Broker) PopMessages(ctx context.Context, roomID string) ([]models.MessageEntry, error) {
	entries, err := b.backend.PopRoomEntries(ctx, roomID)
	if err != nil {
		return nil, errors.Wrapf(err, "pop %s", roomID)
	}
	return b.decode(roomID, entries), nil
}

// Messages returns the history of every room the caller takes part in,
// keyed by room id.
func (b *Broker) Messages(ctx context.Context, who models.Identity) (map[string][]models.MessageEntry, error) {
	return b.collect(ctx, who, b.GetMessages)
}

// PopAll pops the history of every room the caller takes part in.
func (b *Broker) PopAll(ctx context.Context, who models.Identity) (map[string][]models.MessageEntry, error) {
	return b.collect(ctx, who, b.PopMessages)
}

func (b *Broker) collect(ctx context.Context, who models.Identity, read func(context.Context, string) ([]models.MessageEntry, error)) (map[string][]models.MessageEntry, error) {
	rooms, err := b.Rooms(ctx, who.Role, who.Nickname)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]models.MessageEntry, len(rooms))
	for _, roomID := range rooms {
		msgs, err := read(ctx, roomID)
		if err != nil {
			return nil, err
		}
		out[roomID] = msgs
	}
	return out, nil
}

func (b *Broker) decode(roomID string, entries []models.LogEntry) []models.MessageEntry {
	msgs := make([]models.MessageEntry, 0, len(entries))
	for _, e := range entries {
		msg, err := models.NewMessageEntry(roomID, e)
		if err != nil {
			b.logger.Warn().Err(err).Str("room", roomID).Str("value", e.Value).Msg("skipping malformed log entry")
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs
}
