package broker

import (
	"context"

	"github.com/pkg/errors"

	"github.com/eldtechnologies/deskchat/internal/models"
)

// SetOnline records a participant as online. Clients join an unordered set;
// analysts are upserted into the join-ordered set with the current time.
func (b *Broker) SetOnline(ctx context.Context, role models.Role, nickname string) error {
	if !models.ValidNickname(nickname) {
		b.logger.Warn().Str("nickname", nickname).Msg("rejected non-alphanumeric nickname")
		return ErrInvalidNickname
	}

	switch role {
	case models.RoleClient:
		if err := b.backend.AddClient(ctx, nickname); err != nil {
			return fail(ErrPresenceUpdateFailed, err)
		}
	case models.RoleAnalyst:
		// First analyst since the set was last empty starts the cursor.
		if err := b.backend.InitCursor(ctx); err != nil {
			return fail(ErrPresenceUpdateFailed, err)
		}
		if err := b.backend.UpsertAnalyst(ctx, nickname, b.now()); err != nil {
			return fail(ErrPresenceUpdateFailed, err)
		}
	default:
		return ErrInvalidRole
	}
	return nil
}

// SetOffline removes a participant. Analysts are refused while they still
// have open rooms; clients end their chat.
func (b *Broker) SetOffline(ctx context.Context, role models.Role, nickname string) error {
	if !models.ValidNickname(nickname) {
		b.logger.Warn().Str("nickname", nickname).Msg("rejected non-alphanumeric nickname")
		return ErrInvalidNickname
	}

	switch role {
	case models.RoleClient:
		return b.EndChat(ctx, nickname)
	case models.RoleAnalyst:
		return b.analystOffline(ctx, nickname)
	default:
		return ErrInvalidRole
	}
}

func (b *Broker) analystOffline(ctx context.Context, nickname string) error {
	rooms, err := b.backend.Rooms(ctx, models.AnalystRoomPattern(nickname))
	if err != nil {
		return errors.Wrap(err, "list analyst rooms")
	}
	if len(rooms) > 0 {
		b.logger.Warn().
			Str("analyst", nickname).
			Int("rooms", len(rooms)).
			Msg("analyst has to remain online, conversations still ongoing")
		return errors.WithMessagef(ErrActiveRoomsExist, "analyst %q has %d open rooms", nickname, len(rooms))
	}

	removed, err := b.backend.RemoveAnalyst(ctx, nickname)
	if err != nil {
		return fail(ErrPresenceUpdateFailed, err)
	}
	if !removed {
		b.logger.Warn().Str("analyst", nickname).Msg("analyst was not online")
	}

	count, err := b.backend.AnalystCount(ctx)
	if err != nil {
		return errors.Wrap(err, "count analysts")
	}
	if count == 0 {
		if err := b.backend.ClearCursor(ctx); err != nil {
			return errors.Wrap(err, "clear assignment cursor")
		}
	}
	return nil
}

// NextAnalyst advances the shared cursor and returns the analyst it lands
// on. A cursor that reaches the analyst count is reset to 0 rather than
// wrapped, so with two analysts the order is index 1, 0, 1, 0, ...
func (b *Broker) NextAnalyst(ctx context.Context) (string, error) {
	count, err := b.backend.AnalystCount(ctx)
	if err != nil {
		return "", errors.Wrap(err, "count analysts")
	}
	if count == 0 {
		return "", ErrNoAnalystAvailable
	}

	cursor, err := b.backend.AdvanceCursor(ctx)
	if err != nil {
		return "", errors.Wrap(err, "advance assignment cursor")
	}
	if cursor >= count {
		cursor = 0
		if err := b.backend.ResetCursor(ctx); err != nil {
			return "", errors.Wrap(err, "reset assignment cursor")
		}
	}

	analyst, err := b.backend.AnalystAt(ctx, cursor)
	if err != nil {
		return "", errors.Wrap(err, "look up analyst")
	}
	if analyst == "" {
		// The set shrank between the count and the lookup.
		return "", ErrNoAnalystAvailable
	}
	return analyst, nil
}
