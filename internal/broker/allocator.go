package broker

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/eldtechnologies/deskchat/internal/metrics"
	"github.com/eldtechnologies/deskchat/internal/models"
)

// InitiateChat assigns the next analyst to a client, creates their private
// room and starts the room's listener.
//
// A client that already has a room is treated as a leftover session: the
// room is torn down and ErrInvalidNickname is returned, so the next attempt
// starts clean.
func (b *Broker) InitiateChat(ctx context.Context, client string) (roomID string, err error) {
	ctx, span := tracer.Start(ctx, "broker.InitiateChat", trace.WithAttributes(attribute.String("client", client)))
	defer func() { endSpan(span, err) }()

	if !models.ValidNickname(client) {
		b.logger.Warn().Str("nickname", client).Msg("rejected non-alphanumeric nickname")
		return "", ErrInvalidNickname
	}

	rooms, err := b.backend.Rooms(ctx, models.ClientRoomPattern(client))
	if err != nil {
		return "", errors.Wrap(err, "list client rooms")
	}
	if len(rooms) > 0 {
		b.logger.Warn().Str("client", client).Strs("rooms", rooms).Msg("client is online already, session expired")
		if err := b.EndChat(ctx, client); err != nil {
			return "", err
		}
		return "", errors.WithMessage(ErrInvalidNickname, "session expired, please try login again")
	}

	analyst, err := b.NextAnalyst(ctx)
	if err != nil {
		if errors.Is(err, ErrNoAnalystAvailable) {
			b.logger.Warn().Str("client", client).Msg("no analyst online")
		}
		return "", err
	}

	roomID = models.RoomID(analyst, client)
	span.SetAttributes(attribute.String("room", roomID))

	created, err := b.backend.CreateRoom(ctx, roomID)
	if err != nil {
		return "", fail(ErrRoomCreateFailed, err)
	}
	if !created {
		b.logger.Error().Str("room", roomID).Msg("chat room already exists")
		return "", errors.WithMessagef(ErrRoomCreateFailed, "room %s already exists", roomID)
	}

	if err := b.backend.AddClient(ctx, client); err != nil {
		b.dropRoom(ctx, roomID)
		return "", fail(ErrPresenceUpdateFailed, err)
	}

	if err := b.startListener(ctx, client, roomID); err != nil {
		b.dropRoom(ctx, roomID)
		return "", fail(ErrRoomCreateFailed, err)
	}

	metrics.RoomsOpened.Inc()
	b.logger.Info().Str("room", roomID).Str("analyst", analyst).Str("client", client).Msg("chat room created")
	return roomID, nil
}

// dropRoom undoes a half-created room.
func (b *Broker) dropRoom(ctx context.Context, roomID string) {
	if err := b.backend.DeleteRooms(ctx, roomID); err != nil {
		b.logger.Error().Err(err).Str("room", roomID).Msg("failed to remove half-created room")
	}
}
