package broker

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/eldtechnologies/deskchat/internal/metrics"
	"github.com/eldtechnologies/deskchat/internal/models"
)

// Login brings a participant online. A client is also assigned an analyst
// and gets a room, whose id is returned; analysts get "".
func (b *Broker) Login(ctx context.Context, role models.Role, nickname string) (roomID string, err error) {
	ctx, span := tracer.Start(ctx, "broker.Login", trace.WithAttributes(
		attribute.String("role", string(role)),
		attribute.String("nickname", nickname),
	))
	defer func() {
		metrics.Logins.WithLabelValues(string(role), strconv.Itoa(int(Code(err)))).Inc()
		endSpan(span, err)
	}()

	switch role {
	case models.RoleAnalyst:
		if err := b.SetOnline(ctx, role, nickname); err != nil {
			return "", err
		}
		b.logger.Info().Str("analyst", nickname).Msg("analyst logged in")
		return "", nil

	case models.RoleClient:
		if err := b.SetOnline(ctx, role, nickname); err != nil {
			return "", err
		}
		roomID, err := b.InitiateChat(ctx, nickname)
		if err != nil {
			// A client without a room is not online.
			if rmErr := b.backend.RemoveClient(ctx, nickname); rmErr != nil {
				b.logger.Error().Err(rmErr).Str("client", nickname).Msg("failed to revert client presence")
			}
			return "", err
		}
		return roomID, nil

	default:
		return "", ErrInvalidRole
	}
}

// Logout takes a participant offline. For analysts this fails with
// ErrActiveRoomsExist while any of their rooms is open.
func (b *Broker) Logout(ctx context.Context, role models.Role, nickname string) (err error) {
	ctx, span := tracer.Start(ctx, "broker.Logout", trace.WithAttributes(
		attribute.String("role", string(role)),
		attribute.String("nickname", nickname),
	))
	defer func() { endSpan(span, err) }()

	if err := b.SetOffline(ctx, role, nickname); err != nil {
		return err
	}
	b.logger.Info().Str("role", string(role)).Str("nickname", nickname).Msg("logged out")
	return nil
}

// EndChat closes the client's chat: the listener is cancelled first, then
// the client goes offline and every room it is in is archived and deleted.
func (b *Broker) EndChat(ctx context.Context, client string) (err error) {
	ctx, span := tracer.Start(ctx, "broker.EndChat", trace.WithAttributes(attribute.String("client", client)))
	defer func() { endSpan(span, err) }()

	if !models.ValidNickname(client) {
		b.logger.Warn().Str("nickname", client).Msg("rejected non-alphanumeric nickname")
		return ErrInvalidNickname
	}

	if !b.cancelListener(client) {
		b.logger.Debug().Str("client", client).Msg("no listener registered")
	}

	if err := b.backend.RemoveClient(ctx, client); err != nil {
		return fail(ErrPresenceUpdateFailed, err)
	}

	rooms, err := b.backend.Rooms(ctx, models.ClientRoomPattern(client))
	if err != nil {
		return errors.Wrap(err, "list client rooms")
	}
	if len(rooms) == 0 {
		return nil
	}

	for _, roomID := range rooms {
		b.archiveRoom(ctx, roomID)
	}
	if err := b.backend.DeleteRooms(ctx, rooms...); err != nil {
		return errors.Wrap(err, "delete rooms")
	}

	metrics.RoomsClosed.Add(float64(len(rooms)))
	b.logger.Info().Str("client", client).Strs("rooms", rooms).Msg("chat rooms closed")
	return nil
}

// Send relays body from the caller into the caller's room. A client has
// exactly one room; an analyst must name the client in to.
func (b *Broker) Send(ctx context.Context, from models.Identity, to, body string) (roomID string, err error) {
	ctx, span := tracer.Start(ctx, "broker.Send", trace.WithAttributes(
		attribute.String("role", string(from.Role)),
		attribute.String("nickname", from.Nickname),
	))
	defer func() { endSpan(span, err) }()

	if !models.ValidNickname(from.Nickname) {
		return "", ErrInvalidNickname
	}

	switch from.Role {
	case models.RoleClient:
		roomID, err = b.soleRoom(ctx, from.Nickname)
		if err != nil {
			return "", err
		}
	case models.RoleAnalyst:
		if to == "" {
			return "", ErrRecipientRequired
		}
		if !models.ValidNickname(to) {
			return "", ErrInvalidNickname
		}
		roomID, err = b.soleRoom(ctx, to)
		if err != nil {
			return "", err
		}
		if analyst, _, _ := models.ParseRoomID(roomID); analyst != from.Nickname {
			return "", errors.WithMessagef(ErrNotAssigned, "client %s is not communicating with %s now", to, from.Nickname)
		}
	default:
		return "", ErrInvalidRole
	}

	if err := b.Publish(ctx, roomID, from.Nickname, body); err != nil {
		return "", err
	}
	metrics.MessagesRelayed.WithLabelValues(string(from.Role)).Inc()
	return roomID, nil
}

// soleRoom returns the client's room, which must be unique.
func (b *Broker) soleRoom(ctx context.Context, client string) (string, error) {
	rooms, err := b.backend.Rooms(ctx, models.ClientRoomPattern(client))
	if err != nil {
		return "", errors.Wrap(err, "list client rooms")
	}
	if len(rooms) != 1 {
		return "", errors.WithMessagef(ErrPreconditionViolation, "client %s must have exactly one room, but %d found", client, len(rooms))
	}
	return rooms[0], nil
}

// archiveRoom snapshots a room into the transcript archive. Failures are
// logged; they never keep a room alive.
func (b *Broker) archiveRoom(ctx context.Context, roomID string) {
	if b.archive == nil {
		return
	}

	analyst, client, ok := models.ParseRoomID(roomID)
	if !ok {
		return
	}

	msgs, err := b.GetMessages(ctx, roomID)
	if err == nil {
		err = b.archive.SaveTranscript(ctx, &models.Transcript{
			RoomID:   roomID,
			Analyst:  analyst,
			Client:   client,
			ClosedAt: b.now().UTC(),
			Messages: msgs,
		})
	}
	if err != nil {
		metrics.TranscriptsArchived.WithLabelValues("error").Inc()
		b.logger.Error().Err(err).Str("room", roomID).Msg("failed to archive transcript")
		return
	}
	metrics.TranscriptsArchived.WithLabelValues("ok").Inc()
}

// Transcripts lists the archived transcripts of an analyst, newest first.
func (b *Broker) Transcripts(ctx context.Context, analyst string, limit int) ([]models.Transcript, error) {
	if !models.ValidNickname(analyst) {
		return nil, ErrInvalidNickname
	}
	if b.archive == nil {
		return []models.Transcript{}, nil
	}
	list, err := b.archive.ListTranscripts(ctx, analyst, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list transcripts")
	}
	if list == nil {
		list = []models.Transcript{}
	}
	return list, nil
}
