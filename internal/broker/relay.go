package broker

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/eldtechnologies/deskchat/internal/metrics"
	"github.com/eldtechnologies/deskchat/internal/models"
	"github.com/eldtechnologies/deskchat/internal/store"
)

// receiveRetryDelay spaces out receive attempts while the store is unreachable.
const receiveRetryDelay = 250 * time.Millisecond

// Publish emits {from: body} on the room's channel. Delivery to the
// room's listener is not confirmed.
func (b *Broker) Publish(ctx context.Context, roomID, from, body string) error {
	payload, err := models.EncodeEnvelope(from, body)
	if err != nil {
		return errors.Wrap(err, "encode message")
	}
	if err := b.backend.Publish(ctx, roomID, payload); err != nil {
		return errors.Wrapf(err, "publish to %s", roomID)
	}
	return nil
}

// listener persists everything published on one room's channel.
type listener struct {
	roomID string
	sub    *store.Subscription
	done   chan struct{}
}

// stop closes the subscription and waits for the receive loop to exit.
// A message already received is still persisted first.
func (l *listener) stop() {
	_ = l.sub.Close()
	<-l.done
}

func (b *Broker) hasListener(client string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.listeners[client]
	return ok
}

// startListener subscribes to roomID and registers the listener under the
// client's nickname, replacing any previous one.
func (b *Broker) startListener(ctx context.Context, client, roomID string) error {
	sub, err := b.backend.Subscribe(context.WithoutCancel(ctx), roomID)
	if err != nil {
		return errors.Wrapf(err, "subscribe to %s", roomID)
	}

	l := &listener{
		roomID: roomID,
		sub:    sub,
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	prev := b.listeners[client]
	b.listeners[client] = l
	b.mu.Unlock()

	if prev != nil {
		prev.stop()
	}

	metrics.ActiveListeners.Inc()
	go b.listen(l)
	return nil
}

// cancelListener stops and unregisters the client's listener, if any.
func (b *Broker) cancelListener(client string) bool {
	b.mu.Lock()
	l, ok := b.listeners[client]
	delete(b.listeners, client)
	b.mu.Unlock()

	if !ok {
		return false
	}
	l.stop()
	return true
}

func (b *Broker) listen(l *listener) {
	defer close(l.done)
	defer metrics.ActiveListeners.Dec()

	logger := b.logger.With().Str("room", l.roomID).Logger()
	logger.Debug().Msg("listener started")

	ctx := context.Background()
	for {
		payload, err := l.sub.Receive(ctx)
		if errors.Is(err, store.ErrSubscriptionClosed) {
			logger.Debug().Msg("listener stopped")
			return
		}
		if err != nil {
			metrics.PersistFailures.Inc()
			logger.Warn().Err(err).Msg("receive failed")
			time.Sleep(receiveRetryDelay)
			continue
		}

		if payload == store.SentinelMember {
			metrics.PersistFailures.Inc()
			logger.Warn().Msg("dropped payload equal to the room sentinel")
			continue
		}

		if err := b.backend.AppendEntry(ctx, l.roomID, payload, b.now()); err != nil {
			metrics.PersistFailures.Inc()
			logger.Error().Err(err).Str("payload", payload).Msg("failed to persist message")
			continue
		}
		metrics.MessagesPersisted.Inc()
	}
}
