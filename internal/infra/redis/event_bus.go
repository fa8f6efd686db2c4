package redis

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"trivia-duel-service/internal/domain"
)

const subscriberBuffer = 8

// EventBus fans DuelUpdated events out through Redis pub/sub so subscribers connected to any
// instance see writes committed on every other instance.
type EventBus struct {
	client *redis.Client
	log    logrus.FieldLogger
}

func NewEventBus(client *redis.Client, log logrus.FieldLogger) *EventBus {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &EventBus{client: client, log: log}
}

func (b *EventBus) Publish(ctx context.Context, event domain.DuelEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, eventChannel(event.DuelID), payload).Err()
}

func (b *EventBus) Subscribe(ctx context.Context, duelID string) (<-chan domain.DuelEvent, func(), error) {
	pubsub := b.client.Subscribe(ctx, eventChannel(duelID))
	// wait for the subscription confirmation so no event published after we return is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	out := make(chan domain.DuelEvent, subscriberBuffer)
	done := make(chan struct{})
	go func() {
		defer close(out)
		messages := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event domain.DuelEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.log.WithError(err).WithField("duel_id", duelID).Warn("drop malformed duel event")
					continue
				}
				deliver(out, event)
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}
	return out, cancel, nil
}

// deliver never blocks: a slow subscriber loses its oldest event.
func deliver(ch chan domain.DuelEvent, event domain.DuelEvent) {
	select {
	case ch <- event:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- event:
	default:
	}
}

func eventChannel(duelID string) string {
	return "trivia:duel:events:" + duelID
}
