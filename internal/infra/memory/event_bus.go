package memory

import (
	"context"
	"sync"

	"trivia-duel-service/internal/domain"
)

const subscriberBuffer = 8

// EventBus is an in-process implementation of app.EventBus.
type EventBus struct {
	mu          sync.Mutex
	subscribers map[string]map[chan domain.DuelEvent]struct{}
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string]map[chan domain.DuelEvent]struct{})}
}

func (b *EventBus) Publish(_ context.Context, event domain.DuelEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers[event.DuelID] {
		select {
		case ch <- event:
		default:
			// slow subscriber: drop its oldest event instead of blocking the publisher
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
	}
	return nil
}

func (b *EventBus) Subscribe(_ context.Context, duelID string) (<-chan domain.DuelEvent, func(), error) {
	ch := make(chan domain.DuelEvent, subscriberBuffer)

	b.mu.Lock()
	subs, ok := b.subscribers[duelID]
	if !ok {
		subs = make(map[chan domain.DuelEvent]struct{})
		b.subscribers[duelID] = subs
	}
	subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs, ok := b.subscribers[duelID]
		if !ok {
			return
		}
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(b.subscribers, duelID)
		}
	}
	return ch, cancel, nil
}

// Subscribers reports how many subscriptions are open for duelID.
func (b *EventBus) Subscribers(duelID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[duelID])
}
