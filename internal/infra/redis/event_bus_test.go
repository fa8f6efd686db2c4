package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trivia-duel-service/internal/domain"
	"trivia-duel-service/internal/testutil"
)

func TestEventBusDeliversAcrossClients(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	publisher := NewEventBus(newClient(mr), testutil.QuietLogger())
	subscriber := NewEventBus(newClient(mr), testutil.QuietLogger())

	events, cancel, err := subscriber.Subscribe(ctx, "d1")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, publisher.Publish(ctx, domain.DuelEvent{DuelID: "d2", Round: 9}))
	require.NoError(t, publisher.Publish(ctx, domain.DuelEvent{DuelID: "d1", Status: domain.StatusActive, Round: 2, Fields: []string{"player_one"}}))

	select {
	case e := <-events:
		assert.Equal(t, "d1", e.DuelID)
		assert.Equal(t, 2, e.Round)
		assert.Equal(t, []string{"player_one"}, e.Fields)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestEventBusCancelClosesChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	bus := NewEventBus(newClient(mr), testutil.QuietLogger())

	events, cancel, err := bus.Subscribe(context.Background(), "d1")
	require.NoError(t, err)
	cancel()
	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
}

func TestDeliverDropsOldest(t *testing.T) {
	ch := make(chan domain.DuelEvent, 2)
	for round := 1; round <= 4; round++ {
		deliver(ch, domain.DuelEvent{Round: round})
	}
	assert.Equal(t, 3, (<-ch).Round)
	assert.Equal(t, 4, (<-ch).Round)
}
