package notify

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trivia-duel-service/internal/domain"
)

func TestLogNotifierLogsEachNotification(t *testing.T) {
	logger, hook := test.NewNullLogger()
	n := NewLogNotifier(logger)
	ctx := context.Background()

	require.NoError(t, n.NotifyChallenge(ctx, "bob", "d1", "Alice"))
	require.NoError(t, n.NotifyTurn(ctx, "alice", "d1"))
	require.NoError(t, n.NotifyComplete(ctx, "bob", "d1", domain.ResultLoss))

	entries := hook.AllEntries()
	require.Len(t, entries, 3)
	assert.Equal(t, "Alice", entries[0].Data["challenger"])
	assert.Equal(t, logrus.InfoLevel, entries[1].Level)
	assert.Equal(t, domain.ResultLoss, entries[2].Data["result"])
	assert.Equal(t, "notifier", entries[2].Data["component"])
}
