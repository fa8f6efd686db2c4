package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"trivia-duel-service/internal/domain"
)

// DefaultOutboxLength caps the push outbox when the consumer falls behind.
const DefaultOutboxLength = 10000

// PushMessage is what the push worker reads from the outbox.
type PushMessage struct {
	Kind           string        `json:"kind"`
	RecipientID    string        `json:"recipientId"`
	DuelID         string        `json:"duelId"`
	ChallengerName string        `json:"challengerName,omitempty"`
	Result         domain.Result `json:"result,omitempty"`
	At             time.Time     `json:"at"`
}

// Notifier writes push notifications into a Redis list consumed by a separate push worker.
// Delivery is best-effort: the list is trimmed to maxLen, newest first.
type Notifier struct {
	client *redis.Client
	key    string
	maxLen int64
	now    func() time.Time
}

func NewNotifier(client *redis.Client, key string, maxLen int64) *Notifier {
	if key == "" {
		key = "trivia:push:outbox"
	}
	if maxLen <= 0 {
		maxLen = DefaultOutboxLength
	}
	return &Notifier{client: client, key: key, maxLen: maxLen, now: time.Now}
}

func (n *Notifier) NotifyChallenge(ctx context.Context, recipientID, duelID, challengerName string) error {
	return n.push(ctx, PushMessage{Kind: "challenge", RecipientID: recipientID, DuelID: duelID, ChallengerName: challengerName})
}

func (n *Notifier) NotifyTurn(ctx context.Context, recipientID, duelID string) error {
	return n.push(ctx, PushMessage{Kind: "turn", RecipientID: recipientID, DuelID: duelID})
}

func (n *Notifier) NotifyComplete(ctx context.Context, recipientID, duelID string, result domain.Result) error {
	return n.push(ctx, PushMessage{Kind: "complete", RecipientID: recipientID, DuelID: duelID, Result: result})
}

func (n *Notifier) push(ctx context.Context, msg PushMessage) error {
	msg.At = n.now().UTC()
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	pipe := n.client.TxPipeline()
	pipe.LPush(ctx, n.key, payload)
	pipe.LTrim(ctx, n.key, 0, n.maxLen-1)
	_, err = pipe.Exec(ctx)
	return err
}
