package app

import (
	"context"
	"time"

	"trivia-duel-service/internal/domain"
)

// DuelStore abstracts how duels are persisted (in-memory, Redis, SQL).
// Every write that depends on the current state goes through ConditionalUpdate so that two
// participants racing on the same duel are linearised by the store.
type DuelStore interface {
	// Insert fails with domain.ErrConflict when the ID or invite code is taken.
	Insert(ctx context.Context, duel domain.Duel) (domain.Duel, error)
	// ConditionalUpdate applies patch only if cond still holds, otherwise domain.ErrPreconditionFailed.
	ConditionalUpdate(ctx context.Context, id string, cond domain.Condition, patch domain.Patch) (domain.Duel, error)
	Get(ctx context.Context, id string) (domain.Duel, error)
	GetByInviteCode(ctx context.Context, code string) (domain.Duel, error)
	// QueryWaiting lists waiting duels for sport and questionCount not owned by excludeOwner,
	// oldest first.
	QueryWaiting(ctx context.Context, sport string, questionCount int, excludeOwner string) ([]domain.Duel, error)
	// ListForPlayer lists duels userID takes part in that were created at or after since, newest first.
	ListForPlayer(ctx context.Context, userID string, since time.Time) ([]domain.Duel, error)
	// ListStale lists pre-join duels created before the given time.
	ListStale(ctx context.Context, before time.Time) ([]domain.Duel, error)
	// Delete removes the duel only if cond still holds.
	Delete(ctx context.Context, id string, cond domain.Condition) error
}

// EventBus fans DuelUpdated events out to subscribers of a duel. Losing an event only delays a
// client refresh; the store stays the source of truth.
type EventBus interface {
	Publish(ctx context.Context, event domain.DuelEvent) error
	// Subscribe returns a channel of events for duelID. The caller must invoke the returned cancel
	// function to avoid leaks.
	Subscribe(ctx context.Context, duelID string) (<-chan domain.DuelEvent, func(), error)
}

// Notifier delivers best-effort push signals to players.
type Notifier interface {
	NotifyChallenge(ctx context.Context, recipientID, duelID, challengerName string) error
	NotifyTurn(ctx context.Context, recipientID, duelID string) error
	NotifyComplete(ctx context.Context, recipientID, duelID string, result domain.Result) error
}

// QuestionCatalog loads the read-only question catalog of a sport.
type QuestionCatalog interface {
	Questions(ctx context.Context, sport string) ([]domain.Question, error)
}

// QuestionSelector picks question IDs out of a catalog.
type QuestionSelector interface {
	SelectQuestions(sport string, catalog []domain.Question, count int) []string
	SelectOne(sport string, catalog []domain.Question, exclude []string) (string, bool)
}
