package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"trivia-duel-service/internal/domain"
)

// Get returns a duel with lazy expiry applied: a pre-join duel older than the invite TTL is
// reported as expired whether or not anything persisted that status.
func (s *DuelService) Get(ctx context.Context, duelID string) (domain.Duel, error) {
	d, err := s.store.Get(ctx, duelID)
	if err != nil {
		return domain.Duel{}, err
	}
	return d.WithEffectiveStatus(s.now(), s.inviteTTL), nil
}

// ListForPlayer lists the duels of userID inside the listing window, newest first. The window is
// wider than the invite TTL so recently expired invites stay visible in history.
func (s *DuelService) ListForPlayer(ctx context.Context, userID string) ([]domain.Duel, error) {
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	now := s.now()
	duels, err := s.store.ListForPlayer(ctx, userID, now.Add(-s.listingWindow))
	if err != nil {
		return nil, fmt.Errorf("list duels: %w", err)
	}
	for i := range duels {
		duels[i] = duels[i].WithEffectiveStatus(now, s.inviteTTL)
	}
	return duels, nil
}

// Subscribe streams DuelUpdated events of a duel to one of its participants.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *DuelService) Subscribe(ctx context.Context, duelID, callerID string) (<-chan domain.DuelEvent, func(), error) {
	d, err := s.store.Get(ctx, duelID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := authorize(d, callerID, participant); err != nil {
		return nil, nil, err
	}
	if s.bus == nil {
		return nil, nil, errors.New("no event bus configured")
	}
	return s.bus.Subscribe(ctx, duelID)
}

// SweepExpired persists the expired status on pre-join duels older than the invite TTL. Reads do
// not depend on it; a join racing the sweep is decided by whichever write commits first.
func (s *DuelService) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()
	stale, err := s.store.ListStale(ctx, now.Add(-s.inviteTTL))
	if err != nil {
		return 0, fmt.Errorf("list stale duels: %w", err)
	}
	patch := domain.Patch{Status: ptr(domain.StatusExpired)}
	expired := 0
	for _, d := range stale {
		updated, err := s.store.ConditionalUpdate(ctx, d.ID, domain.InStatus(domain.StatusWaiting, domain.StatusInvite), patch)
		switch {
		case errors.Is(err, domain.ErrPreconditionFailed), errors.Is(err, domain.ErrNotFound):
			continue
		case err != nil:
			return expired, fmt.Errorf("expire duel %s: %w", d.ID, err)
		}
		expired++
		s.publishDuel(ctx, updated, patch.Fields())
	}
	if expired > 0 {
		s.log.WithFields(logrus.Fields{"expired": expired, "candidates": len(stale)}).Info("expired stale duels")
	}
	return expired, nil
}
