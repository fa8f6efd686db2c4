package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"trivia-duel-service/internal/domain"
)

// DuelStore is an in-memory implementation of app.DuelStore. Conditional writes are linearised
// by a single mutex.
type DuelStore struct {
	mu    sync.RWMutex
	now   func() time.Time
	duels map[string]domain.Duel
	codes map[string]string
}

func NewDuelStore() *DuelStore {
	return NewDuelStoreWithClock(time.Now)
}

// NewDuelStoreWithClock allows deterministic timestamps in tests.
func NewDuelStoreWithClock(now func() time.Time) *DuelStore {
	return &DuelStore{
		now:   now,
		duels: make(map[string]domain.Duel),
		codes: make(map[string]string),
	}
}

func (s *DuelStore) Insert(_ context.Context, duel domain.Duel) (domain.Duel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.duels[duel.ID]; ok {
		return domain.Duel{}, domain.ErrConflict
	}
	if duel.InviteCode != "" {
		if _, ok := s.codes[duel.InviteCode]; ok {
			return domain.Duel{}, domain.ErrConflict
		}
		s.codes[duel.InviteCode] = duel.ID
	}
	s.duels[duel.ID] = clone(duel)
	return clone(duel), nil
}

func (s *DuelStore) ConditionalUpdate(_ context.Context, id string, cond domain.Condition, patch domain.Patch) (domain.Duel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	duel, ok := s.duels[id]
	if !ok {
		return domain.Duel{}, domain.ErrNotFound
	}
	if !cond.Matches(duel) {
		return domain.Duel{}, domain.ErrPreconditionFailed
	}
	duel = patch.Apply(duel, s.now())
	s.duels[id] = duel
	return clone(duel), nil
}

func (s *DuelStore) Get(_ context.Context, id string) (domain.Duel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	duel, ok := s.duels[id]
	if !ok {
		return domain.Duel{}, domain.ErrNotFound
	}
	return clone(duel), nil
}

func (s *DuelStore) GetByInviteCode(ctx context.Context, code string) (domain.Duel, error) {
	s.mu.RLock()
	id, ok := s.codes[code]
	s.mu.RUnlock()
	if !ok {
		return domain.Duel{}, domain.ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *DuelStore) QueryWaiting(_ context.Context, sport string, questionCount int, excludeOwner string) ([]domain.Duel, error) {
	out := s.collect(func(d domain.Duel) bool {
		return d.Status == domain.StatusWaiting && d.Sport == sport && d.QuestionCount == questionCount &&
			d.PlayerOne.UserID != excludeOwner
	})
	sortByCreated(out, true)
	return out, nil
}

func (s *DuelStore) ListForPlayer(_ context.Context, userID string, since time.Time) ([]domain.Duel, error) {
	out := s.collect(func(d domain.Duel) bool {
		return d.PositionOf(userID) != domain.NoPosition && !d.CreatedAt.Before(since)
	})
	sortByCreated(out, false)
	return out, nil
}

func (s *DuelStore) ListStale(_ context.Context, before time.Time) ([]domain.Duel, error) {
	out := s.collect(func(d domain.Duel) bool {
		return d.Status.PreJoin() && d.CreatedAt.Before(before)
	})
	sortByCreated(out, true)
	return out, nil
}

func (s *DuelStore) Delete(_ context.Context, id string, cond domain.Condition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	duel, ok := s.duels[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !cond.Matches(duel) {
		return domain.ErrPreconditionFailed
	}
	delete(s.duels, id)
	if duel.InviteCode != "" {
		delete(s.codes, duel.InviteCode)
	}
	return nil
}

func (s *DuelStore) collect(keep func(domain.Duel) bool) []domain.Duel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Duel
	for _, d := range s.duels {
		if keep(d) {
			out = append(out, clone(d))
		}
	}
	return out
}

func sortByCreated(duels []domain.Duel, ascending bool) {
	slices.SortFunc(duels, func(a, b domain.Duel) int {
		c := a.CreatedAt.Compare(b.CreatedAt)
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if !ascending {
			c = -c
		}
		return c
	})
}

func clone(d domain.Duel) domain.Duel {
	d.QuestionIDs = slices.Clone(d.QuestionIDs)
	return d
}
