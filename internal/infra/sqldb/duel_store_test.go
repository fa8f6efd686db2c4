package sqldb_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"trivia-duel-service/internal/domain"
	"trivia-duel-service/internal/infra/sqldb"
	"trivia-duel-service/internal/testutil"
)

type DuelStoreSuite struct {
	suite.Suite
	db    *sql.DB
	store *sqldb.DuelStore
	base  time.Time
}

func (s *DuelStoreSuite) SetupTest() {
	s.db = testutil.NewTestDB(s.T())
	s.store = sqldb.NewDuelStore(s.db, sqldb.SQLite)
	s.base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
}

func (s *DuelStoreSuite) TearDownTest() {
	testutil.MustClose(s.T(), s.db)
}

func (s *DuelStoreSuite) waiting(id, owner string, offset time.Duration) domain.Duel {
	created := s.base.Add(offset)
	return domain.Duel{
		ID:            id,
		Sport:         "nba",
		Mode:          domain.ModeLive,
		PlayerOne:     domain.PlayerSlot{UserID: owner},
		QuestionIDs:   []string{"nba-01", "nba-02", "nba-03"},
		QuestionCount: 3,
		CurrentRound:  1,
		Status:        domain.StatusWaiting,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func (s *DuelStoreSuite) TestInsertAndGetRoundTrip() {
	ctx := context.Background()
	d := s.waiting("d1", "alice", 0)
	d.InviteCode = "ABC234"
	started := s.base.Add(time.Minute)
	ms := int64(1234)
	d.RoundStartedAt = &started
	d.PlayerTwo = domain.PlayerSlot{UserID: "bob", Answer: "Celtics", AnswerMs: &ms, Score: 2, TotalMs: 4000}

	_, err := s.store.Insert(ctx, d)
	s.Require().NoError(err)

	got, err := s.store.Get(ctx, "d1")
	s.Require().NoError(err)
	s.Equal(d.QuestionIDs, got.QuestionIDs)
	s.Equal(domain.StatusWaiting, got.Status)
	s.Equal(domain.ModeLive, got.Mode)
	s.Equal("ABC234", got.InviteCode)
	s.True(got.CreatedAt.Equal(d.CreatedAt))
	s.Require().NotNil(got.RoundStartedAt)
	s.True(got.RoundStartedAt.Equal(started))
	s.Equal("bob", got.PlayerTwo.UserID)
	s.Require().NotNil(got.PlayerTwo.AnswerMs)
	s.EqualValues(1234, *got.PlayerTwo.AnswerMs)
	s.Nil(got.PlayerOne.AnswerMs)
	s.Nil(got.PlayerOne.CompletedAt)

	byCode, err := s.store.GetByInviteCode(ctx, "ABC234")
	s.Require().NoError(err)
	s.Equal("d1", byCode.ID)

	_, err = s.store.Get(ctx, "missing")
	s.ErrorIs(err, domain.ErrNotFound)
	_, err = s.store.GetByInviteCode(ctx, "")
	s.ErrorIs(err, domain.ErrNotFound)
}

func (s *DuelStoreSuite) TestInsertConflicts() {
	ctx := context.Background()
	d := s.waiting("d1", "alice", 0)
	d.InviteCode = "ABC234"
	_, err := s.store.Insert(ctx, d)
	s.Require().NoError(err)

	_, err = s.store.Insert(ctx, d)
	s.ErrorIs(err, domain.ErrConflict)

	sameCode := s.waiting("d2", "bob", 0)
	sameCode.InviteCode = "ABC234"
	_, err = s.store.Insert(ctx, sameCode)
	s.ErrorIs(err, domain.ErrConflict)

	// duels without a code never collide on it
	_, err = s.store.Insert(ctx, s.waiting("d3", "carol", 0))
	s.Require().NoError(err)
	_, err = s.store.Insert(ctx, s.waiting("d4", "dave", 0))
	s.Require().NoError(err)
}

func (s *DuelStoreSuite) TestConditionalUpdate() {
	ctx := context.Background()
	_, err := s.store.Insert(ctx, s.waiting("d1", "alice", 0))
	s.Require().NoError(err)

	active := domain.StatusActive
	bob := "bob"
	started := s.base.Add(time.Minute)
	updated, err := s.store.ConditionalUpdate(ctx, "d1",
		domain.Condition{Statuses: []domain.DuelStatus{domain.StatusWaiting}, OpenSeat: true},
		domain.Patch{Status: &active, RoundStartedAt: &started, PlayerTwo: domain.SlotPatch{UserID: &bob}})
	s.Require().NoError(err)
	s.Equal(domain.StatusActive, updated.Status)
	s.Equal("bob", updated.PlayerTwo.UserID)
	s.Require().NotNil(updated.RoundStartedAt)

	_, err = s.store.ConditionalUpdate(ctx, "d1", domain.InStatus(domain.StatusWaiting), domain.Patch{Status: &active})
	s.ErrorIs(err, domain.ErrPreconditionFailed)
	_, err = s.store.ConditionalUpdate(ctx, "d1", domain.InStatus(domain.StatusActive).AtRound(2), domain.Patch{Status: &active})
	s.ErrorIs(err, domain.ErrPreconditionFailed)
	_, err = s.store.ConditionalUpdate(ctx, "missing", domain.Condition{}, domain.Patch{Status: &active})
	s.ErrorIs(err, domain.ErrNotFound)
}

func (s *DuelStoreSuite) TestSlotWritesDoNotOverwriteEachOther() {
	ctx := context.Background()
	d := s.waiting("d1", "alice", 0)
	d.Status = domain.StatusActive
	d.PlayerTwo.UserID = "bob"
	_, err := s.store.Insert(ctx, d)
	s.Require().NoError(err)

	cond := domain.InStatus(domain.StatusActive).AtRound(1)
	oneAnswer, oneMs := "Celtics", int64(800)
	_, err = s.store.ConditionalUpdate(ctx, "d1", cond, domain.Patch{PlayerOne: domain.SlotPatch{Answer: &oneAnswer, AnswerMs: &oneMs}})
	s.Require().NoError(err)
	twoAnswer, twoMs := "Bulls", int64(900)
	_, err = s.store.ConditionalUpdate(ctx, "d1", cond, domain.Patch{PlayerTwo: domain.SlotPatch{Answer: &twoAnswer, AnswerMs: &twoMs}})
	s.Require().NoError(err)

	got, err := s.store.Get(ctx, "d1")
	s.Require().NoError(err)
	s.Equal("Celtics", got.PlayerOne.Answer)
	s.Equal("Bulls", got.PlayerTwo.Answer)

	round := 2
	score := 1
	cleared, err := s.store.ConditionalUpdate(ctx, "d1", cond, domain.Patch{
		CurrentRound: &round,
		ClearRound:   true,
		QuestionIDs:  []string{"nba-01", "nba-02", "nba-03", "nba-04"},
		PlayerOne:    domain.SlotPatch{Score: &score},
	})
	s.Require().NoError(err)
	s.Equal(2, cleared.CurrentRound)
	s.Empty(cleared.PlayerOne.Answer)
	s.Nil(cleared.PlayerOne.AnswerMs)
	s.Nil(cleared.PlayerTwo.AnswerMs)
	s.Nil(cleared.RoundStartedAt)
	s.Equal(1, cleared.PlayerOne.Score)
	s.Len(cleared.QuestionIDs, 4)
}

func (s *DuelStoreSuite) TestSlotGuardsRejectSecondWrite() {
	ctx := context.Background()
	d := s.waiting("d1", "alice", 0)
	d.Status = domain.StatusActive
	d.PlayerTwo.UserID = "bob"
	_, err := s.store.Insert(ctx, d)
	s.Require().NoError(err)

	cond := domain.InStatus(domain.StatusActive).AtRound(1).Unanswered(domain.PlayerOne)
	first, firstMs := "Celtics", int64(800)
	_, err = s.store.ConditionalUpdate(ctx, "d1", cond, domain.Patch{PlayerOne: domain.SlotPatch{Answer: &first, AnswerMs: &firstMs}})
	s.Require().NoError(err)
	second, secondMs := "Bulls", int64(100)
	_, err = s.store.ConditionalUpdate(ctx, "d1", cond, domain.Patch{PlayerOne: domain.SlotPatch{Answer: &second, AnswerMs: &secondMs}})
	s.ErrorIs(err, domain.ErrPreconditionFailed)

	// the other slot is still open
	_, err = s.store.ConditionalUpdate(ctx, "d1", cond.Unanswered(domain.PlayerTwo), domain.Patch{PlayerTwo: domain.SlotPatch{Answer: &second, AnswerMs: &secondMs}})
	s.Require().NoError(err)

	got, err := s.store.Get(ctx, "d1")
	s.Require().NoError(err)
	s.Equal("Celtics", got.PlayerOne.Answer)
	s.Require().NotNil(got.PlayerOne.AnswerMs)
	s.Equal(int64(800), *got.PlayerOne.AnswerMs)

	async := s.waiting("d2", "carol", 0)
	async.Mode = domain.ModeAsync
	async.Status = domain.StatusWaitingForP2
	async.PlayerTwo.UserID = "dave"
	_, err = s.store.Insert(ctx, async)
	s.Require().NoError(err)

	pending := domain.InStatus(domain.StatusWaitingForP2).PassPending(domain.PlayerTwo)
	score, done := 2, s.base.Add(time.Minute)
	_, err = s.store.ConditionalUpdate(ctx, "d2", pending, domain.Patch{PlayerTwo: domain.SlotPatch{Score: &score, CompletedAt: &done}})
	s.Require().NoError(err)
	retry := 3
	_, err = s.store.ConditionalUpdate(ctx, "d2", pending, domain.Patch{PlayerTwo: domain.SlotPatch{Score: &retry, CompletedAt: &done}})
	s.ErrorIs(err, domain.ErrPreconditionFailed)

	got, err = s.store.Get(ctx, "d2")
	s.Require().NoError(err)
	s.Equal(2, got.PlayerTwo.Score)
}

func (s *DuelStoreSuite) TestConcurrentJoinIsAtMostOnce() {
	ctx := context.Background()
	_, err := s.store.Insert(ctx, s.waiting("d1", "alice", 0))
	s.Require().NoError(err)

	active := domain.StatusActive
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for _, user := range []string{"bob", "carol", "dave", "erin"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			_, err := s.store.ConditionalUpdate(ctx, "d1",
				domain.Condition{Statuses: []domain.DuelStatus{domain.StatusWaiting}, OpenSeat: true},
				domain.Patch{Status: &active, PlayerTwo: domain.SlotPatch{UserID: &user}})
			if err == nil {
				mu.Lock()
				winners = append(winners, user)
				mu.Unlock()
			}
		}(user)
	}
	wg.Wait()

	s.Require().Len(winners, 1)
	got, err := s.store.Get(ctx, "d1")
	s.Require().NoError(err)
	s.Equal(winners[0], got.PlayerTwo.UserID)
}

func (s *DuelStoreSuite) TestQueries() {
	ctx := context.Background()
	for _, d := range []domain.Duel{
		s.waiting("newer", "bob", 2*time.Minute),
		s.waiting("older", "carol", time.Minute),
		s.waiting("mine", "alice", 0),
	} {
		_, err := s.store.Insert(ctx, d)
		s.Require().NoError(err)
	}
	five := s.waiting("five", "dave", 0)
	five.QuestionCount = 5
	_, err := s.store.Insert(ctx, five)
	s.Require().NoError(err)

	waiting, err := s.store.QueryWaiting(ctx, "nba", 3, "alice")
	s.Require().NoError(err)
	s.Require().Len(waiting, 2)
	s.Equal("older", waiting[0].ID)
	s.Equal("newer", waiting[1].ID)

	listed, err := s.store.ListForPlayer(ctx, "bob", s.base.Add(time.Minute))
	s.Require().NoError(err)
	s.Require().Len(listed, 1)
	s.Equal("newer", listed[0].ID)

	stale, err := s.store.ListStale(ctx, s.base.Add(90*time.Second))
	s.Require().NoError(err)
	s.Len(stale, 3)
}

func (s *DuelStoreSuite) TestConditionalDelete() {
	ctx := context.Background()
	d := s.waiting("d1", "alice", 0)
	d.InviteCode = "XYZ789"
	_, err := s.store.Insert(ctx, d)
	s.Require().NoError(err)

	s.ErrorIs(s.store.Delete(ctx, "d1", domain.InStatus(domain.StatusActive)), domain.ErrPreconditionFailed)
	s.Require().NoError(s.store.Delete(ctx, "d1", domain.InStatus(domain.StatusWaiting)))
	s.ErrorIs(s.store.Delete(ctx, "d1", domain.Condition{}), domain.ErrNotFound)

	_, err = s.store.GetByInviteCode(ctx, "XYZ789")
	s.ErrorIs(err, domain.ErrNotFound)
}

func TestDuelStoreSuite(t *testing.T) {
	suite.Run(t, new(DuelStoreSuite))
}
