package app

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"trivia-duel-service/internal/domain"
	"trivia-duel-service/internal/scoring"
)

// AdvanceRequest carries the outcome of the current round as agreed by the caller.
type AdvanceRequest struct {
	// ExpectedRound pins the round the caller observed; 0 means the round read by the service.
	ExpectedRound    int
	NextQuestionID   string
	PlayerOneCorrect bool
	PlayerTwoCorrect bool
	PlayerOneMs      int64
	PlayerTwoMs      int64
}

// SubmitAnswer records the caller's answer for the current round in the caller's own slot.
func (s *DuelService) SubmitAnswer(ctx context.Context, duelID, callerID, answer string, elapsedMs int64) (domain.Duel, error) {
	return s.guard(ctx, duelID, callerID, participant, func(d domain.Duel, pos domain.Position) (change, error) {
		if d.Status != domain.StatusActive {
			return change{}, fmt.Errorf("duel is %s: %w", d.Status, domain.ErrPreconditionFailed)
		}
		if d.Slot(pos).Answered() {
			return change{}, fmt.Errorf("answer already recorded for round %d: %w", d.CurrentRound, domain.ErrPreconditionFailed)
		}
		c := change{cond: domain.InStatus(domain.StatusActive).AtRound(d.CurrentRound).Unanswered(pos)}
		slot := c.patch.Slot(pos)
		slot.Answer = ptr(answer)
		slot.AnswerMs = ptr(max(elapsedMs, 0))
		return c, nil
	})
}

// AdvanceRound scores the current round and either moves to the next round or, on the final
// round, completes the duel. The write is conditioned on the round so a round is never applied
// twice.
func (s *DuelService) AdvanceRound(ctx context.Context, duelID, callerID string, req AdvanceRequest) (domain.Duel, error) {
	updated, err := s.guard(ctx, duelID, callerID, participant, func(d domain.Duel, _ domain.Position) (change, error) {
		if d.Status != domain.StatusActive {
			return change{}, fmt.Errorf("duel is %s: %w", d.Status, domain.ErrPreconditionFailed)
		}
		round := d.CurrentRound
		if req.ExpectedRound > 0 && req.ExpectedRound != round {
			return change{}, fmt.Errorf("round %d already advanced to %d: %w", req.ExpectedRound, round, domain.ErrPreconditionFailed)
		}
		return change{cond: domain.InStatus(domain.StatusActive).AtRound(round), patch: s.advancePatch(d, req)}, nil
	})
	if err != nil {
		return domain.Duel{}, err
	}
	if updated.Status == domain.StatusCompleted {
		s.log.WithFields(logrus.Fields{"duel_id": updated.ID, "winner": updated.WinnerID}).Info("duel completed")
		s.notifyCompleted(ctx, updated)
	}
	return updated, nil
}

func (s *DuelService) advancePatch(d domain.Duel, req AdvanceRequest) domain.Patch {
	oneScore, twoScore := d.PlayerOne.Score, d.PlayerTwo.Score
	if req.PlayerOneCorrect {
		oneScore++
	}
	if req.PlayerTwoCorrect {
		twoScore++
	}

	var p domain.Patch
	p.PlayerOne.Score = ptr(oneScore)
	p.PlayerOne.TotalMs = ptr(d.PlayerOne.TotalMs + max(req.PlayerOneMs, 0))
	p.PlayerTwo.Score = ptr(twoScore)
	p.PlayerTwo.TotalMs = ptr(d.PlayerTwo.TotalMs + max(req.PlayerTwoMs, 0))

	if !d.IsFinalRound() {
		ids := d.QuestionIDs
		if req.NextQuestionID != "" && !slices.Contains(ids, req.NextQuestionID) {
			ids = append(slices.Clone(ids), req.NextQuestionID)
		}
		now := s.now()
		p.QuestionIDs = ids
		p.CurrentRound = ptr(d.CurrentRound + 1)
		p.ClearRound = true
		p.RoundStartedAt = &now
		return p
	}

	var winner domain.Position
	if d.QuestionCount == 1 {
		winner = scoring.RoundWinner(
			scoring.Attempt{Correct: req.PlayerOneCorrect, ElapsedMs: req.PlayerOneMs},
			scoring.Attempt{Correct: req.PlayerTwoCorrect, ElapsedMs: req.PlayerTwoMs},
		)
	} else {
		winner = scoring.SeriesWinner(oneScore, twoScore)
	}
	p.Status = ptr(domain.StatusCompleted)
	p.WinnerID = ptr(scoring.WinnerID(d, winner))
	return p
}

// FinishRound scores the current round on the server once both answers are in: correctness comes
// from the catalog, the next question is chosen just in time when the sequence is still short, and
// the result is applied through AdvanceRound.
func (s *DuelService) FinishRound(ctx context.Context, duelID, callerID string) (domain.Duel, error) {
	d, err := s.store.Get(ctx, duelID)
	if err != nil {
		return domain.Duel{}, err
	}
	if _, err := authorize(d, callerID, participant); err != nil {
		return domain.Duel{}, err
	}
	if d.Status != domain.StatusActive {
		return domain.Duel{}, fmt.Errorf("duel is %s: %w", d.Status, domain.ErrPreconditionFailed)
	}
	if !d.PlayerOne.Answered() || !d.PlayerTwo.Answered() {
		return domain.Duel{}, fmt.Errorf("round %d still waiting for answers: %w", d.CurrentRound, domain.ErrPreconditionFailed)
	}

	catalog, err := s.catalog.Questions(ctx, d.Sport)
	if err != nil {
		return domain.Duel{}, fmt.Errorf("load catalog %s: %w", d.Sport, err)
	}
	questionID, ok := d.CurrentQuestionID()
	if !ok {
		return domain.Duel{}, fmt.Errorf("round %d has no question: %w", d.CurrentRound, domain.ErrQuestionNotFound)
	}
	idx := slices.IndexFunc(catalog, func(q domain.Question) bool { return q.ID == questionID })
	if idx < 0 {
		return domain.Duel{}, fmt.Errorf("question %s: %w", questionID, domain.ErrQuestionNotFound)
	}
	question := catalog[idx]

	req := AdvanceRequest{
		ExpectedRound:    d.CurrentRound,
		PlayerOneCorrect: scoring.IsCorrect(question, d.PlayerOne.Answer),
		PlayerTwoCorrect: scoring.IsCorrect(question, d.PlayerTwo.Answer),
		PlayerOneMs:      *d.PlayerOne.AnswerMs,
		PlayerTwoMs:      *d.PlayerTwo.AnswerMs,
	}
	if !d.IsFinalRound() && len(d.QuestionIDs) <= d.CurrentRound {
		if next, ok := s.selector.SelectOne(d.Sport, catalog, d.QuestionIDs); ok {
			req.NextQuestionID = next
		}
	}
	return s.AdvanceRound(ctx, duelID, callerID, req)
}

// SubmitAsyncResult records the caller's finished async pass. When both passes are in, the duel is
// completed by whichever caller commits the final transition first.
func (s *DuelService) SubmitAsyncResult(ctx context.Context, duelID, callerID string, score int, totalMs int64) (domain.Duel, error) {
	var position domain.Position
	updated, err := s.guard(ctx, duelID, callerID, participant, func(d domain.Duel, pos domain.Position) (change, error) {
		if d.Status != domain.StatusWaitingForP2 {
			return change{}, fmt.Errorf("duel is %s: %w", d.Status, domain.ErrPreconditionFailed)
		}
		slot := d.Slot(pos)
		if slot.CompletedAt != nil {
			return change{}, fmt.Errorf("pass already submitted: %w", domain.ErrPreconditionFailed)
		}
		if score < slot.Score || score > d.QuestionCount || totalMs < slot.TotalMs {
			return change{}, fmt.Errorf("score %d/%d time %d out of range: %w", score, d.QuestionCount, totalMs, domain.ErrPreconditionFailed)
		}
		position = pos
		now := s.now()
		c := change{cond: domain.InStatus(domain.StatusWaitingForP2).PassPending(pos)}
		sp := c.patch.Slot(pos)
		sp.Score = ptr(score)
		sp.TotalMs = ptr(totalMs)
		sp.CompletedAt = &now
		return c, nil
	})
	if err != nil {
		return domain.Duel{}, err
	}

	if updated.PlayerOne.CompletedAt == nil || updated.PlayerTwo.CompletedAt == nil {
		s.notifyTurn(ctx, updated.Slot(position.Opponent()).UserID, updated.ID)
		return updated, nil
	}
	return s.finalizeAsync(ctx, updated)
}

func (s *DuelService) finalizeAsync(ctx context.Context, d domain.Duel) (domain.Duel, error) {
	var winner domain.Position
	if d.QuestionCount == 1 {
		winner = scoring.RoundWinner(
			scoring.Attempt{Correct: d.PlayerOne.Score > 0, ElapsedMs: d.PlayerOne.TotalMs},
			scoring.Attempt{Correct: d.PlayerTwo.Score > 0, ElapsedMs: d.PlayerTwo.TotalMs},
		)
	} else {
		winner = scoring.SeriesWinner(d.PlayerOne.Score, d.PlayerTwo.Score)
	}
	patch := domain.Patch{Status: ptr(domain.StatusCompleted), WinnerID: ptr(scoring.WinnerID(d, winner))}

	completed, err := s.store.ConditionalUpdate(ctx, d.ID, domain.InStatus(domain.StatusWaitingForP2), patch)
	if errors.Is(err, domain.ErrPreconditionFailed) {
		// the other player's request finalised first
		return s.store.Get(ctx, d.ID)
	}
	if err != nil {
		return domain.Duel{}, err
	}
	s.publishDuel(ctx, completed, patch.Fields())
	s.log.WithFields(logrus.Fields{"duel_id": completed.ID, "winner": completed.WinnerID}).Info("async duel completed")
	s.notifyCompleted(ctx, completed)
	return completed, nil
}

// Forfeit ends an open duel early. The opponent wins once they joined; a duel nobody joined yet
// ends without a winner. A named invitee who has not joined declines instead.
func (s *DuelService) Forfeit(ctx context.Context, duelID, forfeitingID string) (domain.Duel, error) {
	var preJoin bool
	updated, err := s.guard(ctx, duelID, forfeitingID, participant, func(d domain.Duel, pos domain.Position) (change, error) {
		if d.Expired(s.now(), s.inviteTTL) {
			return change{}, domain.ErrExpired
		}
		if d.Status.Terminal() {
			return change{}, fmt.Errorf("duel is %s: %w", d.Status, domain.ErrPreconditionFailed)
		}
		preJoin = d.Status.PreJoin()
		if preJoin && pos != domain.PlayerOne {
			return change{}, fmt.Errorf("invitee has not joined: %w", domain.ErrUnauthorized)
		}
		// pinned to the status read so a join committing first voids the write
		c := change{cond: domain.InStatus(d.Status)}
		c.patch.Status = ptr(domain.StatusCompleted)
		if preJoin {
			c.patch.WinnerID = ptr("")
		} else {
			c.patch.WinnerID = ptr(d.Slot(pos.Opponent()).UserID)
		}
		c.patch.Slot(pos).Answer = ptr(domain.ForfeitAnswer)
		return c, nil
	})
	if err != nil {
		return domain.Duel{}, err
	}
	s.log.WithFields(logrus.Fields{"duel_id": updated.ID, "user_id": forfeitingID}).Info("duel forfeited")
	if preJoin || s.notifier == nil {
		return updated, nil
	}
	if opponent := updated.Slot(updated.PositionOf(forfeitingID).Opponent()).UserID; opponent != "" {
		if err := s.notifier.NotifyComplete(ctx, opponent, updated.ID, updated.ResultFor(opponent)); err != nil {
			s.log.WithError(err).WithField("duel_id", updated.ID).Warn("forfeit notification failed")
		}
	}
	return updated, nil
}

// Cancel deletes a duel nobody joined yet. Only the creator may cancel, and only before a join
// commits; once the duel is active the request is unauthorized.
func (s *DuelService) Cancel(ctx context.Context, duelID, callerID string) error {
	_, err := s.guard(ctx, duelID, callerID, creator, func(d domain.Duel, _ domain.Position) (change, error) {
		if !d.Status.PreJoin() {
			return change{}, fmt.Errorf("cannot cancel a %s duel: %w", d.Status, domain.ErrUnauthorized)
		}
		return change{cond: domain.InStatus(domain.StatusWaiting, domain.StatusInvite), delete: true}, nil
	})
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"duel_id": duelID, "user_id": callerID}).Info("duel cancelled")
	return nil
}

// Decline rejects an invitation addressed to the caller. The creator is told on a best-effort
// basis; a failed notification does not undo the decline.
func (s *DuelService) Decline(ctx context.Context, duelID, callerID, reason string) (domain.Duel, error) {
	updated, err := s.guard(ctx, duelID, callerID, invitee, func(d domain.Duel, _ domain.Position) (change, error) {
		if d.Expired(s.now(), s.inviteTTL) {
			return change{}, domain.ErrExpired
		}
		if !d.Status.PreJoin() {
			return change{}, fmt.Errorf("cannot decline a %s duel: %w", d.Status, domain.ErrPreconditionFailed)
		}
		if d.PlayerTwo.UserID != callerID {
			return change{}, fmt.Errorf("no invitation addressed to %s: %w", callerID, domain.ErrUnauthorized)
		}
		return change{
			cond:  domain.InStatus(domain.StatusInvite, domain.StatusWaiting),
			patch: domain.Patch{Status: ptr(domain.StatusDeclined)},
		}, nil
	})
	if err != nil {
		return domain.Duel{}, err
	}
	log := s.log.WithFields(logrus.Fields{"duel_id": updated.ID, "user_id": callerID, "reason": reason})
	log.Info("duel declined")
	if s.notifier != nil {
		if err := s.notifier.NotifyComplete(ctx, updated.PlayerOne.UserID, updated.ID, domain.ResultDeclined); err != nil {
			log.WithError(err).Warn("decline notification failed")
		}
	}
	return updated, nil
}

// MarkResultSeen flags that player one looked at the result. It is the only write a completed duel
// accepts.
func (s *DuelService) MarkResultSeen(ctx context.Context, duelID, callerID string) (domain.Duel, error) {
	return s.guard(ctx, duelID, callerID, creator, func(d domain.Duel, _ domain.Position) (change, error) {
		if d.Status != domain.StatusCompleted {
			return change{}, fmt.Errorf("duel is %s: %w", d.Status, domain.ErrPreconditionFailed)
		}
		return change{
			cond:  domain.InStatus(domain.StatusCompleted),
			patch: domain.Patch{ResultSeen: ptr(true)},
		}, nil
	})
}
