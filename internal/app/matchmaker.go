package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"trivia-duel-service/internal/domain"
)

// inviteAlphabet leaves out glyphs that are easy to misread (0/O, 1/I/L).
const (
	inviteAlphabet   = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	inviteCodeLength = 6
)

// ChallengeRequest describes a duel against a known opponent.
type ChallengeRequest struct {
	Sport          string
	ChallengerID   string
	ChallengerName string
	OpponentID     string
	QuestionCount  int
	Mode           domain.DuelMode
}

// FindOrCreate joins the oldest compatible waiting duel or, when none can be joined, creates a new
// one owned by the requester and returns it straight away for the requester to wait on.
func (s *DuelService) FindOrCreate(ctx context.Context, sport, requesterID string, questionCount int) (domain.Duel, error) {
	if err := validateCreate(requesterID, questionCount); err != nil {
		return domain.Duel{}, err
	}
	log := s.log.WithFields(logrus.Fields{"sport": sport, "user_id": requesterID})

	candidates, err := s.store.QueryWaiting(ctx, sport, questionCount, requesterID)
	if err != nil {
		return domain.Duel{}, fmt.Errorf("query waiting duels: %w", err)
	}
	now := s.now()
	for _, candidate := range candidates {
		if candidate.Expired(now, s.inviteTTL) {
			continue
		}
		joined, err := s.join(ctx, candidate.ID, requesterID)
		switch {
		case err == nil:
			log.WithField("duel_id", joined.ID).Info("matched into waiting duel")
			return joined, nil
		case errors.Is(err, domain.ErrPreconditionFailed), errors.Is(err, domain.ErrAlreadyJoined),
			errors.Is(err, domain.ErrExpired), errors.Is(err, domain.ErrNotFound):
			// lost the race for this duel; the next candidate is a different duel
			log.WithField("duel_id", candidate.ID).Debug("waiting duel taken, trying next")
		default:
			return domain.Duel{}, err
		}
	}

	questions, err := s.pickQuestions(ctx, sport, questionCount)
	if err != nil {
		return domain.Duel{}, err
	}
	duel, err := s.store.Insert(ctx, s.newDuel(sport, requesterID, questionCount, domain.ModeLive, domain.StatusWaiting, questions))
	if err != nil {
		return domain.Duel{}, fmt.Errorf("create waiting duel: %w", err)
	}
	s.publishDuel(ctx, duel, []string{"status"})
	log.WithField("duel_id", duel.ID).Info("created waiting duel")
	return duel, nil
}

// CreateInvite creates a duel joinable through a generated invite code. Code collisions are
// retried a bounded number of times before failing with domain.ErrConflict.
func (s *DuelService) CreateInvite(ctx context.Context, sport, creatorID string, questionCount int) (domain.Duel, error) {
	if err := validateCreate(creatorID, questionCount); err != nil {
		return domain.Duel{}, err
	}
	questions, err := s.pickQuestions(ctx, sport, questionCount)
	if err != nil {
		return domain.Duel{}, err
	}
	base := s.newDuel(sport, creatorID, questionCount, domain.ModeLive, domain.StatusInvite, questions)

	for attempt := 1; attempt <= s.codeAttempts; attempt++ {
		candidate := base
		candidate.InviteCode = s.inviteCode()
		duel, err := s.store.Insert(ctx, candidate)
		if err == nil {
			s.publishDuel(ctx, duel, []string{"status"})
			return duel, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return domain.Duel{}, fmt.Errorf("create invite duel: %w", err)
		}
		s.log.WithFields(logrus.Fields{"attempt": attempt, "code": candidate.InviteCode}).Debug("invite code collision")
	}
	return domain.Duel{}, fmt.Errorf("no free invite code after %d attempts: %w", s.codeAttempts, domain.ErrConflict)
}

// ChallengeFriend creates a duel against a known opponent without touching the matchmaking pool.
// Live challenges wait in invite for the opponent to accept; async challenges start in
// waiting_for_p2 and both players play their pass whenever they like.
func (s *DuelService) ChallengeFriend(ctx context.Context, req ChallengeRequest) (domain.Duel, error) {
	if err := validateCreate(req.ChallengerID, req.QuestionCount); err != nil {
		return domain.Duel{}, err
	}
	if req.OpponentID == "" || req.OpponentID == req.ChallengerID {
		return domain.Duel{}, domain.ErrOwnDuel
	}
	status := domain.StatusInvite
	mode := domain.ModeLive
	if req.Mode == domain.ModeAsync {
		status, mode = domain.StatusWaitingForP2, domain.ModeAsync
	}

	questions, err := s.pickQuestions(ctx, req.Sport, req.QuestionCount)
	if err != nil {
		return domain.Duel{}, err
	}
	d := s.newDuel(req.Sport, req.ChallengerID, req.QuestionCount, mode, status, questions)
	d.PlayerTwo.UserID = req.OpponentID

	duel, err := s.store.Insert(ctx, d)
	if err != nil {
		return domain.Duel{}, fmt.Errorf("create challenge: %w", err)
	}
	s.publishDuel(ctx, duel, []string{"status"})

	if s.notifier != nil {
		if err := s.notifier.NotifyChallenge(ctx, req.OpponentID, duel.ID, req.ChallengerName); err != nil {
			s.log.WithError(err).WithField("duel_id", duel.ID).Warn("challenge notification failed")
		}
	}
	return duel, nil
}

// Join makes userID player two of a waiting or invite duel. Of two concurrent joins exactly one
// commits; the other reports domain.ErrAlreadyJoined or domain.ErrPreconditionFailed.
func (s *DuelService) Join(ctx context.Context, duelID, userID string) (domain.Duel, error) {
	return s.join(ctx, duelID, userID)
}

// JoinByCode resolves an invite code and joins the duel behind it.
func (s *DuelService) JoinByCode(ctx context.Context, code, userID string) (domain.Duel, error) {
	d, err := s.store.GetByInviteCode(ctx, normalizeCode(code))
	if err != nil {
		return domain.Duel{}, err
	}
	return s.join(ctx, d.ID, userID)
}

func (s *DuelService) join(ctx context.Context, duelID, userID string) (domain.Duel, error) {
	joined, err := s.guard(ctx, duelID, userID, invitee, func(d domain.Duel, _ domain.Position) (change, error) {
		if err := s.joinable(d); err != nil {
			return change{}, err
		}
		now := s.now()
		c := change{
			cond: domain.Condition{Statuses: []domain.DuelStatus{domain.StatusWaiting, domain.StatusInvite}, OpenSeat: !d.HasOpponent()},
			patch: domain.Patch{
				Status:         ptr(domain.StatusActive),
				CurrentRound:   ptr(1),
				RoundStartedAt: &now,
			},
		}
		c.patch.PlayerTwo.UserID = ptr(userID)
		return c, nil
	})
	if errors.Is(err, domain.ErrPreconditionFailed) {
		// report why the join lost, without retrying it
		if current, gerr := s.store.Get(ctx, duelID); gerr == nil {
			if _, aerr := authorize(current, userID, invitee); aerr != nil {
				return domain.Duel{}, aerr
			}
			if jerr := s.joinable(current); jerr != nil {
				return domain.Duel{}, jerr
			}
		}
		return domain.Duel{}, err
	}
	if err != nil {
		return domain.Duel{}, err
	}

	s.log.WithFields(logrus.Fields{"duel_id": joined.ID, "user_id": userID}).Info("player joined duel")
	s.notifyTurn(ctx, joined.PlayerOne.UserID, joined.ID)
	return joined, nil
}

func (s *DuelService) joinable(d domain.Duel) error {
	if d.Expired(s.now(), s.inviteTTL) {
		return domain.ErrExpired
	}
	if !d.Status.PreJoin() {
		return domain.ErrAlreadyJoined
	}
	return nil
}

func (s *DuelService) inviteCode() string {
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	var b strings.Builder
	for i := 0; i < inviteCodeLength; i++ {
		b.WriteByte(inviteAlphabet[s.rnd.Intn(len(inviteAlphabet))])
	}
	return b.String()
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func validateCreate(userID string, questionCount int) error {
	if userID == "" {
		return domain.ErrUnauthorized
	}
	if questionCount <= 0 {
		return domain.ErrInvalidQuestionCount
	}
	return nil
}
