package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"trivia-duel-service/internal/domain"
)

const (
	DefaultInviteTTL     = 24 * time.Hour
	DefaultListingWindow = 48 * time.Hour
	DefaultCodeAttempts  = 5
)

// Options tunes a DuelService. Zero values fall back to the defaults above.
type Options struct {
	InviteTTL     time.Duration
	ListingWindow time.Duration
	CodeAttempts  int
	Log           logrus.FieldLogger
	Now           func() time.Time
	Rand          *rand.Rand
	NewID         func() string
}

// DuelService contains the duel use cases: matchmaking, the lifecycle state machine and reads.
type DuelService struct {
	store    DuelStore
	bus      EventBus
	notifier Notifier
	catalog  QuestionCatalog
	selector QuestionSelector

	inviteTTL     time.Duration
	listingWindow time.Duration
	codeAttempts  int
	log           logrus.FieldLogger
	now           func() time.Time
	newID         func() string

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewDuelService(store DuelStore, bus EventBus, notifier Notifier, catalog QuestionCatalog, selector QuestionSelector, opts Options) *DuelService {
	s := &DuelService{
		store:         store,
		bus:           bus,
		notifier:      notifier,
		catalog:       catalog,
		selector:      selector,
		inviteTTL:     opts.InviteTTL,
		listingWindow: opts.ListingWindow,
		codeAttempts:  opts.CodeAttempts,
		log:           opts.Log,
		now:           opts.Now,
		newID:         opts.NewID,
		rnd:           opts.Rand,
	}
	if s.inviteTTL <= 0 {
		s.inviteTTL = DefaultInviteTTL
	}
	if s.listingWindow <= 0 {
		s.listingWindow = DefaultListingWindow
	}
	if s.codeAttempts <= 0 {
		s.codeAttempts = DefaultCodeAttempts
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.rnd == nil {
		s.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return s
}

// access is the authorization rule of a guarded operation.
type access int

const (
	// participant: caller holds either slot.
	participant access = iota
	// creator: caller is player one.
	creator
	// invitee: caller is not player one and player two is either empty or the caller.
	invitee
)

// change is what a guarded operation wants to commit.
type change struct {
	cond   domain.Condition
	patch  domain.Patch
	delete bool
}

// mutation inspects the freshly read duel and decides the conditional write.
type mutation func(d domain.Duel, pos domain.Position) (change, error)

// guard is the single authorization and commit path of every lifecycle write: it loads the duel,
// checks the caller against rule, lets m build a conditional change and publishes a DuelUpdated
// event once the store accepted it.
func (s *DuelService) guard(ctx context.Context, duelID, callerID string, rule access, m mutation) (domain.Duel, error) {
	d, err := s.store.Get(ctx, duelID)
	if err != nil {
		return domain.Duel{}, err
	}
	pos, err := authorize(d, callerID, rule)
	if err != nil {
		return domain.Duel{}, err
	}
	c, err := m(d, pos)
	if err != nil {
		return domain.Duel{}, err
	}

	if c.delete {
		if err := s.store.Delete(ctx, duelID, c.cond); err != nil {
			return domain.Duel{}, err
		}
		s.publish(ctx, domain.DuelEvent{DuelID: duelID, Fields: []string{"deleted"}, Status: d.Status, Round: d.CurrentRound, Deleted: true})
		return d, nil
	}

	updated, err := s.store.ConditionalUpdate(ctx, duelID, c.cond, c.patch)
	if err != nil {
		return domain.Duel{}, err
	}
	s.publishDuel(ctx, updated, c.patch.Fields())
	return updated, nil
}

func authorize(d domain.Duel, callerID string, rule access) (domain.Position, error) {
	if callerID == "" {
		return domain.NoPosition, domain.ErrUnauthorized
	}
	pos := d.PositionOf(callerID)
	switch rule {
	case creator:
		if pos != domain.PlayerOne {
			return domain.NoPosition, domain.ErrUnauthorized
		}
	case invitee:
		if pos == domain.PlayerOne {
			return domain.NoPosition, domain.ErrOwnDuel
		}
		if d.HasOpponent() && pos != domain.PlayerTwo {
			if d.Status.PreJoin() {
				// a friend invite addressed to someone else
				return domain.NoPosition, domain.ErrUnauthorized
			}
			return domain.NoPosition, domain.ErrAlreadyJoined
		}
		pos = domain.PlayerTwo
	default:
		if pos == domain.NoPosition {
			return domain.NoPosition, domain.ErrUnauthorized
		}
	}
	return pos, nil
}

func (s *DuelService) publishDuel(ctx context.Context, d domain.Duel, fields []string) {
	s.publish(ctx, domain.DuelEvent{DuelID: d.ID, Fields: fields, Status: d.Status, Round: d.CurrentRound})
}

func (s *DuelService) publish(ctx context.Context, event domain.DuelEvent) {
	if s.bus == nil {
		return
	}
	if event.At.IsZero() {
		event.At = s.now()
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.log.WithError(err).WithField("duel_id", event.DuelID).Warn("publish duel event")
	}
}

// notifyCompleted tells both players the duel is over. Failures are logged only.
func (s *DuelService) notifyCompleted(ctx context.Context, d domain.Duel) {
	if s.notifier == nil {
		return
	}
	var g errgroup.Group
	for _, userID := range []string{d.PlayerOne.UserID, d.PlayerTwo.UserID} {
		if userID == "" {
			continue
		}
		g.Go(func() error {
			if err := s.notifier.NotifyComplete(ctx, userID, d.ID, d.ResultFor(userID)); err != nil {
				return fmt.Errorf("notify %s: %w", userID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.log.WithError(err).WithField("duel_id", d.ID).Warn("completion notification failed")
	}
}

func (s *DuelService) notifyTurn(ctx context.Context, recipientID, duelID string) {
	if s.notifier == nil || recipientID == "" {
		return
	}
	if err := s.notifier.NotifyTurn(ctx, recipientID, duelID); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"duel_id": duelID, "user_id": recipientID}).Warn("turn notification failed")
	}
}

// pickQuestions loads the sport catalog and selects count questions for a new duel.
func (s *DuelService) pickQuestions(ctx context.Context, sport string, count int) ([]string, error) {
	catalog, err := s.catalog.Questions(ctx, sport)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrContentExhausted
		}
		return nil, fmt.Errorf("load catalog %s: %w", sport, err)
	}
	if len(catalog) == 0 {
		return nil, domain.ErrContentExhausted
	}
	return s.selector.SelectQuestions(sport, catalog, count), nil
}

func (s *DuelService) newDuel(sport, creatorID string, count int, mode domain.DuelMode, status domain.DuelStatus, questions []string) domain.Duel {
	now := s.now()
	return domain.Duel{
		ID:            s.newID(),
		Sport:         sport,
		Mode:          mode,
		PlayerOne:     domain.PlayerSlot{UserID: creatorID},
		QuestionIDs:   questions,
		QuestionCount: count,
		CurrentRound:  1,
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func ptr[T any](v T) *T {
	return &v
}
