// Package selector picks trivia questions for duels, steering away from repeats and from
// back-to-back questions about the same category or team.
package selector

import (
	"cmp"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"trivia-duel-service/internal/domain"
)

const (
	baseScore       = 100.0
	categoryPenalty = 50.0
	teamPenalty     = 50.0
	seenPenalty     = 30.0
	jitterRange     = 20.0
	shortlistSize   = 5
)

// session is the per-sport memory of the process. It is never persisted.
type session struct {
	seen         map[string]struct{} // penalised until the pool runs dry
	used         map[string]struct{} // the duel being assembled
	lastCategory string
	lastTeam     string
}

func newSession() *session {
	return &session{
		seen: make(map[string]struct{}),
		used: make(map[string]struct{}),
	}
}

// Selector is safe for concurrent use.
type Selector struct {
	mu       sync.Mutex
	rnd      *rand.Rand
	log      logrus.FieldLogger
	sessions map[string]*session
}

// New builds a selector. A nil rnd is seeded from the clock.
func New(rnd *rand.Rand, log logrus.FieldLogger) *Selector {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Selector{
		rnd:      rnd,
		log:      log.WithField("component", "selector"),
		sessions: make(map[string]*session),
	}
}

// SelectQuestions returns count question IDs for a new duel. Every ID is distinct as long as the
// catalog holds at least count questions. An empty catalog yields an empty slice.
func (s *Selector) SelectQuestions(sport string, catalog []domain.Question, count int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sessionLocked(sport)
	clear(sess.used)

	picked := make([]string, 0, max(count, 0))
	for len(picked) < count {
		id, ok := s.selectLocked(sess, sport, catalog, picked, count > 1)
		if !ok {
			break
		}
		picked = append(picked, id)
	}
	return picked
}

// SelectOne picks a single question that is not in exclude. When the last excluded ID is a catalog
// question it is treated as the preceding question for the diversity penalties, which lets callers
// extend an existing duel sequence one question at a time.
func (s *Selector) SelectOne(sport string, catalog []domain.Question, exclude []string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectLocked(s.sessionLocked(sport), sport, catalog, exclude, true)
}

// Reset forgets everything remembered for sport.
func (s *Selector) Reset(sport string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sport)
}

func (s *Selector) sessionLocked(sport string) *session {
	sess, ok := s.sessions[sport]
	if !ok {
		sess = newSession()
		s.sessions[sport] = sess
	}
	return sess
}

func (s *Selector) selectLocked(sess *session, sport string, catalog []domain.Question, exclude []string, diverse bool) (string, bool) {
	if len(catalog) == 0 {
		return "", false
	}
	excluded := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	pool := filter(catalog, func(q domain.Question) bool {
		return !has(excluded, q.ID) && !has(sess.used, q.ID)
	})
	if len(pool) == 0 {
		clear(sess.seen)
		pool = filter(catalog, func(q domain.Question) bool { return !has(sess.used, q.ID) })
	}
	if len(pool) == 0 {
		s.log.WithFields(logrus.Fields{"sport": sport, "catalog": len(catalog)}).
			Warn("question pool exhausted, repeating a question in the same duel")
		pool = catalog
	}

	var chosen domain.Question
	if diverse {
		chosen = s.pickDiverse(sess, catalog, exclude, pool)
	} else {
		chosen = pool[s.rnd.Intn(len(pool))]
	}

	sess.seen[chosen.ID] = struct{}{}
	sess.used[chosen.ID] = struct{}{}
	sess.lastCategory = chosen.Category
	sess.lastTeam = chosen.Team
	return chosen.ID, true
}

type candidate struct {
	question domain.Question
	penalty  float64
	score    float64
}

func (s *Selector) pickDiverse(sess *session, catalog []domain.Question, exclude []string, pool []domain.Question) domain.Question {
	prevCategory, prevTeam := sess.lastCategory, sess.lastTeam
	if len(exclude) > 0 {
		if idx := slices.IndexFunc(catalog, func(q domain.Question) bool { return q.ID == exclude[len(exclude)-1] }); idx >= 0 {
			prevCategory, prevTeam = catalog[idx].Category, catalog[idx].Team
		}
	}

	candidates := make([]candidate, 0, len(pool))
	for _, q := range pool {
		var penalty float64
		if prevCategory != "" && q.Category == prevCategory {
			penalty += categoryPenalty
		}
		if prevTeam != "" && q.Team == prevTeam {
			penalty += teamPenalty
		}
		if has(sess.seen, q.ID) {
			penalty += seenPenalty
		}
		score := baseScore - penalty + s.rnd.Float64()*jitterRange
		candidates = append(candidates, candidate{question: q, penalty: penalty, score: score})
	}

	// the shortlist never mixes penalty tiers, so a clash is only picked when nothing else is left
	best := slices.MinFunc(candidates, func(a, b candidate) int { return cmp.Compare(a.penalty, b.penalty) }).penalty
	candidates = slices.DeleteFunc(candidates, func(c candidate) bool { return c.penalty > best })
	slices.SortFunc(candidates, func(a, b candidate) int { return cmp.Compare(b.score, a.score) })

	top := min(shortlistSize, len(candidates))
	return candidates[s.rnd.Intn(top)].question
}

func filter(catalog []domain.Question, keep func(domain.Question) bool) []domain.Question {
	out := make([]domain.Question, 0, len(catalog))
	for _, q := range catalog {
		if keep(q) {
			out = append(out, q)
		}
	}
	return out
}

func has(set map[string]struct{}, id string) bool {
	_, ok := set[id]
	return ok
}
