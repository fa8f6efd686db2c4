package memory

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"trivia-duel-service/internal/domain"
)

// QuestionLoader fetches the catalog of a sport from a backing store (e.g., Postgres or a file).
type QuestionLoader interface {
	LoadQuestions(ctx context.Context, sport string) ([]domain.Question, error)
}

// QuestionCatalog caches sport catalogs with TTL to avoid repeated loads.
type QuestionCatalog struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedCatalog
}

type cachedCatalog struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionCatalog(loader QuestionLoader, ttl time.Duration) *QuestionCatalog {
	return &QuestionCatalog{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedCatalog),
	}
}

func (c *QuestionCatalog) Questions(ctx context.Context, sport string) ([]domain.Question, error) {
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.cache[sport]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return entry.questions, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do(sport, func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if entry, ok := c.cache[sport]; ok && entry.expiresAt.After(now) {
			c.mu.RUnlock()
			return entry.questions, nil
		}
		c.mu.RUnlock()

		questions, err := c.loader.LoadQuestions(ctx, sport)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.cache[sport] = cachedCatalog{
			questions: questions,
			expiresAt: now.Add(c.ttlWithJitterLocked()),
		}
		c.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

// add up to 10% jitter to spread expirations
func (c *QuestionCatalog) ttlWithJitterLocked() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// StaticQuestionLoader is a loader backed by an in-memory map keyed by sport (useful for tests/demos).
type StaticQuestionLoader struct {
	catalogs map[string][]domain.Question
}

func NewStaticQuestionLoader(catalogs map[string][]domain.Question) *StaticQuestionLoader {
	return &StaticQuestionLoader{catalogs: catalogs}
}

func (l *StaticQuestionLoader) LoadQuestions(_ context.Context, sport string) ([]domain.Question, error) {
	if questions, ok := l.catalogs[sport]; ok {
		return questions, nil
	}
	return nil, domain.ErrNotFound
}

// Sports lists the sports the loader has questions for, sorted.
func (l *StaticQuestionLoader) Sports() []string {
	sports := make([]string, 0, len(l.catalogs))
	for sport := range l.catalogs {
		sports = append(sports, sport)
	}
	sort.Strings(sports)
	return sports
}

// catalogFile is the YAML layout of a question file:
//
//	sports:
//	  nba:
//	    - id: nba-1
//	      prompt: ...
type catalogFile struct {
	Sports map[string][]domain.Question `yaml:"sports"`
}

// LoadQuestionFile reads a YAML question file into a static loader.
func LoadQuestionFile(path string) (*StaticQuestionLoader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse question file %s: %w", path, err)
	}
	for sport, questions := range file.Sports {
		for i := range questions {
			if questions[i].Sport == "" {
				questions[i].Sport = sport
			}
		}
	}
	return NewStaticQuestionLoader(file.Sports), nil
}
