package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"trivia-duel-service/internal/domain"
)

// QuestionLoader fetches the catalog of a sport from a backing store (e.g., Postgres).
type QuestionLoader interface {
	LoadQuestions(ctx context.Context, sport string) ([]domain.Question, error)
}

// QuestionCatalog caches sport catalogs in Redis and falls back to a loader on cache miss, so
// every instance behind the load balancer shares one copy.
// A catalog is stored as: SET trivia:questions:{sport} <JSON array> EX ttl+jitter
type QuestionCatalog struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuestionCatalog(client *redis.Client, loader QuestionLoader, ttl time.Duration) *QuestionCatalog {
	return &QuestionCatalog{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuestionCatalog) Questions(ctx context.Context, sport string) ([]domain.Question, error) {
	if questions, ok := c.cached(ctx, sport); ok {
		return questions, nil
	}

	result, err, _ := c.sf.Do(sport, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if questions, ok := c.cached(ctx, sport); ok {
			return questions, nil
		}

		questions, err := c.loader.LoadQuestions(ctx, sport)
		if err != nil {
			return nil, err
		}
		if payload, err := json.Marshal(questions); err == nil {
			// a failed write only costs another load
			_ = c.client.Set(ctx, catalogKey(sport), payload, c.ttlWithJitter()).Err()
		}
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

// Invalidate drops the cached catalog of sport.
func (c *QuestionCatalog) Invalidate(ctx context.Context, sport string) error {
	return c.client.Del(ctx, catalogKey(sport)).Err()
}

func (c *QuestionCatalog) cached(ctx context.Context, sport string) ([]domain.Question, bool) {
	// redis.Nil and transport errors both fall through to the loader
	raw, err := c.client.Get(ctx, catalogKey(sport)).Bytes()
	if err != nil {
		return nil, false
	}
	var questions []domain.Question
	if err := json.Unmarshal(raw, &questions); err != nil || len(questions) == 0 {
		return nil, false
	}
	return questions, true
}

func catalogKey(sport string) string {
	return "trivia:questions:" + sport
}

func (c *QuestionCatalog) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
