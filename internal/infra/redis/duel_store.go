package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"trivia-duel-service/internal/domain"
)

// maxTxRetries bounds how often an optimistic transaction is replayed after a concurrent write
// touched one of its watched keys.
const maxTxRetries = 8

// DuelStore keeps duels in Redis. Layout:
//
//	trivia:duel:{id}                       JSON document of the duel
//	trivia:duel:code:{code}                invite code -> duel id
//	trivia:duels:waiting:{sport}:{count}   ZSET of waiting duels scored by creation time (ms)
//	trivia:duels:prejoin                   ZSET of waiting/invite duels scored by creation time
//	trivia:duels:player:{userID}           ZSET of a player's duels scored by creation time
//
// Conditional writes WATCH the duel key, check the condition and commit in MULTI/EXEC.
type DuelStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewDuelStore(client *redis.Client) *DuelStore {
	return &DuelStore{client: client, now: time.Now}
}

func (s *DuelStore) Insert(ctx context.Context, d domain.Duel) (domain.Duel, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return domain.Duel{}, err
	}
	keys := []string{duelKey(d.ID)}
	if d.InviteCode != "" {
		keys = append(keys, codeKey(d.InviteCode))
	}

	err = s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, keys...).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("insert duel %s: %w", d.ID, domain.ErrConflict)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, duelKey(d.ID), payload, 0)
			if d.InviteCode != "" {
				pipe.Set(ctx, codeKey(d.InviteCode), d.ID, 0)
			}
			index(ctx, pipe, d)
			return nil
		})
		return err
	}, keys...)
	if err != nil {
		return domain.Duel{}, err
	}
	return d, nil
}

func (s *DuelStore) ConditionalUpdate(ctx context.Context, id string, cond domain.Condition, patch domain.Patch) (domain.Duel, error) {
	var updated domain.Duel
	err := s.watch(ctx, func(tx *redis.Tx) error {
		current, err := load(ctx, tx, id)
		if err != nil {
			return err
		}
		if !cond.Matches(current) {
			return domain.ErrPreconditionFailed
		}
		next := patch.Apply(current, s.now())
		payload, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, duelKey(id), payload, 0)
			index(ctx, pipe, next)
			return nil
		})
		if err != nil {
			return err
		}
		updated = next
		return nil
	}, duelKey(id))
	if err != nil {
		return domain.Duel{}, err
	}
	return updated, nil
}

func (s *DuelStore) Get(ctx context.Context, id string) (domain.Duel, error) {
	return load(ctx, s.client, id)
}

func (s *DuelStore) GetByInviteCode(ctx context.Context, code string) (domain.Duel, error) {
	if code == "" {
		return domain.Duel{}, domain.ErrNotFound
	}
	id, err := s.client.Get(ctx, codeKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Duel{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Duel{}, err
	}
	return s.Get(ctx, id)
}

func (s *DuelStore) QueryWaiting(ctx context.Context, sport string, questionCount int, excludeOwner string) ([]domain.Duel, error) {
	ids, err := s.client.ZRange(ctx, waitingKey(sport, questionCount), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	duels, err := s.loadMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := duels[:0]
	for _, d := range duels {
		if d.Status == domain.StatusWaiting && d.PlayerOne.UserID != excludeOwner {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *DuelStore) ListForPlayer(ctx context.Context, userID string, since time.Time) ([]domain.Duel, error) {
	ids, err := s.client.ZRevRangeByScore(ctx, playerKey(userID), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	return s.loadMany(ctx, ids)
}

func (s *DuelStore) ListStale(ctx context.Context, before time.Time) ([]domain.Duel, error) {
	ids, err := s.client.ZRangeByScore(ctx, prejoinKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	duels, err := s.loadMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := duels[:0]
	for _, d := range duels {
		if d.Status.PreJoin() {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *DuelStore) Delete(ctx context.Context, id string, cond domain.Condition) error {
	return s.watch(ctx, func(tx *redis.Tx) error {
		current, err := load(ctx, tx, id)
		if err != nil {
			return err
		}
		if !cond.Matches(current) {
			return domain.ErrPreconditionFailed
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, duelKey(id))
			if current.InviteCode != "" {
				pipe.Del(ctx, codeKey(current.InviteCode))
			}
			pipe.ZRem(ctx, waitingKey(current.Sport, current.QuestionCount), id)
			pipe.ZRem(ctx, prejoinKey, id)
			for _, userID := range []string{current.PlayerOne.UserID, current.PlayerTwo.UserID} {
				if userID != "" {
					pipe.ZRem(ctx, playerKey(userID), id)
				}
			}
			return nil
		})
		return err
	}, duelKey(id))
}

// watch runs fn as an optimistic transaction over keys and replays it when EXEC aborts because a
// watched key changed. fn re-reads the state on every attempt, so a replay re-checks the condition.
func (s *DuelStore) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("transaction contention on %v: %w", keys, domain.ErrPreconditionFailed)
}

func (s *DuelStore) loadMany(ctx context.Context, ids []string) ([]domain.Duel, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = duelKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	duels := make([]domain.Duel, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// index entry outlived the duel
			continue
		}
		var d domain.Duel
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, err
		}
		duels = append(duels, d)
	}
	return duels, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func load(ctx context.Context, c getter, id string) (domain.Duel, error) {
	raw, err := c.Get(ctx, duelKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Duel{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Duel{}, err
	}
	var d domain.Duel
	if err := json.Unmarshal(raw, &d); err != nil {
		return domain.Duel{}, fmt.Errorf("decode duel %s: %w", id, err)
	}
	return d, nil
}

// index brings the sorted-set indexes in line with the duel's current state.
func index(ctx context.Context, pipe redis.Pipeliner, d domain.Duel) {
	member := redis.Z{Score: float64(d.CreatedAt.UnixMilli()), Member: d.ID}
	if d.Status == domain.StatusWaiting {
		pipe.ZAdd(ctx, waitingKey(d.Sport, d.QuestionCount), member)
	} else {
		pipe.ZRem(ctx, waitingKey(d.Sport, d.QuestionCount), d.ID)
	}
	if d.Status.PreJoin() {
		pipe.ZAdd(ctx, prejoinKey, member)
	} else {
		pipe.ZRem(ctx, prejoinKey, d.ID)
	}
	for _, userID := range []string{d.PlayerOne.UserID, d.PlayerTwo.UserID} {
		if userID != "" {
			pipe.ZAdd(ctx, playerKey(userID), member)
		}
	}
}

const prejoinKey = "trivia:duels:prejoin"

func duelKey(id string) string {
	return "trivia:duel:" + id
}

func codeKey(code string) string {
	return "trivia:duel:code:" + code
}

func waitingKey(sport string, count int) string {
	return "trivia:duels:waiting:" + sport + ":" + strconv.Itoa(count)
}

func playerKey(userID string) string {
	return "trivia:duels:player:" + userID
}
