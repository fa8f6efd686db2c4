package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"trivia-duel-service/internal/domain"
)

// QuestionLoader loads a sport's catalog from the questions table, one JSONB document per row.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

func (l *QuestionLoader) LoadQuestions(ctx context.Context, sport string) ([]domain.Question, error) {
	rows, err := l.pool.Query(ctx, `SELECT id, data FROM questions WHERE sport=$1 ORDER BY id`, sport)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		var q domain.Question
		if err := json.Unmarshal(raw, &q); err != nil {
			return nil, fmt.Errorf("unmarshal question %s: %w", id, err)
		}
		q.ID, q.Sport = id, sport
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("sport %s: %w", sport, domain.ErrNotFound)
	}
	return questions, nil
}

// SaveQuestions upserts a sport's catalog.
func (l *QuestionLoader) SaveQuestions(ctx context.Context, sport string, questions []domain.Question) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, q := range questions {
		q.Sport = sport
		raw, err := json.Marshal(q)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO questions (id, sport, data) VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO UPDATE SET sport = EXCLUDED.sport, data = EXCLUDED.data`,
			q.ID, sport, raw); err != nil {
			return fmt.Errorf("save question %s: %w", q.ID, err)
		}
	}
	return tx.Commit(ctx)
}
