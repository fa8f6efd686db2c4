package testutil

import (
	"database/sql"
	"fmt"
	"io"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"trivia-duel-service/internal/domain"
	"trivia-duel-service/internal/infra/sqldb"
)

// NewTestDB creates an in-memory SQLite database with the duel schema applied.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:?_busy_timeout=5000")
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	require.NoError(t, sqldb.EnsureSchema(db), "failed to apply schema")
	return db
}

// MustClose closes a resource and fails the test on error.
func MustClose(t *testing.T, closer interface{ Close() error }) {
	require.NoError(t, closer.Close())
}

// QuietLogger returns a logger that discards output.
func QuietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// Questions builds n questions for sport spread over four categories and four teams. Every
// question's correct answer is "right".
func Questions(sport string, n int) []domain.Question {
	categories := []string{"history", "players", "records", "finals"}
	teams := []string{"alpha", "bravo", "charlie", "delta"}
	questions := make([]domain.Question, 0, n)
	for i := 0; i < n; i++ {
		questions = append(questions, domain.Question{
			ID:       fmt.Sprintf("%s-%02d", sport, i),
			Sport:    sport,
			Prompt:   fmt.Sprintf("%s question %d", sport, i),
			Options:  []string{"right", "wrong"},
			Answer:   "right",
			Category: categories[i%len(categories)],
			Team:     teams[(i/len(categories)+i)%len(teams)],
		})
	}
	return questions
}
