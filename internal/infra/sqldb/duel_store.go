// Package sqldb stores duels in a relational database through database/sql. The same store runs on
// SQLite (local development, tests) and PostgreSQL; a Dialect captures the differences.
package sqldb

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/driver/pgdriver"

	"trivia-duel-service/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// Dialect describes how a database engine differs for the duel store.
type Dialect struct {
	Name              string
	Placeholder       squirrel.PlaceholderFormat
	IsUniqueViolation func(error) bool
}

var (
	SQLite = Dialect{
		Name:              "sqlite3",
		Placeholder:       squirrel.Question,
		IsUniqueViolation: sqliteUniqueViolation,
	}
	Postgres = Dialect{
		Name:              "postgres",
		Placeholder:       squirrel.Dollar,
		IsUniqueViolation: postgresUniqueViolation,
	}
)

func sqliteUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func postgresUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Field('C') == "23505"
}

// Open connects to the database named by driver ("sqlite3" or "postgres") and returns the matching
// dialect.
func Open(driver, dsn string) (*sql.DB, Dialect, error) {
	switch driver {
	case "sqlite", "sqlite3":
		db, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, Dialect{}, err
		}
		// SQLite allows a single writer
		db.SetMaxOpenConns(1)
		return db, SQLite, nil
	case "postgres", "postgresql":
		return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn))), Postgres, nil
	default:
		return nil, Dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// EnsureSchema creates the duels table and its indexes if they do not exist yet.
func EnsureSchema(db *sql.DB) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if stmt = strings.TrimSpace(stmt); stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

var duelColumns = []string{
	"id", "sport", "mode", "invite_code", "status", "question_ids", "question_count", "current_round",
	"round_started_at", "winner_id", "result_seen",
	"p1_user_id", "p1_answer", "p1_answer_ms", "p1_score", "p1_total_ms", "p1_completed_at",
	"p2_user_id", "p2_answer", "p2_answer_ms", "p2_score", "p2_total_ms", "p2_completed_at",
	"created_at", "updated_at",
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DuelStore implements app.DuelStore on database/sql. Conditional writes are single UPDATE or
// DELETE statements whose WHERE clause carries the condition, so the database decides races.
type DuelStore struct {
	db      *sql.DB
	dialect Dialect
	sb      squirrel.StatementBuilderType
	now     func() time.Time
}

func NewDuelStore(db *sql.DB, dialect Dialect) *DuelStore {
	return &DuelStore{
		db:      db,
		dialect: dialect,
		sb:      squirrel.StatementBuilder.PlaceholderFormat(dialect.Placeholder),
		now:     time.Now,
	}
}

func (s *DuelStore) Insert(ctx context.Context, d domain.Duel) (domain.Duel, error) {
	query, args, err := s.sb.Insert("duels").Columns(duelColumns...).Values(duelValues(d)...).ToSql()
	if err != nil {
		return domain.Duel{}, err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return domain.Duel{}, fmt.Errorf("insert duel %s: %w", d.ID, domain.ErrConflict)
		}
		return domain.Duel{}, fmt.Errorf("insert duel %s: %w", d.ID, err)
	}
	return s.Get(ctx, d.ID)
}

func (s *DuelStore) ConditionalUpdate(ctx context.Context, id string, cond domain.Condition, patch domain.Patch) (domain.Duel, error) {
	var updated domain.Duel
	err := s.tx(ctx, func(tx *sql.Tx) error {
		query, args, err := s.sb.Update("duels").
			SetMap(patchColumns(patch, s.now())).
			Where(conditionWhere(id, cond)).
			ToSql()
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update duel %s: %w", id, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return s.missOrStale(ctx, tx, id)
		}
		updated, err = s.get(ctx, tx, id)
		return err
	})
	if err != nil {
		return domain.Duel{}, err
	}
	return updated, nil
}

func (s *DuelStore) Get(ctx context.Context, id string) (domain.Duel, error) {
	return s.get(ctx, s.db, id)
}

func (s *DuelStore) GetByInviteCode(ctx context.Context, code string) (domain.Duel, error) {
	if code == "" {
		return domain.Duel{}, domain.ErrNotFound
	}
	return s.getWhere(ctx, s.db, squirrel.Eq{"invite_code": code})
}

func (s *DuelStore) QueryWaiting(ctx context.Context, sport string, questionCount int, excludeOwner string) ([]domain.Duel, error) {
	return s.list(ctx, s.sb.Select(duelColumns...).From("duels").
		Where(squirrel.Eq{"status": string(domain.StatusWaiting), "sport": sport, "question_count": questionCount}).
		Where(squirrel.NotEq{"p1_user_id": excludeOwner}).
		OrderBy("created_at ASC", "id ASC"))
}

func (s *DuelStore) ListForPlayer(ctx context.Context, userID string, since time.Time) ([]domain.Duel, error) {
	return s.list(ctx, s.sb.Select(duelColumns...).From("duels").
		Where(squirrel.Or{squirrel.Eq{"p1_user_id": userID}, squirrel.Eq{"p2_user_id": userID}}).
		Where(squirrel.GtOrEq{"created_at": since.UTC()}).
		OrderBy("created_at DESC", "id DESC"))
}

func (s *DuelStore) ListStale(ctx context.Context, before time.Time) ([]domain.Duel, error) {
	return s.list(ctx, s.sb.Select(duelColumns...).From("duels").
		Where(squirrel.Eq{"status": []string{string(domain.StatusWaiting), string(domain.StatusInvite)}}).
		Where(squirrel.Lt{"created_at": before.UTC()}).
		OrderBy("created_at ASC", "id ASC"))
}

func (s *DuelStore) Delete(ctx context.Context, id string, cond domain.Condition) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		query, args, err := s.sb.Delete("duels").Where(conditionWhere(id, cond)).ToSql()
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("delete duel %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return s.missOrStale(ctx, tx, id)
		}
		return nil
	})
}

// missOrStale explains why a conditional statement touched no row.
func (s *DuelStore) missOrStale(ctx context.Context, q querier, id string) error {
	query, args, err := s.sb.Select("COUNT(*)").From("duels").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	var n int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrPreconditionFailed
}

func (s *DuelStore) get(ctx context.Context, q querier, id string) (domain.Duel, error) {
	return s.getWhere(ctx, q, squirrel.Eq{"id": id})
}

func (s *DuelStore) getWhere(ctx context.Context, q querier, pred squirrel.Sqlizer) (domain.Duel, error) {
	query, args, err := s.sb.Select(duelColumns...).From("duels").Where(pred).ToSql()
	if err != nil {
		return domain.Duel{}, err
	}
	d, err := scanDuel(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Duel{}, domain.ErrNotFound
	}
	return d, err
}

func (s *DuelStore) list(ctx context.Context, builder squirrel.SelectBuilder) ([]domain.Duel, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var duels []domain.Duel
	for rows.Next() {
		d, err := scanDuel(rows)
		if err != nil {
			return nil, err
		}
		duels = append(duels, d)
	}
	return duels, rows.Err()
}

func (s *DuelStore) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func conditionWhere(id string, cond domain.Condition) squirrel.And {
	where := squirrel.And{squirrel.Eq{"id": id}}
	if len(cond.Statuses) > 0 {
		statuses := make([]string, 0, len(cond.Statuses))
		for _, st := range cond.Statuses {
			statuses = append(statuses, string(st))
		}
		where = append(where, squirrel.Eq{"status": statuses})
	}
	if cond.Round > 0 {
		where = append(where, squirrel.Eq{"current_round": cond.Round})
	}
	if cond.OpenSeat {
		where = append(where, squirrel.Eq{"p2_user_id": ""})
	}
	if cond.OpenAnswer != domain.NoPosition {
		where = append(where, squirrel.Eq{slotPrefix(cond.OpenAnswer) + "answer_ms": nil})
	}
	if cond.OpenPass != domain.NoPosition {
		where = append(where, squirrel.Eq{slotPrefix(cond.OpenPass) + "completed_at": nil})
	}
	return where
}

func slotPrefix(pos domain.Position) string {
	if pos == domain.PlayerTwo {
		return "p2_"
	}
	return "p1_"
}

// patchColumns translates a patch into column writes. ClearRound is applied first so explicit
// writes in the same patch win.
func patchColumns(p domain.Patch, now time.Time) map[string]any {
	cols := map[string]any{"updated_at": now.UTC()}
	if p.ClearRound {
		cols["p1_answer"], cols["p1_answer_ms"] = "", nil
		cols["p2_answer"], cols["p2_answer_ms"] = "", nil
		cols["round_started_at"] = nil
	}
	if p.Status != nil {
		cols["status"] = string(*p.Status)
	}
	if p.QuestionIDs != nil {
		cols["question_ids"] = joinIDs(p.QuestionIDs)
	}
	if p.CurrentRound != nil {
		cols["current_round"] = *p.CurrentRound
	}
	if p.RoundStartedAt != nil {
		cols["round_started_at"] = p.RoundStartedAt.UTC()
	}
	if p.WinnerID != nil {
		cols["winner_id"] = *p.WinnerID
	}
	if p.ResultSeen != nil {
		cols["result_seen"] = *p.ResultSeen
	}
	slotColumns(cols, "p1_", p.PlayerOne)
	slotColumns(cols, "p2_", p.PlayerTwo)
	return cols
}

func slotColumns(cols map[string]any, prefix string, p domain.SlotPatch) {
	if p.UserID != nil {
		cols[prefix+"user_id"] = *p.UserID
	}
	if p.Answer != nil {
		cols[prefix+"answer"] = *p.Answer
	}
	if p.AnswerMs != nil {
		cols[prefix+"answer_ms"] = *p.AnswerMs
	}
	if p.Score != nil {
		cols[prefix+"score"] = *p.Score
	}
	if p.TotalMs != nil {
		cols[prefix+"total_ms"] = *p.TotalMs
	}
	if p.CompletedAt != nil {
		cols[prefix+"completed_at"] = p.CompletedAt.UTC()
	}
}

func duelValues(d domain.Duel) []any {
	values := []any{
		d.ID, d.Sport, string(d.Mode), d.InviteCode, string(d.Status), joinIDs(d.QuestionIDs), d.QuestionCount, d.CurrentRound,
		nullTime(d.RoundStartedAt), d.WinnerID, d.ResultSeen,
	}
	values = append(values, slotValues(d.PlayerOne)...)
	values = append(values, slotValues(d.PlayerTwo)...)
	return append(values, d.CreatedAt.UTC(), d.UpdatedAt.UTC())
}

func slotValues(s domain.PlayerSlot) []any {
	var answerMs any
	if s.AnswerMs != nil {
		answerMs = *s.AnswerMs
	}
	return []any{s.UserID, s.Answer, answerMs, s.Score, s.TotalMs, nullTime(s.CompletedAt)}
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

type rowScanner interface {
	Scan(dest ...any) error
}

type slotRow struct {
	userID      string
	answer      string
	answerMs    sql.NullInt64
	score       int
	totalMs     int64
	completedAt sql.NullTime
}

func (r *slotRow) targets() []any {
	return []any{&r.userID, &r.answer, &r.answerMs, &r.score, &r.totalMs, &r.completedAt}
}

func (r *slotRow) slot() domain.PlayerSlot {
	s := domain.PlayerSlot{UserID: r.userID, Answer: r.answer, Score: r.score, TotalMs: r.totalMs}
	if r.answerMs.Valid {
		v := r.answerMs.Int64
		s.AnswerMs = &v
	}
	s.CompletedAt = timePtr(r.completedAt)
	return s
}

func scanDuel(row rowScanner) (domain.Duel, error) {
	var (
		d                    domain.Duel
		mode, status, ids    string
		roundStartedAt       sql.NullTime
		playerOne, playerTwo slotRow
	)
	dest := []any{
		&d.ID, &d.Sport, &mode, &d.InviteCode, &status, &ids, &d.QuestionCount, &d.CurrentRound,
		&roundStartedAt, &d.WinnerID, &d.ResultSeen,
	}
	dest = append(dest, playerOne.targets()...)
	dest = append(dest, playerTwo.targets()...)
	dest = append(dest, &d.CreatedAt, &d.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return domain.Duel{}, err
	}

	d.Mode = domain.DuelMode(mode)
	d.Status = domain.DuelStatus(status)
	d.QuestionIDs = splitIDs(ids)
	d.RoundStartedAt = timePtr(roundStartedAt)
	d.PlayerOne = playerOne.slot()
	d.PlayerTwo = playerTwo.slot()
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return d, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// Question IDs never contain commas, so the sequence is kept in a single text column.
func joinIDs(ids []string) string {
	return strings.Join(ids, ",")
}

func splitIDs(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}
